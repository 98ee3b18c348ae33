// ABOUTME: mDNS advertisement so Sendspin clients can find this server on the LAN
// ABOUTME: Server-side only; browsing for other servers is a client concern out of scope here
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service type this server advertises under.
const ServiceType = "_sendspin-server._tcp"

// Config controls what this server advertises.
type Config struct {
	ServiceName string
	Port        int
	WSPath      string
}

// Manager owns the lifetime of an mDNS advertisement.
type Manager struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a discovery manager for the given config.
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{config: config, ctx: ctx, cancel: cancel}
}

// Advertise starts broadcasting this server's presence until Stop is called.
func (m *Manager) Advertise() error {
	ips, err := localIPv4Addrs()
	if err != nil {
		return fmt.Errorf("resolve local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{fmt.Sprintf("path=%s", m.config.WSPath)},
	)
	if err != nil {
		return fmt.Errorf("build mdns service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("start mdns server: %w", err)
	}

	log.Printf("discovery: advertising %s on port %d (%s)", m.config.ServiceName, m.config.Port, ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Stop ends the advertisement.
func (m *Manager) Stop() {
	m.cancel()
}

func localIPv4Addrs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}

	return ips, nil
}
