// ABOUTME: High-level Server API wiring sessions, engine, and registries together
// ABOUTME: The main entry point most library users construct and call Start on
package sendspin

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sendspin/sendspin-go/internal/audio"
	"github.com/sendspin/sendspin-go/internal/clock"
	"github.com/sendspin/sendspin-go/internal/dashboard"
	"github.com/sendspin/sendspin-go/internal/discovery"
	"github.com/sendspin/sendspin-go/internal/engine"
	"github.com/sendspin/sendspin-go/internal/registry"
	"github.com/sendspin/sendspin-go/internal/session"
)

// ProtocolVersion is the version of the Sendspin protocol this server speaks.
const ProtocolVersion = 1

// Default audio format and chunk pacing, matching a typical LAN deployment.
const (
	DefaultSampleRate = 48000
	DefaultChannels   = 2
	DefaultBitDepth   = 24

	ChunkDurationMs = 20
	BufferAheadMs   = 500

	// DefaultShutdownGraceMs bounds how long Start waits for in-flight
	// sessions to finish on their own before forcing their connections
	// closed.
	DefaultShutdownGraceMs = 5000
)

// ServerConfig configures a Sendspin server.
type ServerConfig struct {
	// BindAddr is the network address to listen on, e.g. "" or "0.0.0.0"
	// for all interfaces. Combined with Port to form the listen address.
	BindAddr string

	// Port to listen on (default: 8927).
	Port int

	// Name identifies the server to clients and on the LAN.
	Name string

	// Source is the audio fed to the engine. Defaults to a 440Hz test
	// tone if nil.
	Source audio.Source

	// WSPath is the HTTP path the websocket endpoint is served on.
	WSPath string

	// ChunkIntervalMs is the audio chunk generation interval (default: 20ms).
	ChunkIntervalMs int

	// BufferAheadMs is how far into the future each chunk's playback
	// deadline is set (default: 500ms).
	BufferAheadMs int

	// ShutdownGraceMs bounds how long Start, once Stop is called, waits
	// for outstanding sessions to drain on their own before forcing their
	// connections closed (default: 5000ms).
	ShutdownGraceMs int

	// EnableMDNS advertises this server over mDNS.
	EnableMDNS bool

	// EnableDashboard runs the terminal status dashboard. Disable this
	// for headless or piped-output deployments.
	EnableDashboard bool

	// Debug enables verbose per-message logging.
	Debug bool
}

// Server is a running Sendspin streaming server: one HTTP listener
// accepting websocket sessions, one audio engine pacing chunks to
// every connected player, and the client/group registries both share.
type Server struct {
	config   ServerConfig
	serverID string

	clock   *clock.Clock
	clients *registry.ClientRegistry
	groups  *registry.GroupRegistry
	engine  *engine.Engine
	mdns    *discovery.Manager
	dash    *dashboard.Dashboard

	httpServer *http.Server
	upgrader   websocket.Upgrader

	engineCancel context.CancelFunc
	stopOnce     sync.Once
	stopChan     chan struct{}
	wg           sync.WaitGroup

	// sessionsWG and sessions track in-flight websocket sessions
	// separately from the engine/dashboard goroutines in wg, so Start
	// can drain them in their own bounded grace window before signaling
	// the engine to stop.
	sessionsWG sync.WaitGroup
	sessionsMu sync.Mutex
	sessions   map[*websocket.Conn]struct{}
}

// NewServer constructs a server from config, applying defaults for any
// zero-valued fields.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Port == 0 {
		config.Port = 8927
	}
	if config.Name == "" {
		config.Name = "Sendspin Server"
	}
	if config.WSPath == "" {
		config.WSPath = "/sendspin"
	}
	if config.Source == nil {
		config.Source = audio.NewTestToneSource(DefaultSampleRate, DefaultChannels)
	}
	if config.ChunkIntervalMs == 0 {
		config.ChunkIntervalMs = ChunkDurationMs
	}
	if config.BufferAheadMs == 0 {
		config.BufferAheadMs = BufferAheadMs
	}
	if config.ShutdownGraceMs == 0 {
		config.ShutdownGraceMs = DefaultShutdownGraceMs
	}

	clients := registry.NewClientRegistry()
	groups := registry.NewGroupRegistry()
	clk := clock.New()

	eng := engine.New(config.Source, clients, clk, engine.Config{
		ChunkIntervalMs: config.ChunkIntervalMs,
		BufferAheadMs:   config.BufferAheadMs,
	})

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		clock:    clk,
		clients:  clients,
		groups:   groups,
		engine:   eng,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		stopChan: make(chan struct{}),
		sessions: make(map[*websocket.Conn]struct{}),
	}

	if config.EnableDashboard {
		s.dash = dashboard.New()
	}

	return s, nil
}

// Start runs the server until Stop is called or the listener fails.
// It blocks the calling goroutine.
func (s *Server) Start() error {
	log.Printf("server: starting %s (id %s)", s.config.Name, s.serverID)
	log.Printf("server: audio source %dHz/%dch", s.config.Source.SampleRate(), s.config.Source.Channels())

	if s.config.EnableMDNS {
		s.mdns = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			WSPath:      s.config.WSPath,
		})
		if err := s.mdns.Advertise(); err != nil {
			log.Printf("server: mDNS advertisement failed: %v", err)
		}
	}

	engineCtx, cancel := context.WithCancel(context.Background())
	s.engineCancel = cancel
	s.engine.Start()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.engine.Run(engineCtx)
	}()

	if s.dash != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runDashboardUpdates(engineCtx)
		}()
		go func() {
			<-s.dash.QuitChan()
			s.Stop()
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.WSPath, s.handleWebSocket)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.config.BindAddr, s.config.Port),
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	log.Printf("server: listening on %s%s", s.httpServer.Addr, s.config.WSPath)

	if s.dash != nil {
		go func() {
			if err := s.dash.Start(s.config.Name, s.config.Port); err != nil {
				log.Printf("server: dashboard exited: %v", err)
			}
		}()
	}

	select {
	case <-s.stopChan:
		log.Printf("server: shutting down")
	case err := <-errChan:
		log.Printf("server: listener error: %v", err)
		return err
	}

	if s.mdns != nil {
		s.mdns.Stop()
	}

	// Stop accepting new connections. http.Server.Shutdown does not wait
	// on hijacked websocket connections, so this only closes the
	// listener; draining in-flight sessions is handled separately below.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("server: HTTP shutdown error: %v", err)
	}
	shutdownCancel()

	// Allow outstanding sessions to drain for a bounded grace window
	// before forcing their connections closed.
	grace := time.Duration(s.config.ShutdownGraceMs) * time.Millisecond
	drained := make(chan struct{})
	go func() {
		s.sessionsWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(grace):
		log.Printf("server: shutdown grace window elapsed, forcing remaining sessions closed")
		s.closeActiveSessions()
		<-drained
	}

	// Signal the engine to stop now that sessions have drained.
	s.engineCancel()

	if err := s.config.Source.Close(); err != nil {
		log.Printf("server: error closing audio source: %v", err)
	}

	s.wg.Wait()
	log.Printf("server: stopped cleanly")
	return nil
}

// closeActiveSessions forcibly closes every tracked websocket connection,
// unblocking each session's read loop so it can tear down.
func (s *Server) closeActiveSessions() {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	for conn := range s.sessions {
		conn.Close()
	}
}

// Stop signals the server to shut down; Start returns once cleanup
// finishes. Safe to call multiple times or concurrently.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// SetSource swaps the engine's audio source while the server is running.
func (s *Server) SetSource(source audio.Source) {
	s.engine.SetSource(source)
}

// Pause pauses audio generation without tearing down connections.
func (s *Server) Pause() { s.engine.Pause() }

// Resume resumes audio generation after Pause.
func (s *Server) Resume() { s.engine.Start() }

// ClientInfo summarizes one connected client for callers that want to
// inspect server state without reaching into the registries directly.
type ClientInfo struct {
	ID     string
	Name   string
	Roles  []string
	Group  string
	Volume int
	Muted  bool
}

// Clients returns a snapshot of all connected clients.
func (s *Server) Clients() []ClientInfo {
	var out []ClientInfo
	s.clients.ForEach(func(c *registry.Client) {
		groupID, _ := s.groups.ClientGroup(c.ID)
		out = append(out, ClientInfo{
			ID:     c.ID,
			Name:   c.Name,
			Roles:  c.ActiveRoles,
			Group:  groupID,
			Volume: c.Volume,
			Muted:  c.Muted,
		})
	})
	return out
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade error: %v", err)
		return
	}
	log.Printf("server: new connection from %s", r.RemoteAddr)

	s.sessionsMu.Lock()
	s.sessions[conn] = struct{}{}
	s.sessionsMu.Unlock()

	s.sessionsWG.Add(1)
	defer func() {
		s.sessionsMu.Lock()
		delete(s.sessions, conn)
		s.sessionsMu.Unlock()
		s.sessionsWG.Done()
	}()

	sess := session.New(conn, session.Deps{
		Clock:       s.clock,
		Clients:     s.clients,
		Groups:      s.groups,
		ServerID:    s.serverID,
		ServerName:  s.config.Name,
		Source:      s.config.Source,
		DefaultFmt:  audio.DefaultFormat(),
		ProtocolVer: ProtocolVersion,
		Debug:       s.config.Debug,
	})
	sess.Run()
}

func (s *Server) runDashboardUpdates(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.dash.Update(dashboard.Snapshot(s.config.Name, s.config.Port, s.engine, s.clients, s.groups, s.config.Source))
		case <-ctx.Done():
			return
		}
	}
}
