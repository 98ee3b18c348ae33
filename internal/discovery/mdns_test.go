package discovery

import "testing"

func TestNewManagerStoresConfig(t *testing.T) {
	cfg := Config{ServiceName: "Living Room", Port: 9000, WSPath: "/sendspin"}
	m := NewManager(cfg)
	if m.config != cfg {
		t.Errorf("expected config stored as-is, got %+v", m.config)
	}
}

func TestStopCancelsContextWithoutAdvertise(t *testing.T) {
	m := NewManager(Config{ServiceName: "x", Port: 1})
	m.Stop()
	select {
	case <-m.ctx.Done():
	default:
		t.Fatal("expected context cancelled after Stop")
	}
}

func TestLocalIPv4AddrsReturnsOnlyIPv4NonLoopback(t *testing.T) {
	ips, err := localIPv4Addrs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() {
			t.Errorf("expected no loopback addresses, got %v", ip)
		}
		if ip.To4() == nil {
			t.Errorf("expected only IPv4 addresses, got %v", ip)
		}
	}
}
