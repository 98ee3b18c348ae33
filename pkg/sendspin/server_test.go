package sendspin

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sendspin/sendspin-go/internal/audio"
	"github.com/sendspin/sendspin-go/internal/protocol"
)

func TestNewServerDefaults(t *testing.T) {
	tests := []struct {
		name   string
		config ServerConfig
	}{
		{name: "all defaults", config: ServerConfig{}},
		{name: "explicit port and name", config: ServerConfig{Port: 9100, Name: "Kitchen Server"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := NewServer(tt.config)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if srv.config.Port == 0 {
				t.Error("expected a non-zero default port")
			}
			if srv.config.Name == "" {
				t.Error("expected a non-empty default name")
			}
			if srv.config.Source == nil {
				t.Error("expected a default test-tone source")
			}
			if srv.config.WSPath == "" {
				t.Error("expected a default websocket path")
			}
		})
	}
}

func TestServerStartStop(t *testing.T) {
	srv, err := NewServer(ServerConfig{Port: 18929, Name: "Test Server", Source: audio.NewTestToneSource(48000, 2)})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start() }()

	time.Sleep(100 * time.Millisecond)
	srv.Stop()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("server error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop within timeout")
	}
}

func TestServerClientConnectionReceivesHandshake(t *testing.T) {
	srv, err := NewServer(ServerConfig{Port: 18930, Name: "Test Server", Source: audio.NewTestToneSource(48000, 2)})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start() }()
	defer srv.Stop()

	time.Sleep(200 * time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial("ws://localhost:18930/sendspin", nil)
	if err != nil {
		t.Fatalf("failed to connect to server: %v", err)
	}
	defer conn.Close()

	hello := protocol.Message{
		Type: protocol.TagClientHello,
		Payload: protocol.ClientHello{
			ClientID:       "test-client-1",
			Name:           "Test Client",
			Version:        1,
			SupportedRoles: []string{"player@v1"},
			PlayerV1Support: &protocol.PlayerV1Support{
				SupportedFormats: []protocol.AudioFormat{
					{Codec: "pcm", Channels: 2, SampleRate: 48000, BitDepth: 24},
				},
				BufferCapacity: 1048576,
			},
		},
	}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("failed to send hello: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read server/hello: %v", err)
	}
	if msg.Type != protocol.TagServerHello {
		t.Fatalf("expected server/hello, got %s", msg.Type)
	}

	helloData, _ := json.Marshal(msg.Payload)
	var serverHello protocol.ServerHello
	if err := json.Unmarshal(helloData, &serverHello); err != nil {
		t.Fatalf("failed to unmarshal server/hello: %v", err)
	}
	if serverHello.Name != "Test Server" {
		t.Errorf("expected server name %q, got %q", "Test Server", serverHello.Name)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read stream/start: %v", err)
	}
	if msg.Type != protocol.TagStreamStart {
		t.Fatalf("expected stream/start, got %s", msg.Type)
	}

	select {
	case err := <-errChan:
		t.Fatalf("server exited early: %v", err)
	default:
	}

	if len(srv.Clients()) != 1 {
		t.Errorf("expected 1 connected client, got %d", len(srv.Clients()))
	}
}

func TestServerStopDrainsSessionsWithinGraceWindow(t *testing.T) {
	srv, err := NewServer(ServerConfig{
		Port:            18932,
		Name:            "Test Server",
		Source:          audio.NewTestToneSource(48000, 2),
		ShutdownGraceMs: 300,
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start() }()
	time.Sleep(200 * time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial("ws://localhost:18932/sendspin", nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	hello := protocol.Message{
		Type: protocol.TagClientHello,
		Payload: protocol.ClientHello{
			ClientID:       "lingering-client",
			Name:           "Lingering",
			SupportedRoles: []string{"player@v1"},
		},
	}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("failed to send hello: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read server/hello: %v", err)
	}

	// The client never closes its own connection; Stop must force it
	// closed once the grace window elapses rather than hanging forever.
	srv.Stop()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("server error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not drain and stop within the grace window plus margin")
	}
}

func TestServerBroadcastsAudioToConnectedPlayer(t *testing.T) {
	srv, err := NewServer(ServerConfig{Port: 18931, Name: "Audio Server", Source: audio.NewTestToneSource(48000, 2)})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	go srv.Start()
	defer srv.Stop()
	time.Sleep(200 * time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial("ws://localhost:18931/sendspin", nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	hello := protocol.Message{
		Type: protocol.TagClientHello,
		Payload: protocol.ClientHello{
			ClientID:       "player-1",
			Name:           "Player",
			SupportedRoles: []string{"player@v1"},
		},
	}
	conn.WriteJSON(hello)

	// Drain text handshake messages until the first binary audio chunk.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for i := 0; i < 10; i++ {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed waiting for audio chunk: %v", err)
		}
		if msgType == websocket.BinaryMessage {
			if len(data) < 9 {
				t.Fatalf("expected chunk with at least a 9-byte header, got %d bytes", len(data))
			}
			if data[0] != 0x04 {
				t.Errorf("expected chunk type 0x04, got 0x%02x", data[0])
			}
			return
		}
	}
	t.Fatal("did not receive an audio chunk within 10 messages")
}
