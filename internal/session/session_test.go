package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sendspin/sendspin-go/internal/audio"
	"github.com/sendspin/sendspin-go/internal/clock"
	"github.com/sendspin/sendspin-go/internal/protocol"
	"github.com/sendspin/sendspin-go/internal/registry"
)

func newTestServer(t *testing.T) (*httptest.Server, Deps) {
	t.Helper()
	deps := Deps{
		Clock:       clock.New(),
		Clients:     registry.NewClientRegistry(),
		Groups:      registry.NewGroupRegistry(),
		ServerID:    "srv-1",
		ServerName:  "Test Server",
		Source:      audio.NewTestToneSource(48000, 2),
		DefaultFmt:  audio.DefaultFormat(),
		ProtocolVer: 1,
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		New(conn, deps).Run()
	})

	srv := httptest.NewServer(handler)
	return srv, deps
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return msg
}

func TestPlayerHandshakeSequence(t *testing.T) {
	srv, deps := newTestServer(t)
	defer srv.Close()
	conn := dial(t, srv)
	defer conn.Close()

	hello := protocol.Message{
		Type: protocol.TagClientHello,
		Payload: protocol.ClientHello{
			ClientID:       "client-1",
			Name:           "Kitchen",
			Version:        1,
			SupportedRoles: []string{"player@v1"},
			PlayerV1Support: &protocol.PlayerV1Support{
				SupportedFormats: []protocol.AudioFormat{
					{Codec: "pcm", Channels: 2, SampleRate: 48000, BitDepth: 24},
				},
			},
		},
	}
	data, _ := json.Marshal(hello)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	expectedTags := []string{
		protocol.TagServerHello,
		protocol.TagStreamStart,
		protocol.TagServerState,
		protocol.TagGroupUpdate,
	}
	for _, tag := range expectedTags {
		msg := readMessage(t, conn)
		if msg.Type != tag {
			t.Fatalf("expected %s, got %s", tag, msg.Type)
		}
		if tag == protocol.TagServerHello {
			payload, ok := msg.Payload.(map[string]interface{})
			if !ok {
				t.Fatalf("server/hello payload has unexpected shape: %#v", msg.Payload)
			}
			if reason := payload["connection_reason"]; reason != "discovery" {
				t.Fatalf("expected connection_reason %q, got %q", "discovery", reason)
			}
		}
	}

	time.Sleep(50 * time.Millisecond)
	if deps.Clients.Count() != 1 {
		t.Fatalf("expected 1 registered client, got %d", deps.Clients.Count())
	}

	conn.Close()
	time.Sleep(100 * time.Millisecond)
	if deps.Clients.Count() != 0 {
		t.Fatalf("expected client removed after disconnect, got %d", deps.Clients.Count())
	}
}

func TestDuplicateClientIDRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	hello := protocol.Message{
		Type: protocol.TagClientHello,
		Payload: protocol.ClientHello{
			ClientID:       "dup-1",
			Name:           "Kitchen",
			SupportedRoles: []string{"player@v1"},
		},
	}
	data, _ := json.Marshal(hello)

	conn1 := dial(t, srv)
	defer conn1.Close()
	conn1.WriteMessage(websocket.TextMessage, data)
	readMessage(t, conn1) // server/hello
	readMessage(t, conn1) // stream/start
	readMessage(t, conn1) // server/state
	readMessage(t, conn1) // group/update

	conn2 := dial(t, srv)
	defer conn2.Close()
	conn2.WriteMessage(websocket.TextMessage, data)
	msg := readMessage(t, conn2)
	if msg.Type != protocol.TagServerError {
		t.Fatalf("expected server/error for duplicate id, got %s", msg.Type)
	}
}

func TestClientTimeRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()
	conn := dial(t, srv)
	defer conn.Close()

	hello := protocol.Message{
		Type: protocol.TagClientHello,
		Payload: protocol.ClientHello{
			ClientID:       "client-time",
			Name:           "Office",
			SupportedRoles: []string{"controller@v1"},
		},
	}
	data, _ := json.Marshal(hello)
	conn.WriteMessage(websocket.TextMessage, data)
	readMessage(t, conn) // server/hello (controller doesn't get stream/start)

	timeMsg := protocol.Message{Type: protocol.TagClientTime, Payload: protocol.ClientTime{ClientTransmitted: 1234}}
	timeData, _ := json.Marshal(timeMsg)
	conn.WriteMessage(websocket.TextMessage, timeData)

	resp := readMessage(t, conn)
	if resp.Type != protocol.TagServerTime {
		t.Fatalf("expected server/time, got %s", resp.Type)
	}
}

func TestActivateRolesFirstMatchPerFamily(t *testing.T) {
	roles := activateRoles([]string{"player", "player@v2", "controller@v1"})
	hasPlayerV1 := false
	hasController := false
	for _, r := range roles {
		if r == "player@v1" {
			hasPlayerV1 = true
		}
		if r == "controller@v1" {
			hasController = true
		}
		if r == "player@v2" {
			t.Error("expected only the first player match to activate")
		}
	}
	if !hasPlayerV1 || !hasController {
		t.Errorf("expected player@v1 and controller@v1 activated, got %v", roles)
	}
}

func TestNegotiateAudioFormatPrefersClientPCM(t *testing.T) {
	hello := protocol.ClientHello{
		PlayerV1Support: &protocol.PlayerV1Support{
			SupportedFormats: []protocol.AudioFormat{
				{Codec: "opus", Channels: 2, SampleRate: 48000, BitDepth: 16},
				{Codec: "pcm", Channels: 2, SampleRate: 44100, BitDepth: 16},
			},
		},
	}
	format := negotiateAudioFormat(hello, audio.DefaultFormat())
	if format.Codec != audio.CodecPCM || format.SampleRate != 44100 {
		t.Errorf("expected pcm/44100, got %+v", format)
	}
}

func TestNegotiateAudioFormatFallsBackToDefault(t *testing.T) {
	def := audio.DefaultFormat()
	format := negotiateAudioFormat(protocol.ClientHello{}, def)
	if format.Codec != def.Codec || format.SampleRate != def.SampleRate || format.Channels != def.Channels || format.BitDepth != def.BitDepth {
		t.Errorf("expected default format, got %+v", format)
	}
}
