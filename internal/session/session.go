// ABOUTME: Per-connection session state machine: handshake through teardown
// ABOUTME: Owns the websocket connection and dispatches protocol messages
package session

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sendspin/sendspin-go/internal/audio"
	"github.com/sendspin/sendspin-go/internal/clock"
	"github.com/sendspin/sendspin-go/internal/protocol"
	"github.com/sendspin/sendspin-go/internal/registry"
)

// Phase is where a session currently sits in its lifecycle.
type Phase int

const (
	AwaitingHello Phase = iota
	Negotiating
	Streaming
	Closing
	Terminated
)

const (
	helloTimeout  = 10 * time.Second
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second
	sendBufSize   = 100
)

// Deps bundles the shared collaborators a session needs: clock for
// timestamps, registries for visibility to the rest of the server, the
// source whose metadata goes into server/state, and the default format
// used for stream/start when the client advertises no formats.
type Deps struct {
	Clock       *clock.Clock
	Clients     *registry.ClientRegistry
	Groups      *registry.GroupRegistry
	ServerID    string
	ServerName  string
	Source      audio.Source
	DefaultFmt  audio.Format
	ProtocolVer int
	Debug       bool
}

// Session drives one client connection from client/hello to teardown.
type Session struct {
	conn *websocket.Conn
	deps Deps

	mu    sync.RWMutex
	phase Phase

	client *registry.Client
}

// New creates a session bound to an already-upgraded websocket connection.
func New(conn *websocket.Conn, deps Deps) *Session {
	return &Session{conn: conn, deps: deps, phase: AwaitingHello}
}

// Phase returns the session's current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Run drives the session to completion: handshake, negotiation, the
// message-read loop, then teardown. It blocks until the connection
// closes or the handshake fails, and always cleans up registry state
// before returning.
func (s *Session) Run() {
	defer s.conn.Close()

	hello, err := s.awaitHello()
	if err != nil {
		log.Printf("session: handshake failed: %v", err)
		return
	}

	s.setPhase(Negotiating)
	client, err := s.negotiate(hello)
	if err != nil {
		log.Printf("session: negotiation failed for %s: %v", hello.ClientID, err)
		s.sendError("duplicate_client_id", err.Error())
		return
	}
	s.client = client

	defer s.teardown()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop(done)
	}()

	s.setPhase(Streaming)
	s.readLoop()

	s.setPhase(Closing)
	close(done)
	wg.Wait()
}

// awaitHello blocks for client/hello, failing the connection if it
// doesn't arrive within helloTimeout. Ping/pong control frames don't
// consume the timeout; gorilla/websocket surfaces those via its pong
// handler rather than ReadMessage, so only data frames reach here.
func (s *Session) awaitHello() (protocol.ClientHello, error) {
	s.conn.SetReadDeadline(time.Now().Add(helloTimeout))
	defer s.conn.SetReadDeadline(time.Time{})

	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return protocol.ClientHello{}, fmt.Errorf("reading client/hello: %w", err)
	}

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return protocol.ClientHello{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if msg.Type != protocol.TagClientHello {
		return protocol.ClientHello{}, fmt.Errorf("expected %s, got %s", protocol.TagClientHello, msg.Type)
	}

	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return protocol.ClientHello{}, fmt.Errorf("marshal payload: %w", err)
	}
	var hello protocol.ClientHello
	if err := json.Unmarshal(payload, &hello); err != nil {
		return protocol.ClientHello{}, fmt.Errorf("unmarshal client/hello: %w", err)
	}
	if hello.ClientID == "" || hello.Name == "" {
		return protocol.ClientHello{}, fmt.Errorf("client/hello missing client_id or name")
	}
	return hello, nil
}

// negotiate registers the client, answers server/hello, and if the
// client activated the player role sends stream/start, server/state,
// and group/update. Duplicate client ids are rejected outright.
func (s *Session) negotiate(hello protocol.ClientHello) (*registry.Client, error) {
	if _, exists := s.deps.Clients.Get(hello.ClientID); exists {
		return nil, fmt.Errorf("client id %s already connected", hello.ClientID)
	}

	activeRoles := activateRoles(hello.SupportedRoles)

	client := registry.NewClient(hello.ClientID, hello.Name, sendBufSize)
	client.ActiveRoles = activeRoles
	if hello.PlayerV1Support != nil {
		client.BufferCapacity = hello.PlayerV1Support.BufferCapacity
	}
	s.deps.Clients.Add(client)
	s.deps.Groups.AddToGroup(hello.ClientID, registry.DefaultGroupID)

	if err := s.sendText(protocol.TagServerHello, protocol.ServerHello{
		ServerID:         s.deps.ServerID,
		Name:             s.deps.ServerName,
		Version:          s.deps.ProtocolVer,
		ActiveRoles:      activeRoles,
		ConnectionReason: "discovery",
	}); err != nil {
		s.deps.Clients.Remove(hello.ClientID)
		s.deps.Groups.RemoveClient(hello.ClientID)
		return nil, fmt.Errorf("sending server/hello: %w", err)
	}

	if client.HasRole("player") {
		format := negotiateAudioFormat(hello, s.deps.DefaultFmt)
		s.deps.Clients.UpdateAudioFormat(hello.ClientID, format)

		s.sendText(protocol.TagStreamStart, protocol.StreamStart{
			Player: &protocol.StreamStartPlayer{
				Codec:      string(format.Codec),
				SampleRate: format.SampleRate,
				Channels:   format.Channels,
				BitDepth:   format.BitDepth,
			},
		})

		title, artist, album := s.deps.Source.Metadata()
		s.sendText(protocol.TagServerState, protocol.ServerState{
			Metadata: &protocol.MetadataState{
				Timestamp: s.deps.Clock.NowMicros(),
				Title:     strPtr(title),
				Artist:    strPtr(artist),
				Album:     strPtr(album),
			},
		})

		groupID, _ := s.deps.Groups.ClientGroup(hello.ClientID)
		groupInfo, _ := s.deps.Groups.Group(groupID)
		state := groupInfo.PlaybackState.String()
		s.sendText(protocol.TagGroupUpdate, protocol.GroupUpdate{
			PlaybackState: &state,
			GroupID:       groupInfo.ID,
			GroupName:     groupInfo.Name,
		})
	}

	return client, nil
}

// readLoop consumes messages from the client until the connection
// closes, dispatching each to its handler.
func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("session: websocket error for %s: %v", s.client.ID, err)
			}
			return
		}
		s.handleMessage(data)
	}
}

func (s *Session) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("session: unmarshal error from %s: %v", s.client.ID, err)
		return
	}

	switch msg.Type {
	case protocol.TagClientTime:
		s.handleClientTime(msg.Payload)
	case protocol.TagClientState:
		s.handleClientState(msg.Payload)
	case protocol.TagClientGoodbye:
		s.handleClientGoodbye(msg.Payload)
	case protocol.TagStreamRequestFormat:
		log.Printf("session: %s requested a format change (not renegotiated mid-stream)", s.client.ID)
	default:
		if s.deps.Debug {
			log.Printf("session: unhandled message type %q from %s", msg.Type, s.client.ID)
		}
	}
}

func (s *Session) handleClientTime(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	var clientTime protocol.ClientTime
	if err := json.Unmarshal(data, &clientTime); err != nil {
		return
	}

	serverReceived := s.deps.Clock.NowMicros()
	serverTransmitted := s.deps.Clock.NowMicros()
	s.sendText(protocol.TagServerTime, protocol.ServerTime{
		ClientTransmitted: clientTime.ClientTransmitted,
		ServerReceived:    serverReceived,
		ServerTransmitted: serverTransmitted,
	})
}

func (s *Session) handleClientState(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	var state protocol.ClientState
	if err := json.Unmarshal(data, &state); err != nil {
		return
	}
	if state.Player == nil {
		return
	}
	// Volume and muted are only applied when both arrive together; a
	// lone volume or mute update is a no-op per the negotiated contract.
	if state.Player.Volume != nil && state.Player.Muted != nil {
		s.deps.Clients.UpdateVolume(s.client.ID, *state.Player.Volume, *state.Player.Muted)
	}
}

func (s *Session) handleClientGoodbye(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	var goodbye protocol.ClientGoodbye
	if err := json.Unmarshal(data, &goodbye); err != nil {
		return
	}
	log.Printf("session: %s said goodbye (%s)", s.client.ID, goodbye.Reason)
}

// writeLoop drains the client's outbound queue onto the websocket and
// keeps the connection alive with periodic pings, until done is closed
// or a write fails. Items still queued when done closes are discarded.
func (s *Session) writeLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case out, ok := <-s.client.Send():
			if !ok {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			var err error
			switch out.Kind {
			case registry.OutboundBinary:
				err = s.conn.WriteMessage(websocket.BinaryMessage, out.Data)
			default:
				err = s.conn.WriteMessage(websocket.TextMessage, out.Text)
			}
			if err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

func (s *Session) teardown() {
	s.deps.Clients.Remove(s.client.ID)
	s.deps.Groups.RemoveClient(s.client.ID)
	s.setPhase(Terminated)
	log.Printf("session: %s disconnected", s.client.ID)
}

func (s *Session) sendText(tag string, payload interface{}) error {
	data, err := json.Marshal(protocol.Message{Type: tag, Payload: payload})
	if err != nil {
		return err
	}
	if s.client != nil {
		s.deps.Clients.SendToClient(s.client.ID, data)
		return nil
	}
	// While negotiate runs, s.client is unset and the writer goroutine
	// isn't running yet, so handshake messages are written directly.
	s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) sendError(code, message string) {
	data, err := json.Marshal(protocol.Message{
		Type:    protocol.TagServerError,
		Payload: protocol.ServerError{Error: code, Message: message},
	})
	if err != nil {
		return
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	s.conn.WriteMessage(websocket.TextMessage, data)
}

// activateRoles keeps the first-seen version of each supported role
// family, normalizing the bare family name to its @v1 form.
func activateRoles(supportedRoles []string) []string {
	families := []string{"player", "controller", "metadata", "visualizer", "artwork"}
	activated := make(map[string]string)

	for _, role := range supportedRoles {
		family := role
		if idx := strings.Index(role, "@"); idx > 0 {
			family = role[:idx]
		}
		if _, exists := activated[family]; exists {
			continue
		}
		for _, known := range families {
			if family == known {
				if role == family {
					activated[family] = family + "@v1"
				} else {
					activated[family] = role
				}
				break
			}
		}
	}

	result := make([]string, 0, len(activated))
	for _, family := range families {
		if role, ok := activated[family]; ok {
			result = append(result, role)
		}
	}
	return result
}

// negotiateAudioFormat prefers the client's own PCM entry, falls back
// to its first advertised format (mapping unknown codec names to
// PCM), and otherwise uses the server's default.
func negotiateAudioFormat(hello protocol.ClientHello, defaultFmt audio.Format) audio.Format {
	if hello.PlayerV1Support == nil || len(hello.PlayerV1Support.SupportedFormats) == 0 {
		return defaultFmt
	}

	for _, f := range hello.PlayerV1Support.SupportedFormats {
		if f.Codec == string(audio.CodecPCM) {
			return audio.Format{
				Codec:      audio.CodecPCM,
				SampleRate: f.SampleRate,
				Channels:   f.Channels,
				BitDepth:   f.BitDepth,
			}
		}
	}

	first := hello.PlayerV1Support.SupportedFormats[0]
	return audio.Format{
		Codec:      audio.ParseCodec(first.Codec),
		SampleRate: first.SampleRate,
		Channels:   first.Channels,
		BitDepth:   first.BitDepth,
	}
}

func strPtr(s string) *string { return &s }
