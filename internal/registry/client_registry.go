// ABOUTME: Thread-safe registry of connected clients with broadcast capability
// ABOUTME: Mirrors the session's negotiated state so other sessions can be addressed by id
package registry

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/sendspin/sendspin-go/internal/audio"
	"github.com/sendspin/sendspin-go/internal/protocol"
)

// OutboundKind distinguishes the two payload shapes a session writer
// goroutine can receive off its send channel.
type OutboundKind int

const (
	OutboundText OutboundKind = iota
	OutboundBinary
)

// Outbound is one item handed to a client's writer goroutine.
type Outbound struct {
	Kind OutboundKind
	Text []byte
	Data []byte
}

// Client is a connected session as the registry sees it: enough state
// to negotiate, broadcast to, and report on, without owning the
// websocket connection itself (that stays with the session).
type Client struct {
	ID             string
	Name           string
	ActiveRoles    []string
	AudioFormat    *audio.Format
	GroupID        string
	Volume         int
	Muted          bool
	BufferCapacity int

	send chan Outbound
	mu   sync.RWMutex
}

// NewClient creates a client record with the given outbound queue. The
// queue capacity bounds how far a slow client can lag before sends to
// it start being dropped instead of blocking the broadcaster.
func NewClient(id, name string, sendBuf int) *Client {
	return &Client{
		ID:     id,
		Name:   name,
		Volume: 100,
		send:   make(chan Outbound, sendBuf),
	}
}

// Send returns the channel a session's writer goroutine should drain.
func (c *Client) Send() <-chan Outbound { return c.send }

// IsPlayer reports whether any active role belongs to the player family.
func (c *Client) IsPlayer() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.ActiveRoles {
		if strings.HasPrefix(r, "player@") {
			return true
		}
	}
	return false
}

// HasRole reports whether the client activated role, matching either
// the bare family name or any versioned form (role+"@...").
func (c *Client) HasRole(role string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.ActiveRoles {
		if r == role || strings.HasPrefix(r, role+"@") {
			return true
		}
	}
	return false
}

func (c *Client) setAudioFormat(f audio.Format) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AudioFormat = &f
}

func (c *Client) getAudioFormat() *audio.Format {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AudioFormat
}

func (c *Client) setVolume(volume int, muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Volume = volume
	c.Muted = muted
}

// sendNonBlocking drops the message if the client's outbound queue is
// full rather than stalling the registry-wide broadcast.
func (c *Client) sendNonBlocking(o Outbound) bool {
	select {
	case c.send <- o:
		return true
	default:
		return false
	}
}

// ClientRegistry is the shared, concurrency-safe set of connected clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client)}
}

// Add registers client under its id. Callers must check Get first if
// duplicate-id rejection is required; Add itself always succeeds,
// overwriting any prior entry with the same id.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ID] = c
	count := len(r.clients)
	r.mu.Unlock()
	log.Printf("registry: client %s added, total clients: %d", c.ID, count)
}

// Remove deletes a client by id, returning it if it was present.
func (r *ClientRegistry) Remove(id string) *Client {
	r.mu.Lock()
	c, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	count := len(r.clients)
	r.mu.Unlock()
	if ok {
		log.Printf("registry: client %s removed, total clients: %d", id, count)
	}
	return c
}

// Get returns a client by id.
func (r *ClientRegistry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Count returns the number of registered clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// IDs returns a snapshot of all registered client ids.
func (r *ClientRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}

// UpdateAudioFormat records the negotiated format for an existing client.
func (r *ClientRegistry) UpdateAudioFormat(id string, format audio.Format) {
	if c, ok := r.Get(id); ok {
		c.setAudioFormat(format)
	}
}

// AudioFormat returns a client's negotiated format, if any.
func (r *ClientRegistry) AudioFormat(id string) *audio.Format {
	if c, ok := r.Get(id); ok {
		return c.getAudioFormat()
	}
	return nil
}

// UpdateVolume records a client's self-reported volume/mute state.
func (r *ClientRegistry) UpdateVolume(id string, volume int, muted bool) {
	if c, ok := r.Get(id); ok {
		c.setVolume(volume, muted)
	}
}

// BroadcastAudio sends a binary audio chunk to every player client,
// dropping it for any client whose outbound queue is already full.
func (r *ClientRegistry) BroadcastAudio(data []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		if c.IsPlayer() {
			c.sendNonBlocking(Outbound{Kind: OutboundBinary, Data: data})
		}
	}
}

// BroadcastText sends a text frame to every registered client.
func (r *ClientRegistry) BroadcastText(data []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		c.sendNonBlocking(Outbound{Kind: OutboundText, Text: data})
	}
}

// SendToClient sends a text frame to one client, returning false if the
// client doesn't exist or its queue is full.
func (r *ClientRegistry) SendToClient(id string, data []byte) bool {
	c, ok := r.Get(id)
	if !ok {
		return false
	}
	return c.sendNonBlocking(Outbound{Kind: OutboundText, Text: data})
}

// BroadcastStreamClear sends stream/clear to every player client,
// instructing them to drop buffered audio without ending the stream.
func (r *ClientRegistry) BroadcastStreamClear(roles []string) error {
	data, err := marshalMessage(protocol.TagStreamClear, protocol.StreamClear{Roles: roles})
	if err != nil {
		return err
	}
	r.BroadcastToPlayers(data)
	return nil
}

// BroadcastStreamEnd sends stream/end to every player client.
func (r *ClientRegistry) BroadcastStreamEnd(roles []string) error {
	data, err := marshalMessage(protocol.TagStreamEnd, protocol.StreamEnd{Roles: roles})
	if err != nil {
		return err
	}
	r.BroadcastToPlayers(data)
	return nil
}

// BroadcastToPlayers sends a pre-marshaled text frame to player clients only.
func (r *ClientRegistry) BroadcastToPlayers(data []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.clients {
		if c.IsPlayer() {
			if c.sendNonBlocking(Outbound{Kind: OutboundText, Text: data}) {
				n++
			}
		}
	}
	log.Printf("registry: broadcast to %d player clients", n)
}

// SendPlayerCommand sends server/command with a player command to one
// client. The caller is responsible for checking the command is one
// the client actually advertised support for.
func (r *ClientRegistry) SendPlayerCommand(id, command string, volume *int, mute *bool) (bool, error) {
	data, err := marshalMessage(protocol.TagServerCommand, protocol.ServerCommand{
		Player: &protocol.PlayerCommand{Command: command, Volume: volume, Mute: mute},
	})
	if err != nil {
		return false, err
	}
	return r.SendToClient(id, data), nil
}

// BroadcastPlayerCommand sends server/command to every player client.
func (r *ClientRegistry) BroadcastPlayerCommand(command string, volume *int, mute *bool) error {
	data, err := marshalMessage(protocol.TagServerCommand, protocol.ServerCommand{
		Player: &protocol.PlayerCommand{Command: command, Volume: volume, Mute: mute},
	})
	if err != nil {
		return err
	}
	r.BroadcastToPlayers(data)
	return nil
}

// ForEach applies f to a snapshot of every client under the read lock.
func (r *ClientRegistry) ForEach(f func(*Client)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		f(c)
	}
}

func marshalMessage(tag string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(protocol.Message{Type: tag, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", tag, err)
	}
	return data, nil
}
