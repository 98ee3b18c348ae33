// ABOUTME: Audio engine generating and broadcasting timestamped chunks
// ABOUTME: Paces chunk production with a ticker and a future playback deadline
package engine

import (
	"context"
	"encoding/binary"
	"log"
	"sync"
	"time"

	"github.com/sendspin/sendspin-go/internal/audio"
	"github.com/sendspin/sendspin-go/internal/clock"
	"github.com/sendspin/sendspin-go/internal/registry"
)

// AudioChunkType is the binary message type byte for player-role audio
// chunks, per the protocol's player slot.
const AudioChunkType = 0x04

// State is the engine's run state.
type State int

const (
	// Stopped skips chunk generation entirely but still consumes ticks.
	Stopped State = iota
	// Running generates and broadcasts chunks from the source.
	Running
	// Paused keeps ticking (so timing never drifts) but emits silence.
	Paused
)

// Engine paces audio chunk generation against the server clock,
// broadcasting each chunk with a playback deadline far enough in the
// future that player sessions can buffer ahead of it.
type Engine struct {
	mu sync.Mutex

	source          audio.Source
	encoder         audio.Encoder
	clients         *registry.ClientRegistry
	clock           *clock.Clock
	chunkInterval   time.Duration
	samplesPerChunk int
	bufferAheadUs   int64
	state           State

	sampleBuf []audio.Sample
}

// Config controls chunk pacing.
type Config struct {
	ChunkIntervalMs int
	BufferAheadMs   int
}

// New creates an engine that reads from source and broadcasts via
// clients, pacing output per cfg. The source's own sample rate and
// channel count determine chunk sizing and PCM encoding.
func New(source audio.Source, clients *registry.ClientRegistry, clk *clock.Clock, cfg Config) *Engine {
	sampleRate := source.SampleRate()
	channels := source.Channels()
	samplesPerChunk := (sampleRate * cfg.ChunkIntervalMs) / 1000

	return &Engine{
		source:          source,
		encoder:         audio.NewPCMEncoder(sampleRate, channels),
		clients:         clients,
		clock:           clk,
		chunkInterval:   time.Duration(cfg.ChunkIntervalMs) * time.Millisecond,
		samplesPerChunk: samplesPerChunk,
		bufferAheadUs:   int64(cfg.BufferAheadMs) * 1000,
		state:           Stopped,
		sampleBuf:       make([]audio.Sample, samplesPerChunk*channels),
	}
}

// State returns the engine's current run state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start transitions the engine to Running.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Running
}

// Pause keeps the tick loop alive (so timing doesn't drift) but emits
// silence instead of source audio.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Paused
}

// Stop transitions the engine to Stopped; the run loop keeps consuming
// ticks but skips generation entirely.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Stopped
}

// SetSource atomically swaps the audio source, recomputing chunk sizing
// and rebuilding the encoder for the new source's format.
func (e *Engine) SetSource(source audio.Source) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sampleRate := source.SampleRate()
	channels := source.Channels()
	samplesPerChunk := int(int64(sampleRate) * int64(e.chunkInterval/time.Millisecond) / 1000)

	e.source = source
	e.samplesPerChunk = samplesPerChunk
	e.encoder = audio.NewPCMEncoder(sampleRate, channels)
	e.sampleBuf = make([]audio.Sample, samplesPerChunk*channels)
}

// Run drives the chunk-generation loop until ctx is cancelled. A
// time.Ticker already skips ticks the loop fell behind on, matching
// the engine's no-catch-up pacing policy.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.chunkInterval)
	defer ticker.Stop()

	log.Printf("engine: started, %v chunks, %d samples/chunk, %dms buffer ahead",
		e.chunkInterval, e.samplesPerChunk, e.bufferAheadUs/1000)

	for {
		select {
		case <-ticker.C:
			e.mu.Lock()
			state := e.state
			e.mu.Unlock()
			if state == Stopped {
				continue
			}
			e.generateAndBroadcastChunk(state)
		case <-ctx.Done():
			log.Printf("engine: shutting down")
			e.Stop()
			return
		}
	}
}

func (e *Engine) generateAndBroadcastChunk(state State) {
	e.mu.Lock()
	source := e.source
	encoder := e.encoder
	samplesPerChunk := e.samplesPerChunk
	channels := encoder.Channels()
	if cap(e.sampleBuf) < samplesPerChunk*channels {
		e.sampleBuf = make([]audio.Sample, samplesPerChunk*channels)
	}
	buf := e.sampleBuf[:samplesPerChunk*channels]
	e.mu.Unlock()

	now := e.clock.NowMicros()
	playAt := now + e.bufferAheadUs

	var samples []audio.Sample
	if state == Paused {
		for i := range buf {
			buf[i] = 0
		}
		samples = buf
	} else {
		n, err := source.Read(buf)
		if err != nil {
			log.Printf("engine: source read error: %v", err)
			for i := range buf {
				buf[i] = 0
			}
			samples = buf
		} else if n < len(buf) {
			for i := n; i < len(buf); i++ {
				buf[i] = 0
			}
			samples = buf
		} else {
			samples = buf
		}
	}

	encoded, err := encoder.Encode(samples)
	if err != nil {
		log.Printf("engine: encode error: %v", err)
		return
	}

	chunk := make([]byte, 0, 9+len(encoded))
	chunk = append(chunk, AudioChunkType)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(playAt))
	chunk = append(chunk, ts[:]...)
	chunk = append(chunk, encoded...)

	e.clients.BroadcastAudio(chunk)
}
