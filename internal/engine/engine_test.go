package engine

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/sendspin/sendspin-go/internal/audio"
	"github.com/sendspin/sendspin-go/internal/clock"
	"github.com/sendspin/sendspin-go/internal/registry"
)

func newTestEngine(t *testing.T) (*Engine, *registry.ClientRegistry, *registry.Client) {
	t.Helper()
	source := audio.NewTestToneSource(48000, 2)
	clients := registry.NewClientRegistry()
	player := registry.NewClient("p1", "Player", 16)
	player.ActiveRoles = []string{"player@v1"}
	clients.Add(player)

	e := New(source, clients, clock.New(), Config{ChunkIntervalMs: 20, BufferAheadMs: 500})
	return e, clients, player
}

func TestNewEngineComputesSamplesPerChunk(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if e.samplesPerChunk != 960 {
		t.Errorf("expected 960 samples/chunk at 48kHz/20ms, got %d", e.samplesPerChunk)
	}
	if e.State() != Stopped {
		t.Errorf("expected initial state Stopped, got %v", e.State())
	}
}

func TestRunSkipsGenerationWhileStopped(t *testing.T) {
	e, _, player := newTestEngine(t)
	// Engine starts Stopped by default; Run's tick handler must not
	// generate chunks until Start is called.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	select {
	case <-player.Send():
		t.Fatal("expected no broadcast while engine is Stopped")
	default:
	}
}

func TestRunningEngineBroadcastsChunkWithDeadline(t *testing.T) {
	e, _, player := newTestEngine(t)
	e.Start()

	before := e.clock.NowMicros()
	e.generateAndBroadcastChunk(Running)

	select {
	case out := <-player.Send():
		if out.Kind != registry.OutboundBinary {
			t.Fatal("expected binary outbound")
		}
		if out.Data[0] != AudioChunkType {
			t.Errorf("expected chunk type %d, got %d", AudioChunkType, out.Data[0])
		}
		deadline := int64(binary.BigEndian.Uint64(out.Data[1:9]))
		if deadline <= before {
			t.Errorf("expected playback deadline in the future, got %d (before=%d)", deadline, before)
		}
		expectedLen := 1 + 8 + 960*2*3
		if len(out.Data) != expectedLen {
			t.Errorf("expected chunk length %d, got %d", expectedLen, len(out.Data))
		}
	default:
		t.Fatal("expected a broadcast chunk")
	}
}

func TestPausedEngineEmitsSilence(t *testing.T) {
	e, _, player := newTestEngine(t)
	e.Pause()
	e.generateAndBroadcastChunk(Paused)

	select {
	case out := <-player.Send():
		for i := 9; i < len(out.Data); i++ {
			if out.Data[i] != 0 {
				t.Fatalf("expected silence while paused, found nonzero byte at offset %d", i)
			}
		}
	default:
		t.Fatal("expected a broadcast chunk even while paused")
	}
}

func TestSetSourceRecomputesChunkSizing(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.SetSource(audio.NewTestToneSource(44100, 1))

	if e.samplesPerChunk != 882 {
		t.Errorf("expected 882 samples/chunk at 44100Hz/20ms, got %d", e.samplesPerChunk)
	}
	if e.encoder.Channels() != 1 {
		t.Errorf("expected encoder rebuilt for mono, got %d channels", e.encoder.Channels())
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.Start()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after context cancellation")
	}
	if e.State() != Stopped {
		t.Errorf("expected engine state Stopped after shutdown, got %v", e.State())
	}
}
