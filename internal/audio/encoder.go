// ABOUTME: Audio encoders for the codecs Sendspin negotiates on the wire
// ABOUTME: PCM is always available; Opus wraps libopus, others fall back to PCM
package audio

import (
	"fmt"
	"log"

	"gopkg.in/hraban/opus.v2"
)

// Encoder turns interleaved samples into wire bytes for one stream chunk.
type Encoder interface {
	Encode(samples []Sample) ([]byte, error)
	Codec() Codec
	SampleRate() int
	Channels() int
	BitDepth() int
	CodecHeader() []byte
	Close() error
}

// PCMEncoder writes signed 24-bit little-endian samples, three bytes each.
type PCMEncoder struct {
	sampleRate int
	channels   int
}

// NewPCMEncoder creates a PCM encoder for the given format.
func NewPCMEncoder(sampleRate, channels int) *PCMEncoder {
	return &PCMEncoder{sampleRate: sampleRate, channels: channels}
}

func (e *PCMEncoder) Encode(samples []Sample) ([]byte, error) {
	out := make([]byte, 0, len(samples)*3)
	for _, s := range samples {
		v := int32(s)
		out = append(out, byte(v), byte(v>>8), byte(v>>16))
	}
	return out, nil
}

func (e *PCMEncoder) Codec() Codec       { return CodecPCM }
func (e *PCMEncoder) SampleRate() int    { return e.sampleRate }
func (e *PCMEncoder) Channels() int      { return e.channels }
func (e *PCMEncoder) BitDepth() int      { return 24 }
func (e *PCMEncoder) CodecHeader() []byte { return nil }
func (e *PCMEncoder) Close() error       { return nil }

// OpusEncoder wraps libopus for bandwidth-efficient streaming. Opus only
// operates at 48kHz, so callers must negotiate that rate before picking it.
type OpusEncoder struct {
	encoder    *opus.Encoder
	sampleRate int
	channels   int
	buf        []int16
	out        []byte
}

// NewOpusEncoder creates an Opus encoder in AppAudio mode, matching how a
// music stream (as opposed to voice) should be tuned.
func NewOpusEncoder(sampleRate, channels int) (*OpusEncoder, error) {
	if sampleRate != 48000 {
		return nil, fmt.Errorf("opus requires 48000Hz, got %d", sampleRate)
	}
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	if err := enc.SetBitrate(64000 * channels); err != nil {
		log.Printf("audio: failed to set opus bitrate: %v", err)
	}
	return &OpusEncoder{
		encoder:    enc,
		sampleRate: sampleRate,
		channels:   channels,
		out:        make([]byte, 4000),
	}, nil
}

func (e *OpusEncoder) Encode(samples []Sample) ([]byte, error) {
	if cap(e.buf) < len(samples) {
		e.buf = make([]int16, len(samples))
	}
	e.buf = e.buf[:len(samples)]
	for i, s := range samples {
		e.buf[i] = int16(int32(s) >> 8)
	}
	n, err := e.encoder.Encode(e.buf, e.out)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	packet := make([]byte, n)
	copy(packet, e.out[:n])
	return packet, nil
}

func (e *OpusEncoder) Codec() Codec        { return CodecOpus }
func (e *OpusEncoder) SampleRate() int     { return e.sampleRate }
func (e *OpusEncoder) Channels() int       { return e.channels }
func (e *OpusEncoder) BitDepth() int       { return 16 }
func (e *OpusEncoder) CodecHeader() []byte { return nil }
func (e *OpusEncoder) Close() error        { return nil }

// FLACEncoder is a stream-time placeholder: FLAC compresses with a frame
// header and CRC machinery this server has no use for mid-stream, so it
// encodes PCM bytes instead while its Codec still reports CodecFLAC.
// FLAC decoding (for file sources) is the real use of the flac library,
// wired in file_source.go.
type FLACEncoder struct {
	pcm *PCMEncoder
}

// NewFLACEncoder returns a FLAC-tagged encoder that emits PCM bytes.
func NewFLACEncoder(sampleRate, channels int) *FLACEncoder {
	return &FLACEncoder{pcm: NewPCMEncoder(sampleRate, channels)}
}

func (e *FLACEncoder) Encode(samples []Sample) ([]byte, error) { return e.pcm.Encode(samples) }
func (e *FLACEncoder) Codec() Codec                            { return CodecFLAC }
func (e *FLACEncoder) SampleRate() int                         { return e.pcm.SampleRate() }
func (e *FLACEncoder) Channels() int                           { return e.pcm.Channels() }
func (e *FLACEncoder) BitDepth() int                           { return e.pcm.BitDepth() }
func (e *FLACEncoder) CodecHeader() []byte                     { return nil }
func (e *FLACEncoder) Close() error                            { return nil }

// NewEncoder builds the encoder for a negotiated format, falling back to
// PCM whenever the requested codec can't be constructed (e.g. Opus at a
// non-48kHz rate).
func NewEncoder(format Format) Encoder {
	switch format.Codec {
	case CodecOpus:
		enc, err := NewOpusEncoder(format.SampleRate, format.Channels)
		if err != nil {
			log.Printf("audio: opus unavailable (%v), falling back to pcm", err)
			return NewPCMEncoder(format.SampleRate, format.Channels)
		}
		return enc
	case CodecFLAC:
		return NewFLACEncoder(format.SampleRate, format.Channels)
	case CodecMP3:
		return NewPCMEncoder(format.SampleRate, format.Channels)
	default:
		return NewPCMEncoder(format.SampleRate, format.Channels)
	}
}
