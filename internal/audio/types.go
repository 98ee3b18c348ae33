// ABOUTME: Core audio data types shared by sources and encoders
// ABOUTME: Defines the signed 24-bit sample and the negotiated audio format
package audio

// Sample is a signed 24-bit integer carried in a 32-bit container,
// interleaved L,R,L,R,... for stereo. Valid range is [-2^23, 2^23-1].
type Sample int32

const (
	// SampleMax is the largest representable 24-bit sample value.
	SampleMax Sample = 1<<23 - 1
	// SampleMin is the smallest representable 24-bit sample value.
	SampleMin Sample = -(1 << 23)
)

// Codec identifies a closed set of wire codecs. PCM is always
// implementable; the others may fall back to PCM when unavailable.
type Codec string

const (
	CodecPCM  Codec = "pcm"
	CodecOpus Codec = "opus"
	CodecFLAC Codec = "flac"
	CodecMP3  Codec = "mp3"
)

// ParseCodec maps a wire codec name to a Codec, defaulting unknown
// names to PCM per spec.md §4.7 Negotiating.
func ParseCodec(name string) Codec {
	switch Codec(name) {
	case CodecOpus:
		return CodecOpus
	case CodecFLAC:
		return CodecFLAC
	case CodecMP3:
		return CodecMP3
	default:
		return CodecPCM
	}
}

// Format describes a negotiated (or default) audio format.
type Format struct {
	Codec       Codec
	SampleRate  int
	Channels    int
	BitDepth    int
	CodecHeader []byte
}

// DefaultFormat is PCM/48000Hz/stereo/24-bit, the server's fallback
// when a client advertises nothing usable.
func DefaultFormat() Format {
	return Format{
		Codec:      CodecPCM,
		SampleRate: 48000,
		Channels:   2,
		BitDepth:   24,
	}
}
