// ABOUTME: File and HTTP audio sources decoded into the streaming pipeline
// ABOUTME: Supports local MP3/FLAC files and remote MP3 streams
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// NewFileOrURLSource dispatches to the right Source implementation for
// pathOrURL. An empty path returns the test tone generator. Sources are
// kept at their native sample rate; callers wanting a specific rate
// should wrap the result in NewResampledSource.
func NewFileOrURLSource(pathOrURL string) (Source, error) {
	if pathOrURL == "" {
		return NewTestToneSource(48000, 2), nil
	}

	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		log.Printf("audio: streaming from HTTP URL: %s", pathOrURL)
		return NewHTTPMP3Source(pathOrURL)
	}

	if _, err := os.Stat(pathOrURL); os.IsNotExist(err) {
		return nil, fmt.Errorf("audio file not found: %s", pathOrURL)
	}

	switch strings.ToLower(filepath.Ext(pathOrURL)) {
	case ".mp3":
		return NewMP3Source(pathOrURL)
	case ".flac":
		return NewFLACSource(pathOrURL)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .mp3, .flac)", pathOrURL)
	}
}

// MP3Source decodes a local MP3 file, looping back to the start on EOF.
type MP3Source struct {
	file       *os.File
	decoder    *mp3.Decoder
	sampleRate int
	title      string
}

// NewMP3Source opens and decodes path as MP3.
func NewMP3Source(path string) (*MP3Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mp3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode mp3: %w", err)
	}

	filename := filepath.Base(path)
	title := strings.TrimSuffix(filename, filepath.Ext(filename))
	log.Printf("audio: loaded mp3 %s (%dHz)", title, decoder.SampleRate())

	return &MP3Source{file: f, decoder: decoder, sampleRate: decoder.SampleRate(), title: title}, nil
}

func (s *MP3Source) Read(samples []Sample) (int, error) {
	buf := make([]byte, len(samples)*2)
	n, err := s.decoder.Read(buf)
	if err != nil && err != io.EOF {
		return 0, err
	}

	numSamples := n / 2
	decode16To24(buf[:n], samples[:numSamples])

	if err == io.EOF {
		if _, seekErr := s.file.Seek(0, 0); seekErr != nil {
			return numSamples, fmt.Errorf("seek to start: %w", seekErr)
		}
		newDecoder, decErr := mp3.NewDecoder(s.file)
		if decErr != nil {
			return numSamples, fmt.Errorf("recreate decoder: %w", decErr)
		}
		s.decoder = newDecoder
	}

	return numSamples, nil
}

func (s *MP3Source) SampleRate() int { return s.sampleRate }
func (s *MP3Source) Channels() int   { return 2 }
func (s *MP3Source) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}
func (s *MP3Source) Close() error { return s.file.Close() }

// FLACSource decodes a local FLAC file, looping back to the start on EOF.
type FLACSource struct {
	file       *os.File
	stream     *flac.Stream
	sampleRate int
	channels   int
	bitDepth   int
	title      string
}

// NewFLACSource opens and decodes path as FLAC.
func NewFLACSource(path string) (*FLACSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open flac file: %w", err)
	}

	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode flac: %w", err)
	}

	info := stream.Info
	filename := filepath.Base(path)
	title := strings.TrimSuffix(filename, filepath.Ext(filename))
	log.Printf("audio: loaded flac %s (%dHz, %d ch, %d bit)", title, info.SampleRate, info.NChannels, info.BitsPerSample)

	return &FLACSource{
		file:       f,
		stream:     stream,
		sampleRate: int(info.SampleRate),
		channels:   int(info.NChannels),
		bitDepth:   int(info.BitsPerSample),
		title:      title,
	}, nil
}

func (s *FLACSource) Read(samples []Sample) (int, error) {
	samplesRead := 0

	for samplesRead < len(samples) {
		frame, err := s.stream.ParseNext()
		if err != nil {
			if err == io.EOF {
				if _, seekErr := s.file.Seek(0, 0); seekErr != nil {
					return samplesRead, fmt.Errorf("seek to start: %w", seekErr)
				}
				newStream, decErr := flac.New(s.file)
				if decErr != nil {
					return samplesRead, fmt.Errorf("recreate stream: %w", decErr)
				}
				s.stream = newStream
				continue
			}
			return samplesRead, err
		}

		for i := 0; i < int(frame.BlockSize) && samplesRead < len(samples); i++ {
			for ch := 0; ch < s.channels && samplesRead < len(samples); ch++ {
				raw := frame.Subframes[ch].Samples[i]
				samples[samplesRead] = Sample(scaleTo24Bit(raw, s.bitDepth))
				samplesRead++
			}
		}
	}

	return samplesRead, nil
}

func (s *FLACSource) SampleRate() int { return s.sampleRate }
func (s *FLACSource) Channels() int   { return s.channels }
func (s *FLACSource) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}
func (s *FLACSource) Close() error { return s.file.Close() }

// HTTPMP3Source streams MP3 over HTTP and does not loop on EOF: a remote
// stream ending means the stream ended.
type HTTPMP3Source struct {
	response   *http.Response
	decoder    *mp3.Decoder
	sampleRate int
}

// NewHTTPMP3Source fetches url and decodes the response body as MP3.
func NewHTTPMP3Source(url string) (*HTTPMP3Source, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch http stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("http error: %s", resp.Status)
	}

	decoder, err := mp3.NewDecoder(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("decode mp3 stream: %w", err)
	}

	log.Printf("audio: streaming mp3 from %s (%dHz)", url, decoder.SampleRate())
	return &HTTPMP3Source{response: resp, decoder: decoder, sampleRate: decoder.SampleRate()}, nil
}

func (s *HTTPMP3Source) Read(samples []Sample) (int, error) {
	buf := make([]byte, len(samples)*2)
	n, err := s.decoder.Read(buf)
	if err != nil {
		return 0, err
	}
	numSamples := n / 2
	decode16To24(buf[:n], samples[:numSamples])
	return numSamples, nil
}

func (s *HTTPMP3Source) SampleRate() int { return s.sampleRate }
func (s *HTTPMP3Source) Channels() int   { return 2 }
func (s *HTTPMP3Source) Metadata() (string, string, string) {
	return "HTTP Stream", "HTTP Stream", ""
}
func (s *HTTPMP3Source) Close() error {
	if s.response != nil {
		return s.response.Body.Close()
	}
	return nil
}

// decode16To24 converts little-endian int16 PCM bytes into 24-bit range
// samples, shifting so full-scale 16-bit maps near full-scale 24-bit.
func decode16To24(buf []byte, out []Sample) {
	for i := range out {
		sample16 := int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
		out[i] = Sample(int32(sample16) << 8)
	}
}

// scaleTo24Bit scales a FLAC sample of the given bit depth into 24-bit
// signed range.
func scaleTo24Bit(sample int32, bitDepth int) int32 {
	shift := bitDepth - 24
	switch {
	case shift == 0:
		return sample
	case shift > 0:
		return sample >> shift
	default:
		return sample << -shift
	}
}
