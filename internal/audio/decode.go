package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/wav"
)

// DefaultSampleRate is assumed for artifacts without a WAV header.
const DefaultSampleRate = 22050

var (
	// ErrEmptyAudio is returned for artifacts without any samples.
	ErrEmptyAudio = errors.New("audio data is empty")

	// ErrInvalidAudio is returned for artifacts that cannot be decoded.
	ErrInvalidAudio = errors.New("invalid audio data")
)

// Buffer is decoded mono audio with samples in [-1, 1].
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of b at normal rate.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

func (b *Buffer) seconds() float64 {
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// Decode reads a WAV artifact, or raw 16-bit little-endian mono PCM at
// DefaultSampleRate. Multi-channel audio is mixed down to mono.
func Decode(artifact []byte) (*Buffer, error) {
	if len(artifact) == 0 {
		return nil, ErrEmptyAudio
	}
	if bytes.HasPrefix(artifact, []byte("RIFF")) {
		return decodeWAV(artifact)
	}
	return decodeRaw(artifact)
}

func decodeWAV(artifact []byte) (*Buffer, error) {
	d := wav.NewDecoder(bytes.NewReader(artifact))
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: not a PCM wav file", ErrInvalidAudio)
	}
	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}

	channels := int(d.NumChans)
	if channels < 1 {
		channels = 1
	}
	depth := int(d.BitDepth)
	if depth < 8 || depth > 32 {
		return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidAudio, depth)
	}
	scale := float32(int64(1) << (depth - 1))

	frames := len(pcm.Data) / channels
	if frames == 0 {
		return nil, ErrEmptyAudio
	}
	samples := make([]float32, frames)
	for i := range samples {
		var sum int
		for c := 0; c < channels; c++ {
			sum += pcm.Data[i*channels+c]
		}
		samples[i] = float32(sum) / float32(channels) / scale
	}
	return &Buffer{Samples: samples, SampleRate: int(d.SampleRate)}, nil
}

func decodeRaw(artifact []byte) (*Buffer, error) {
	if len(artifact)%2 != 0 {
		return nil, fmt.Errorf("%w: odd PCM length %d", ErrInvalidAudio, len(artifact))
	}
	samples := make([]float32, len(artifact)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(artifact[2*i:]))) / 32768
	}
	return &Buffer{Samples: samples, SampleRate: DefaultSampleRate}, nil
}
