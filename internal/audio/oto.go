package audio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// OtoConfig configures the sound device.
type OtoConfig struct {
	// SampleRate of the device; 44100 or 48000.
	SampleRate int

	// BufferSize is the device latency.
	BufferSize time.Duration
}

// DefaultOtoConfig returns the device settings used by the CLI.
func DefaultOtoConfig() OtoConfig {
	return OtoConfig{SampleRate: 44100, BufferSize: 100 * time.Millisecond}
}

// OtoSink renders the timeline to the sound device. A single oto player
// reads from the timeline for the lifetime of the sink, so segments placed
// back to back play without any gap.
//
// Only one OtoSink can exist per process: oto allows a single context.
type OtoSink struct {
	t      *timeline
	rate   int
	ctx    *oto.Context
	player *oto.Player

	scratch []int16
	mu      sync.Mutex // guards scratch
}

// NewOtoSink opens the sound device and starts rendering silence.
func NewOtoSink(cfg OtoConfig) (*OtoSink, error) {
	if cfg.SampleRate != 44100 && cfg.SampleRate != 48000 {
		return nil, fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", cfg.SampleRate)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100 * time.Millisecond
	}

	op := &oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   cfg.BufferSize,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	s := &OtoSink{t: newTimeline(), rate: cfg.SampleRate, ctx: ctx}
	s.player = ctx.NewPlayer(&timelineReader{s: s})
	s.player.Play()

	log.Debug("Audio device opened", "rate", cfg.SampleRate, "buffer", cfg.BufferSize)
	return s, nil
}

// timelineReader feeds the oto player. It never returns EOF.
type timelineReader struct {
	s *OtoSink
}

func (r *timelineReader) Read(p []byte) (int, error) {
	frames := len(p) / 2
	if frames == 0 {
		return 0, nil
	}

	r.s.mu.Lock()
	if cap(r.s.scratch) < frames {
		r.s.scratch = make([]int16, frames)
	}
	buf := r.s.scratch[:frames]
	ended := r.s.t.render(buf, r.s.rate)
	for i, v := range buf {
		binary.LittleEndian.PutUint16(p[2*i:], uint16(v))
	}
	r.s.mu.Unlock()

	// Callbacks may schedule more audio; run them off the device thread.
	if len(ended) > 0 {
		go fire(ended)
	}
	return frames * 2, nil
}

// CurrentTime implements Sink.
func (s *OtoSink) CurrentTime() time.Duration {
	return s.t.currentTime()
}

// Start implements Sink.
func (s *OtoSink) Start(buf *Buffer, at time.Duration, onEnded func()) (Source, error) {
	return s.t.schedule(buf, at, onEnded)
}

// Reset implements Sink.
func (s *OtoSink) Reset() {
	s.t.reset()
}

// Play implements Sink.
func (s *OtoSink) Play() error {
	s.t.setPaused(false)
	return nil
}

// Pause implements Sink.
func (s *OtoSink) Pause() error {
	s.t.setPaused(true)
	return nil
}

// Rewind implements Sink.
func (s *OtoSink) Rewind() error {
	s.t.seekStart()
	return nil
}

// SetRate implements Sink.
func (s *OtoSink) SetRate(rate float64) error {
	return s.t.setRate(rate)
}

// Rate implements Sink.
func (s *OtoSink) Rate() float64 {
	return s.t.playbackRate()
}

// Paused implements Sink.
func (s *OtoSink) Paused() bool {
	return s.t.isPaused()
}

// SetVolume sets the device volume in [0, 1].
func (s *OtoSink) SetVolume(v float64) {
	s.player.SetVolume(v)
}

// Close stops the device player.
func (s *OtoSink) Close() error {
	s.t.reset()
	s.player.Pause()
	return s.player.Close()
}

var _ Sink = (*OtoSink)(nil)
