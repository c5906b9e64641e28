package engines

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// MockConfig configures a Mock engine.
type MockConfig struct {
	Voice      string
	SampleRate int

	// PerRune is the audio duration rendered per character; 50ms when zero.
	PerRune time.Duration

	// Delay simulates synthesis latency. It honours ctx.
	Delay time.Duration
}

// Mock renders a quiet tone with a duration proportional to the text.
type Mock struct {
	cfg MockConfig
}

// NewMock creates a Mock engine.
func NewMock(cfg MockConfig) *Mock {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.PerRune <= 0 {
		cfg.PerRune = 50 * time.Millisecond
	}
	return &Mock{cfg: cfg}
}

// Synthesize returns a WAV artifact for text.
func (m *Mock) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if err := validateText(strings.TrimSpace(text)); err != nil {
		return nil, err
	}
	if m.cfg.Delay > 0 {
		t := time.NewTimer(m.cfg.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	d := time.Duration(utf8.RuneCountInString(text)) * m.cfg.PerRune
	n := int(d.Seconds() * float64(m.cfg.SampleRate))
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(2000 * math.Sin(2*math.Pi*440*float64(i)/float64(m.cfg.SampleRate)))
	}
	return EncodeWAV(samples, m.cfg.SampleRate)
}

// Info describes the session.
func (m *Mock) Info() Info {
	return Info{Name: "mock", Voice: m.cfg.Voice, SampleRate: m.cfg.SampleRate}
}

// Close is a no-op.
func (m *Mock) Close() error {
	return nil
}

var _ Engine = (*Mock)(nil)
