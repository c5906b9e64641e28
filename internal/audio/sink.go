package audio

import (
	"context"
	"sync"
	"time"
)

// Sink is an output with a clock on which buffers can be scheduled.
type Sink interface {
	// CurrentTime is the position of the sink's clock.
	CurrentTime() time.Duration

	// Start schedules buf to begin at the given clock position. onEnded is
	// called, outside any sink lock, once the buffer has played.
	Start(buf *Buffer, at time.Duration, onEnded func()) (Source, error)

	// Reset drops every scheduled buffer and restarts the clock at zero.
	Reset()

	Play() error
	Pause() error
	// Rewind moves the clock back to zero so scheduled audio replays.
	Rewind() error
	SetRate(rate float64) error
	Rate() float64
	Paused() bool

	Close() error
}

// MockSink is a Sink driven by a virtual clock.
type MockSink struct {
	t *timeline

	mu     sync.Mutex
	starts []time.Duration
}

// NewMockSink creates a sink whose clock only moves through Advance or Run.
func NewMockSink() *MockSink {
	return &MockSink{t: newTimeline()}
}

// CurrentTime implements Sink.
func (m *MockSink) CurrentTime() time.Duration {
	return m.t.currentTime()
}

// Start implements Sink.
func (m *MockSink) Start(buf *Buffer, at time.Duration, onEnded func()) (Source, error) {
	src, err := m.t.schedule(buf, at, onEnded)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.starts = append(m.starts, at)
	m.mu.Unlock()
	return src, nil
}

// Starts returns the start positions of every buffer scheduled so far.
func (m *MockSink) Starts() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.starts...)
}

// Advance moves the clock by d of wall time and fires end callbacks.
func (m *MockSink) Advance(d time.Duration) {
	fire(m.t.advance(d))
}

// Run advances the clock in real time, one tick at a time, until ctx ends.
func (m *MockSink) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Advance(tick)
		}
	}
}

// Reset implements Sink.
func (m *MockSink) Reset() {
	m.t.reset()
	m.mu.Lock()
	m.starts = nil
	m.mu.Unlock()
}

// Play implements Sink.
func (m *MockSink) Play() error {
	m.t.setPaused(false)
	return nil
}

// Pause implements Sink.
func (m *MockSink) Pause() error {
	m.t.setPaused(true)
	return nil
}

// Rewind implements Sink.
func (m *MockSink) Rewind() error {
	m.t.seekStart()
	return nil
}

// SetRate implements Sink.
func (m *MockSink) SetRate(rate float64) error {
	return m.t.setRate(rate)
}

// Rate implements Sink.
func (m *MockSink) Rate() float64 {
	return m.t.playbackRate()
}

// Paused implements Sink.
func (m *MockSink) Paused() bool {
	return m.t.isPaused()
}

// Close implements Sink.
func (m *MockSink) Close() error {
	m.t.reset()
	return nil
}

var _ Sink = (*MockSink)(nil)
