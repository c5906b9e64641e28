package audio

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"
)

const (
	// MinRate and MaxRate bound the playback rate.
	MinRate = 0.25
	MaxRate = 4.0
)

var (
	// ErrInvalidRate is returned for playback rates outside [MinRate, MaxRate].
	ErrInvalidRate = errors.New("playback rate must be between 0.25 and 4")

	// ErrSourceStopped is returned when stopping a source that already
	// ended or was stopped.
	ErrSourceStopped = errors.New("source already stopped")
)

// Source is a buffer placed on a sink's timeline.
type Source interface {
	// Stop silences the source and drops its end callback.
	Stop() error
}

type segment struct {
	buf        *Buffer
	start, end float64 // seconds on the timeline

	onEnded func()
	ended   bool
	stopped bool

	t *timeline
}

func (s *segment) Stop() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if s.stopped || s.ended {
		return ErrSourceStopped
	}
	s.stopped = true
	return nil
}

// timeline is the clock and segment list shared by the sinks. Position is
// in seconds of content; it advances by rate per second of output and
// stands still while paused. Played segments are kept so the timeline can
// be replayed from the start.
type timeline struct {
	mu     sync.Mutex
	pos    float64
	rate   float64
	paused bool
	segs   []*segment // ordered by start
	cur    int        // first segment that may still be audible
}

func newTimeline() *timeline {
	return &timeline{rate: 1}
}

func (t *timeline) currentTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return seconds(t.pos)
}

func (t *timeline) schedule(buf *Buffer, at time.Duration, onEnded func()) (Source, error) {
	if buf == nil || len(buf.Samples) == 0 {
		return nil, ErrEmptyAudio
	}
	start := at.Seconds()
	s := &segment{buf: buf, start: start, end: start + buf.seconds(), onEnded: onEnded, t: t}

	t.mu.Lock()
	defer t.mu.Unlock()
	i := sort.Search(len(t.segs), func(i int) bool { return t.segs[i].start > start })
	t.segs = append(t.segs, nil)
	copy(t.segs[i+1:], t.segs[i:])
	t.segs[i] = s
	if i < t.cur {
		t.cur = i
	}
	return s, nil
}

// advance moves the clock by d of output time and returns the callbacks
// of segments that ended.
func (t *timeline) advance(d time.Duration) []func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused {
		t.pos += d.Seconds() * t.rate
	}
	return t.collectEnded()
}

// render fills out with the mix at the current position, sample by sample
// at outRate, and returns the callbacks of segments that ended.
func (t *timeline) render(out []int16, outRate int) []func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	step := t.rate / float64(outRate)
	for i := range out {
		if t.paused {
			out[i] = 0
			continue
		}
		for t.cur < len(t.segs) && t.segs[t.cur].end <= t.pos {
			t.cur++
		}
		var v float64
		for j := t.cur; j < len(t.segs) && t.segs[j].start <= t.pos; j++ {
			s := t.segs[j]
			if s.stopped || t.pos >= s.end {
				continue
			}
			idx := int((t.pos - s.start) * float64(s.buf.SampleRate))
			if idx < len(s.buf.Samples) {
				v += float64(s.buf.Samples[idx])
			}
		}
		t.pos += step
		out[i] = int16(math.Max(-1, math.Min(1, v)) * math.MaxInt16)
	}
	return t.collectEnded()
}

func (t *timeline) collectEnded() []func() {
	var fired []func()
	for _, s := range t.segs {
		if s.start > t.pos {
			break
		}
		if s.ended || s.stopped || s.end > t.pos {
			continue
		}
		s.ended = true
		if s.onEnded != nil {
			fired = append(fired, s.onEnded)
		}
	}
	return fired
}

func (t *timeline) setPaused(paused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = paused
}

func (t *timeline) isPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// seekStart moves the clock back to zero; ended segments replay without
// firing their callbacks again.
func (t *timeline) seekStart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pos = 0
	t.cur = 0
}

func (t *timeline) setRate(rate float64) error {
	if rate < MinRate || rate > MaxRate || math.IsNaN(rate) {
		return ErrInvalidRate
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rate = rate
	return nil
}

func (t *timeline) playbackRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate
}

// reset drops every segment and restarts the clock from zero.
func (t *timeline) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.segs {
		s.stopped = true
	}
	t.segs = nil
	t.cur = 0
	t.pos = 0
}

func fire(callbacks []func()) {
	for _, fn := range callbacks {
		fn()
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
