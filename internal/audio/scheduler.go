package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// State is the playback state of a Scheduler.
type State int

const (
	Idle State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "idle"
}

// Scheduler plays artifacts in the order they are enqueued, each one
// starting exactly where the previous one ends.
type Scheduler struct {
	sink Sink

	mu      sync.Mutex
	state   State
	queue   []*Buffer
	sources map[Source]struct{}
	lastEnd time.Duration
	gen     uint64
	idle    chan struct{}
}

// NewScheduler creates an idle scheduler on sink.
func NewScheduler(sink Sink) *Scheduler {
	idle := make(chan struct{})
	close(idle)
	return &Scheduler{
		sink:    sink,
		sources: make(map[Source]struct{}),
		idle:    idle,
	}
}

// Sink returns the output the scheduler plays on.
func (s *Scheduler) Sink() Sink {
	return s.sink
}

// Enqueue decodes artifact and appends it to the playback queue, starting
// playback when idle.
func (s *Scheduler) Enqueue(artifact []byte) error {
	buf, err := Decode(artifact)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, buf)
	if s.state == Idle {
		s.state = Playing
		s.idle = make(chan struct{})
	}
	return s.drainLocked()
}

// drainLocked places every queued buffer on the sink at
// max(now, lastEnd).
func (s *Scheduler) drainLocked() error {
	for len(s.queue) > 0 {
		buf := s.queue[0]

		start := max(s.sink.CurrentTime(), s.lastEnd)
		gen := s.gen
		var src Source
		src, err := s.sink.Start(buf, start, func() { s.ended(gen, &src) })
		if err != nil {
			s.settleLocked()
			return fmt.Errorf("schedule audio: %w", err)
		}
		s.queue = s.queue[1:]
		s.sources[src] = struct{}{}
		s.lastEnd = start + buf.Duration()
		log.Debug("Scheduled segment", "start", start, "duration", buf.Duration())
	}
	return nil
}

// ended reads src under the lock; it is assigned after Start returns.
func (s *Scheduler) ended(gen uint64, src *Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	delete(s.sources, *src)
	if len(s.queue) > 0 {
		if err := s.drainLocked(); err != nil {
			log.Warn("Could not schedule next segment", "err", err)
		}
		return
	}
	s.settleLocked()
}

func (s *Scheduler) settleLocked() {
	if len(s.sources) > 0 || len(s.queue) > 0 || s.state == Idle {
		return
	}
	s.state = Idle
	close(s.idle)
}

// Stop silences everything, empties the queue and resets the timeline so
// the next Enqueue starts from zero.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	for src := range s.sources {
		_ = src.Stop()
	}
	clear(s.sources)
	s.queue = nil
	s.lastEnd = 0
	s.sink.Reset()

	if s.state == Playing {
		s.state = Idle
		close(s.idle)
	}
}

// State returns the playback state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastEnd returns the timeline position where the last scheduled segment
// ends.
func (s *Scheduler) LastEnd() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEnd
}

// Wait blocks until the scheduler is idle or ctx ends.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Play resumes the sink.
func (s *Scheduler) Play() error { return s.sink.Play() }

// Pause suspends the sink's clock.
func (s *Scheduler) Pause() error { return s.sink.Pause() }

// TogglePause flips between paused and playing and reports whether the sink
// is now paused.
func (s *Scheduler) TogglePause() (bool, error) {
	if s.sink.Paused() {
		return false, s.sink.Play()
	}
	return true, s.sink.Pause()
}

// Reset replays from the start of the timeline.
func (s *Scheduler) Reset() error { return s.sink.Rewind() }

// SetRate changes the playback rate.
func (s *Scheduler) SetRate(rate float64) error { return s.sink.SetRate(rate) }
