package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Task is a unit of work run against one worker handle.
type Task[W any] func(ctx context.Context, w W) error

// SpawnFunc creates the worker handle for a slot.
type SpawnFunc[W any] func(id int) (W, error)

// slot is one pool member. Exactly one task runs per busy slot.
type slot[W any] struct {
	id     int
	worker W
	busy   bool
	dead   bool
}

type job[W any] struct {
	ctx      context.Context
	fn       Task[W]
	future   *Future
	enqueued time.Time
	stop     func() bool // detaches the queued-cancellation hook
}

// Pool dispatches tasks to a fixed number of worker handles.
type Pool[W any] struct {
	cfg   Config
	spawn SpawnFunc[W]

	mu     sync.Mutex
	slots  []*slot[W]
	queue  []*job[W]
	closed bool
	stats  Stats

	wg sync.WaitGroup

	running  metric.Int64UpDownCounter
	queued   metric.Int64UpDownCounter
	tasks    metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates a pool and spawns cfg.Size worker handles.
func New[W any](cfg Config, spawn SpawnFunc[W]) (*Pool[W], error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", cfg.Size)
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultConfig().Grace
	}

	p := &Pool[W]{
		cfg:   cfg,
		spawn: spawn,
		slots: make([]*slot[W], 0, cfg.Size),
	}
	p.stats.Size = cfg.Size

	for i := 0; i < cfg.Size; i++ {
		w, err := spawn(i)
		if err != nil {
			_ = p.closeWorkers()
			return nil, fmt.Errorf("spawn worker %d: %w", i, err)
		}
		p.slots = append(p.slots, &slot[W]{id: i, worker: w})
	}

	meter := otel.Meter("github.com/arre-reader/arre/internal/pool")
	p.running, _ = meter.Int64UpDownCounter("arre.pool.running",
		metric.WithDescription("Tasks currently running"))
	p.queued, _ = meter.Int64UpDownCounter("arre.pool.queued",
		metric.WithDescription("Tasks waiting for a worker"))
	p.tasks, _ = meter.Int64Counter("arre.pool.tasks",
		metric.WithDescription("Settled tasks by outcome"))
	p.duration, _ = meter.Float64Histogram("arre.pool.task.duration",
		metric.WithDescription("Task run time"), metric.WithUnit("s"))

	return p, nil
}

// Submit queues fn and returns its Future. A dispatch pass runs immediately.
func (p *Pool[W]) Submit(ctx context.Context, fn Task[W]) *Future {
	f := newFuture()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		f.settle(ErrPoolClosed)
		return f
	}
	if p.cfg.MaxQueued > 0 && len(p.queue) >= p.cfg.MaxQueued {
		p.mu.Unlock()
		f.settle(ErrQueueFull)
		return f
	}

	j := &job[W]{ctx: ctx, fn: fn, future: f, enqueued: time.Now()}
	j.stop = context.AfterFunc(ctx, func() { p.cancelQueued(j) })
	p.queue = append(p.queue, j)
	p.addQueued(ctx, 1)
	p.mu.Unlock()

	p.dispatch()
	return f
}

// Exec submits fn and waits for its value.
func Exec[W, T any](ctx context.Context, p *Pool[W], fn func(ctx context.Context, w W) (T, error)) (T, error) {
	var out T
	f := p.Submit(ctx, func(ctx context.Context, w W) error {
		v, err := fn(ctx, w)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err := f.Wait(ctx); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Stats returns a snapshot of pool activity.
func (p *Pool[W]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	s.Queued = len(p.queue)
	for _, sl := range p.slots {
		if sl.busy {
			s.Busy++
		}
		if !sl.dead {
			s.Live++
		}
	}
	return s
}

// Close rejects queued tasks, waits for running ones and closes the
// worker handles.
func (p *Pool[W]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	queued := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, j := range queued {
		j.stop()
		j.future.settle(ErrPoolClosed)
	}
	p.addQueued(context.Background(), -int64(len(queued)))

	p.wg.Wait()
	return p.closeWorkers()
}

// dispatch hands queued tasks to idle workers until either runs out.
func (p *Pool[W]) dispatch() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) > 0 {
		s := p.idleSlot()
		if s == nil {
			break
		}

		j := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.addQueued(j.ctx, -1)

		j.stop()
		if err := j.ctx.Err(); err != nil {
			j.future.settle(err)
			continue
		}

		s.busy = true
		j.future.status.Store(int32(StatusRunning))
		p.wg.Add(1)
		go p.run(s, j)
	}

	if len(p.queue) > 0 && p.liveSlots() == 0 {
		for _, j := range p.queue {
			j.stop()
			j.future.settle(ErrNoWorkers)
		}
		p.addQueued(context.Background(), -int64(len(p.queue)))
		p.queue = nil
	}
}

// run executes one task on its slot and releases the slot afterwards.
func (p *Pool[W]) run(s *slot[W], j *job[W]) {
	defer p.wg.Done()

	ctx, cancel := p.taskContext(j.ctx)
	defer cancel()

	p.running.Add(ctx, 1)
	start := time.Now()
	log.Debug("Pool: task started", "slot", s.id, "waited", start.Sub(j.enqueued))

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("task panicked: %v", r)
			}
		}()
		done <- j.fn(ctx, s.worker)
	}()

	var (
		err       error
		abandoned bool
	)
	select {
	case err = <-done:
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			err = p.contextError(ctx, j.ctx)
		}
	case <-ctx.Done():
		err = p.contextError(ctx, j.ctx)
		select {
		case <-done:
			// Returned within the grace period; the worker is still healthy.
		case <-time.After(p.cfg.Grace):
			abandoned = true
		}
	}

	elapsed := time.Since(start)
	p.running.Add(context.Background(), -1)
	p.record(err, abandoned, elapsed)

	if abandoned {
		log.Warn("Pool: abandoning unresponsive task", "slot", s.id, "err", err)
		p.retire(s)
	}

	p.mu.Lock()
	s.busy = false
	p.mu.Unlock()

	j.future.settle(err)
	p.dispatch()
}

func (p *Pool[W]) taskContext(parent context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.Timeout > 0 {
		return context.WithTimeout(parent, p.cfg.Timeout)
	}
	return context.WithCancel(parent)
}

func (p *Pool[W]) contextError(ctx, parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTaskTimeout, p.cfg.Timeout)
	}
	return ctx.Err()
}

// retire replaces the worker handle of an abandoned slot. The old handle is
// closed in the background.
func (p *Pool[W]) retire(s *slot[W]) {
	p.mu.Lock()
	old := s.worker
	p.mu.Unlock()

	if c, ok := any(old).(io.Closer); ok {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := c.Close(); err != nil {
				log.Debug("Pool: closing retired worker failed", "slot", s.id, "err", err)
			}
		}()
	}

	w, err := p.spawn(s.id)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		log.Error("Pool: could not respawn worker", "slot", s.id, "err", err)
		s.dead = true
		return
	}
	s.worker = w
	p.stats.Respawned++
}

func (p *Pool[W]) cancelQueued(j *job[W]) {
	p.mu.Lock()
	removed := false
	for i, q := range p.queue {
		if q == j {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			removed = true
			break
		}
	}
	p.mu.Unlock()

	if removed {
		p.addQueued(context.Background(), -1)
		j.future.settle(j.ctx.Err())
	}
}

func (p *Pool[W]) record(err error, abandoned bool, elapsed time.Duration) {
	outcome := "done"

	p.mu.Lock()
	switch {
	case err == nil:
		p.stats.Completed++
	case abandoned || errors.Is(err, ErrTaskTimeout):
		p.stats.Failed++
		p.stats.TimedOut++
		outcome = "timeout"
	default:
		p.stats.Failed++
		outcome = "failed"
	}
	p.mu.Unlock()

	ctx := context.Background()
	p.tasks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	p.duration.Record(ctx, elapsed.Seconds())
}

func (p *Pool[W]) addQueued(ctx context.Context, n int64) {
	if p.queued != nil {
		p.queued.Add(ctx, n)
	}
}

// idleSlot must be called with the lock held.
func (p *Pool[W]) idleSlot() *slot[W] {
	for _, s := range p.slots {
		if !s.busy && !s.dead {
			return s
		}
	}
	return nil
}

// liveSlots must be called with the lock held.
func (p *Pool[W]) liveSlots() int {
	n := 0
	for _, s := range p.slots {
		if !s.dead {
			n++
		}
	}
	return n
}

func (p *Pool[W]) closeWorkers() error {
	var errs []error
	for _, s := range p.slots {
		if s.dead {
			continue
		}
		if c, ok := any(s.worker).(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close worker %d: %w", s.id, err))
			}
		}
	}
	return errors.Join(errs...)
}
