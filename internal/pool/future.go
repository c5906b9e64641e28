package pool

import (
	"context"
	"sync"
	"sync/atomic"
)

// Future is the pending result of a submitted task.
type Future struct {
	done   chan struct{}
	once   sync.Once
	err    error
	status atomic.Int32
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed once the task has settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the task error. It is only meaningful after Done is closed.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Status returns the current task status.
func (f *Future) Status() Status {
	return Status(f.status.Load())
}

// Wait blocks until the task settles or ctx ends.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle resolves the future once; later calls are ignored.
func (f *Future) settle(err error) bool {
	settled := false
	f.once.Do(func() {
		f.err = err
		if err != nil {
			f.status.Store(int32(StatusFailed))
		} else {
			f.status.Store(int32(StatusDone))
		}
		close(f.done)
		settled = true
	})
	return settled
}
