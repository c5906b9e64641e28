package pool

import (
	"errors"
	"runtime"
	"time"
)

var (
	// ErrPoolClosed is returned for tasks submitted to, or queued in, a closed pool
	ErrPoolClosed = errors.New("pool is closed")

	// ErrQueueFull is returned when the bounded task queue is at capacity
	ErrQueueFull = errors.New("task queue is full")

	// ErrTaskTimeout is returned when a task exceeds the configured timeout
	ErrTaskTimeout = errors.New("task timed out")

	// ErrNoWorkers is returned when every worker handle failed to respawn
	ErrNoWorkers = errors.New("no workers available")
)

// Status is the lifecycle state of a submitted task.
type Status int32

const (
	StatusPending Status = iota
	StatusRunning
	StatusDone
	StatusFailed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds the pool configuration.
type Config struct {
	// Size is the number of worker handles.
	Size int

	// MaxQueued bounds the number of waiting tasks. Zero means unbounded;
	// otherwise Submit rejects with ErrQueueFull once the bound is reached.
	MaxQueued int

	// Timeout bounds a single task. Zero disables it.
	Timeout time.Duration

	// Grace is how long a task may take to return after its context ends
	// before its worker is retired.
	Grace time.Duration
}

// DefaultConfig returns a pool sized to the machine.
func DefaultConfig() Config {
	return Config{
		Size:    runtime.NumCPU(),
		Timeout: 2 * time.Minute,
		Grace:   250 * time.Millisecond,
	}
}

// Stats is a snapshot of pool activity.
type Stats struct {
	Size      int   // Configured worker count
	Live      int   // Workers currently usable
	Busy      int   // Workers running a task
	Queued    int   // Tasks waiting for a worker
	Completed int64 // Tasks that returned nil
	Failed    int64 // Tasks that returned an error, panicked or timed out
	TimedOut  int64 // Tasks abandoned after their context ended
	Respawned int64 // Worker handles replaced after abandonment
}
