package cache

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Debouncer coalesces bursts of mutations into a single flush.
//
// Mark sets a dirty flag and schedules one flush interval from the first
// unflushed mutation. Further marks while that flush is pending only set the
// flag. Marks that arrive while a flush is running are picked up by the next
// cycle. A failed flush is logged and retried on the next cycle.
type Debouncer struct {
	interval time.Duration
	flush    func() error
	name     string

	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64 // identifies the currently armed timer
	armed    bool
	flushing bool
	dirty    bool
	closed   bool
	flushes  int64
	failures int64

	runMu sync.Mutex // serializes flush executions
}

// NewDebouncer returns a Debouncer that calls flush at most once per interval.
func NewDebouncer(name string, interval time.Duration, flush func() error) *Debouncer {
	if interval <= 0 {
		interval = FlushInterval
	}
	return &Debouncer{
		interval: interval,
		flush:    flush,
		name:     name,
	}
}

// Mark records a mutation.
func (d *Debouncer) Mark() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.dirty = true
	if !d.armed && !d.flushing {
		d.arm()
	}
}

// Dirty reports whether there are unflushed mutations.
func (d *Debouncer) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty
}

// Pending reports whether a flush timer is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// Flushes returns the number of completed flushes and failed attempts.
func (d *Debouncer) Flushes() (completed, failed int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushes, d.failures
}

// Flush cancels any scheduled flush and runs it now.
func (d *Debouncer) Flush() error {
	d.disarm()
	return d.run()
}

// Close runs a final flush and stops scheduling new ones.
func (d *Debouncer) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.disarm()
	return d.run()
}

// arm must be called with the lock held.
func (d *Debouncer) arm() {
	d.gen++
	gen := d.gen
	d.armed = true
	d.timer = time.AfterFunc(d.interval, func() { d.fire(gen) })
}

func (d *Debouncer) disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.armed {
		d.timer.Stop()
		d.armed = false
		d.gen++
	}
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.armed = false
	d.mu.Unlock()

	_ = d.run()
}

func (d *Debouncer) run() error {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.mu.Lock()
	if !d.dirty {
		d.mu.Unlock()
		return nil
	}
	d.dirty = false
	d.flushing = true
	d.mu.Unlock()

	err := d.flush()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.flushing = false
	if err != nil {
		d.failures++
		d.dirty = true
		log.Warn("Cache flush failed, retrying next cycle", "cache", d.name, "err", err)
	} else {
		d.flushes++
	}
	if d.dirty && !d.closed && !d.armed {
		d.arm()
	}
	return err
}
