// Package reassembly turns results that complete in any order back into
// index order.
package reassembly

import "sync"

// Buffer holds results that arrived ahead of the next expected index and
// emits the contiguous run starting at that index.
//
// Only one goroutine flushes at a time. A Put that lands while a flush is
// running just stores its value; the active flusher picks it up before it
// lets go of the flushing flag.
type Buffer[T any] struct {
	emit func(index int, v T)

	mu       sync.Mutex
	next     int
	pending  map[int]T
	flushing bool
}

// New creates a buffer that expects index 0 first. emit is called in index
// order, outside the buffer's lock, and may block.
func New[T any](emit func(index int, v T)) *Buffer[T] {
	return &Buffer[T]{emit: emit, pending: make(map[int]T)}
}

// Put records the result for index. Results for indexes already emitted or
// already pending are ignored. It reports whether v was accepted.
func (b *Buffer[T]) Put(index int, v T) bool {
	b.mu.Lock()
	if index < b.next {
		b.mu.Unlock()
		return false
	}
	if _, dup := b.pending[index]; dup {
		b.mu.Unlock()
		return false
	}
	b.pending[index] = v
	if b.flushing {
		b.mu.Unlock()
		return true
	}
	b.flushing = true
	b.mu.Unlock()

	b.flush()
	return true
}

func (b *Buffer[T]) flush() {
	for {
		b.mu.Lock()
		v, ok := b.pending[b.next]
		if !ok {
			b.flushing = false
			b.mu.Unlock()
			return
		}
		index := b.next
		delete(b.pending, index)
		b.next++
		b.mu.Unlock()

		b.emit(index, v)
	}
}

// Next returns the next index to be emitted.
func (b *Buffer[T]) Next() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

// Pending returns the number of results waiting for an earlier index.
func (b *Buffer[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
