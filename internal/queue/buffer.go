// Package queue provides the hand-off buffer between the connection's
// observer callbacks, which must not block, and slower consumers such as
// the database writer.
package queue

import (
	"sync"
)

// Buffer is a thread-safe FIFO ring that doubles its capacity when it
// reaches 70% full, up to an optional limit. Once the limit is reached,
// Send drops the item and counts it.
type Buffer[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int // read position
	tail   int // write position
	count  int
	limit  int // 0 = unbounded
	closed bool

	// Stats
	received int64
	sent     int64
	dropped  int64
	resizes  int
}

// Stats is a snapshot of buffer counters.
type Stats struct {
	Len      int
	Cap      int
	Received int64
	Sent     int64
	Dropped  int64
	Resizes  int
}

// New creates a buffer with the given initial capacity. limit caps growth;
// 0 means unbounded.
func New[T any](initial, limit int) *Buffer[T] {
	if initial < 1 {
		initial = 1
	}
	if limit > 0 && limit < initial {
		initial = limit
	}
	b := &Buffer[T]{
		ring:  make([]T, initial),
		limit: limit,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send appends item without blocking. It returns false if the buffer is
// closed or full.
func (b *Buffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := max(len(b.ring)*70/100, 1)
	if b.count+1 >= threshold {
		b.grow()
	}
	if b.count == len(b.ring) {
		b.dropped++
		return false
	}

	b.ring[b.tail] = item
	b.tail = (b.tail + 1) % len(b.ring)
	b.count++
	b.received++

	b.cond.Signal()
	return true
}

// Receive blocks until an item is available or the buffer is closed and
// drained.
func (b *Buffer[T]) Receive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.pop(), true
}

// TryReceive returns the oldest item without blocking.
func (b *Buffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.pop(), true
}

// ReceiveBatch blocks until at least one item is available, then returns up
// to n items (all of them if n <= 0). It returns nil once the buffer is
// closed and drained.
func (b *Buffer[T]) ReceiveBatch(n int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	return b.drain(n)
}

// Drain removes up to n items (all if n <= 0) without blocking.
func (b *Buffer[T]) Drain(n int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drain(n)
}

// Close rejects further sends and wakes blocked receivers. Items already
// buffered can still be received.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current ring capacity.
func (b *Buffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}

// Stats returns buffer statistics.
func (b *Buffer[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Len:      b.count,
		Cap:      len(b.ring),
		Received: b.received,
		Sent:     b.sent,
		Dropped:  b.dropped,
		Resizes:  b.resizes,
	}
}

// pop removes the head item. Must be called with lock held and count > 0.
func (b *Buffer[T]) pop() T {
	item := b.ring[b.head]
	var zero T
	b.ring[b.head] = zero
	b.head = (b.head + 1) % len(b.ring)
	b.count--
	b.sent++
	return item
}

func (b *Buffer[T]) drain(n int) []T {
	if b.count == 0 {
		return nil
	}
	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]T, n)
	for i := range out {
		out[i] = b.pop()
	}
	return out
}

// grow doubles the ring, bounded by limit. Must be called with lock held.
func (b *Buffer[T]) grow() {
	size := len(b.ring) * 2
	if b.limit > 0 && size > b.limit {
		size = b.limit
	}
	if size <= len(b.ring) {
		return
	}

	ring := make([]T, size)
	if b.count > 0 {
		if b.head < b.tail {
			copy(ring, b.ring[b.head:b.tail])
		} else {
			n := copy(ring, b.ring[b.head:])
			copy(ring[n:], b.ring[:b.tail])
		}
	}

	b.ring = ring
	b.head = 0
	b.tail = b.count
	b.resizes++
}
