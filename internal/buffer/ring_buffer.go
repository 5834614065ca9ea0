// Package buffer provides a bounded ring buffer for session queues.
package buffer

import (
	"sync"
)

// RingBuffer is a thread-safe circular buffer that stores the most recent items
// up to a specified capacity. When the buffer is full, the oldest item is discarded
// to make room for the new one.
//
// This backs the outbound queue (messages produced while offline) and the
// inbound de-duplication window.
type RingBuffer[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewRingBuffer creates a new RingBuffer with the specified capacity.
// The capacity must be greater than 0; if not, it defaults to 1.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends item to the buffer. If the buffer is full, the oldest item is
// evicted and returned with evicted=true.
func (rb *RingBuffer[T]) Push(item T) (dropped T, evicted bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == rb.capacity {
		dropped = rb.items[rb.head]
		rb.items[rb.head] = item
		rb.head = (rb.head + 1) % rb.capacity
		return dropped, true
	}

	rb.items[(rb.head+rb.size)%rb.capacity] = item
	rb.size++
	return dropped, false
}

// Drain removes and returns all items, oldest first.
func (rb *RingBuffer[T]) Drain() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := rb.snapshotLocked()
	rb.clearLocked()
	return out
}

// ReadAll returns a copy of all items currently in the buffer, oldest first.
// The returned slice is safe to use without holding the lock.
func (rb *RingBuffer[T]) ReadAll() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.snapshotLocked()
}

func (rb *RingBuffer[T]) snapshotLocked() []T {
	if rb.size == 0 {
		return nil
	}

	out := make([]T, rb.size)
	for i := 0; i < rb.size; i++ {
		out[i] = rb.items[(rb.head+i)%rb.capacity]
	}
	return out
}

func (rb *RingBuffer[T]) clearLocked() {
	var zero T
	for i := range rb.items {
		rb.items[i] = zero
	}
	rb.head = 0
	rb.size = 0
}

// Len returns the current number of items in the buffer.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return rb.size
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer[T]) Cap() int {
	return rb.capacity
}
