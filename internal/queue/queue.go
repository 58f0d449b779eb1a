// Package queue provides the concurrent FIFO used for simulator commands
// and replies.
//
// Producers never block. Pop never blocks either: an empty queue returns
// ok == false and the consumer decides how long to idle before trying
// again.
package queue

import (
	"sync"

	"github.com/star/radarsim/internal/metrics"
)

// Queue is a mutex-guarded FIFO. The zero value is not usable; call New.
type Queue[T any] struct {
	name     string
	capacity int // <= 0 means unbounded

	mu      sync.Mutex
	items   []T
	head    int
	dropped int64
}

// New creates a queue. When capacity > 0 and the queue is full, Push
// discards the oldest element to make room.
func New[T any](name string, capacity int) *Queue[T] {
	return &Queue[T]{
		name:     name,
		capacity: capacity,
	}
}

// Name returns the label used for metrics.
func (q *Queue[T]) Name() string {
	return q.name
}

// Push appends v to the tail of the queue.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	if q.capacity > 0 && q.lenLocked() >= q.capacity {
		var zero T
		q.items[q.head] = zero
		q.head++
		q.dropped++
		q.compactLocked()
		metrics.IncQueueDrops(q.name)
	}
	q.items = append(q.items, v)
	n := q.lenLocked()
	q.mu.Unlock()

	metrics.SetQueueDepth(q.name, n)
}

// Pop removes and returns the head of the queue. ok is false when the
// queue is empty.
func (q *Queue[T]) Pop() (v T, ok bool) {
	q.mu.Lock()
	if q.lenLocked() == 0 {
		q.mu.Unlock()
		return v, false
	}
	v = q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head++
	q.compactLocked()
	n := q.lenLocked()
	q.mu.Unlock()

	metrics.SetQueueDepth(q.name, n)
	return v, true
}

// Drain pops up to max elements (all of them when max <= 0) in FIFO order.
func (q *Queue[T]) Drain(max int) []T {
	q.mu.Lock()
	n := q.lenLocked()
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		q.mu.Unlock()
		return nil
	}
	out := make([]T, n)
	copy(out, q.items[q.head:q.head+n])
	var zero T
	for i := q.head; i < q.head+n; i++ {
		q.items[i] = zero
	}
	q.head += n
	q.compactLocked()
	left := q.lenLocked()
	q.mu.Unlock()

	metrics.SetQueueDepth(q.name, left)
	return out
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Dropped returns how many elements were discarded by the capacity limit.
func (q *Queue[T]) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue[T]) lenLocked() int {
	return len(q.items) - q.head
}

// compactLocked reclaims the consumed prefix once it dominates the slice.
func (q *Queue[T]) compactLocked() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
}
