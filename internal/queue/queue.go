// Package queue provides the bounded hand-off channels between pipeline
// tasks.
//
// A [Queue] never blocks its producer: when it is full the oldest queued value
// is evicted to make room. The capture loop relies on this so a slow consumer
// costs old audio rather than stalling the device read.
package queue

import "sync"

// Queue is a bounded FIFO with drop-oldest overflow. Consumers receive from
// [Queue.C]. Push and Close are safe for concurrent use; a value pushed after
// Close is discarded.
type Queue[T any] struct {
	ch chan T

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// New returns a Queue holding at most capacity values. Capacity below 1 is
// treated as 1.
func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{ch: make(chan T, max(capacity, 1))}
}

// Push enqueues v. When the queue is full the oldest value is removed and
// returned with evicted set to true. Push reports accepted=false only when
// the queue is closed.
func (q *Queue[T]) Push(v T) (old T, evicted, accepted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return old, false, false
	}
	for {
		select {
		case q.ch <- v:
			return old, evicted, true
		default:
		}
		// Full. The consumer may win the race for the head; then the
		// next send succeeds without evicting.
		select {
		case old = <-q.ch:
			evicted = true
			q.dropped++
		default:
		}
	}
}

// C returns the receive side. It is closed by [Queue.Close] once the values
// already queued have been received.
func (q *Queue[T]) C() <-chan T { return q.ch }

// Len returns the number of queued values.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap returns the capacity.
func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Dropped returns how many values were evicted so far.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close stops accepting values and closes the channel. Queued values remain
// receivable. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
