// Package queue provides the in-process FIFO that fans workflow service
// actions from the socket read loop to the host-facing stream consumer. The
// queue is unbounded, strictly ordered for a single producer, and carries
// explicit close semantics: consumers observe "end" once the queue is closed
// and drained.
package queue

import (
	"context"
	"sync"
)

// Queue is a FIFO with explicit close. Push never blocks; Take blocks until
// a value, close, or context cancellation. All methods are safe for
// concurrent use.
type Queue[T any] struct {
	mu     sync.Mutex
	buf    []T
	closed bool
	wake   chan struct{}
}

// New returns an empty open queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{wake: make(chan struct{})}
}

// Push appends v to the queue and wakes a waiting taker. It reports whether
// the value was accepted: pushes after Close are dropped.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.buf = append(q.buf, v)
	q.wakeLocked()
	return true
}

// Take returns the oldest value. When the queue is empty it blocks until a
// value is pushed, the queue is closed, or ctx is done. ok is false once the
// queue is closed and drained; err is non-nil only for context cancellation.
func (q *Queue[T]) Take(ctx context.Context) (v T, ok bool, err error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.buf) > 0 {
			v = q.buf[0]
			q.buf = q.buf[1:]
			q.mu.Unlock()
			return v, true, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, false, nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, false, ctx.Err()
		case <-wake:
		}
	}
}

// Close marks the queue closed and wakes all waiting takers. Values buffered
// before Close remain takeable; later pushes are dropped. Close is
// idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.wakeLocked()
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of buffered values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// wakeLocked broadcasts a state change by closing the current wake channel
// and installing a fresh one. Callers must hold mu.
func (q *Queue[T]) wakeLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}
