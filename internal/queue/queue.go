package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Receive once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a thread-safe unbounded FIFO that doubles its capacity when it
// reaches 70% full. It is meant for a single consumer: the Ready signal
// carries at most one pending wakeup.
type Queue[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	ready chan struct{} // holds one token while items may be pending
	done  chan struct{} // closed by Close

	// Stats
	totalReceived int64
	totalSent     int64
	resizeCount   int
}

// New creates a queue with the given initial capacity.
func New[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &Queue[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Send appends an item. Returns false if the queue is closed.
func (q *Queue[T]) Send(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	threshold := (q.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold {
		q.grow()
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	q.totalReceived++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// TryReceive removes the oldest item without blocking.
func (q *Queue[T]) TryReceive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.count == 0 {
		return zero, false
	}

	item := q.buf[q.head]
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.totalSent++

	return item, true
}

// Receive blocks until an item is available, the queue is closed and
// empty (ErrClosed), or ctx is done.
func (q *Queue[T]) Receive(ctx context.Context) (T, error) {
	for {
		if item, ok := q.TryReceive(); ok {
			return item, nil
		}

		select {
		case <-q.ready:
		case <-q.done:
			if item, ok := q.TryReceive(); ok {
				return item, nil
			}
			var zero T
			return zero, ErrClosed
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Ready fires after a Send. Drain with TryReceive until it reports false.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Done is closed when the queue is closed.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Close closes the queue. Send returns false afterwards; items already
// queued can still be received. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Len returns the current number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats contains queue statistics.
type Stats struct {
	Count         int
	Capacity      int
	TotalReceived int64
	TotalSent     int64
	ResizeCount   int
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Count:         q.count,
		Capacity:      q.capacity,
		TotalReceived: q.totalReceived,
		TotalSent:     q.totalSent,
		ResizeCount:   q.resizeCount,
	}
}

// grow doubles the ring capacity. Must be called with lock held.
func (q *Queue[T]) grow() {
	newCapacity := q.capacity * 2
	newBuf := make([]T, newCapacity)

	if q.count > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.count
	q.capacity = newCapacity
	q.resizeCount++
}
