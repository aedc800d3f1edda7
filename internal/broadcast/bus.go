package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the ring size used when none is configured.
const DefaultCapacity = 256

// Errors
var (
	ErrNoSubscribers = errors.New("broadcast has no subscribers")
	ErrClosed        = errors.New("broadcast closed")
	ErrEmpty         = errors.New("broadcast empty")
	ErrLagged        = errors.New("broadcast subscriber lagged")
)

// LaggedError reports values overwritten before a subscriber read them.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("broadcast subscriber lagged, missed %d", e.Missed)
}

// Is reports whether target is ErrLagged.
func (e *LaggedError) Is(target error) bool {
	return target == ErrLagged
}

// Stats contains bus statistics.
type Stats struct {
	Capacity    int
	Subscribers int
	Published   int64
	Lagged      int64 // values missed across all subscribers
}

// Bus is a bounded single-producer, multi-consumer ring.
type Bus[T any] struct {
	mu          sync.RWMutex
	slots       []T
	head        uint64 // sequence number of the next publish
	wake        chan struct{}
	subscribers int
	closed      bool

	published atomic.Int64
	lagged    atomic.Int64
}

// closedChan is returned by Ready when data is already pending.
var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// New creates a bus holding at most capacity unread values per subscriber.
func New[T any](capacity int) *Bus[T] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Bus[T]{
		slots: make([]T, capacity),
		wake:  make(chan struct{}),
	}
}

// Publish stores v for every current subscriber and returns how many there
// are. With no subscribers the value is dropped and ErrNoSubscribers is
// returned.
func (b *Bus[T]) Publish(v T) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}
	if b.subscribers == 0 {
		return 0, ErrNoSubscribers
	}

	b.slots[b.head%uint64(len(b.slots))] = v
	b.head++
	b.published.Add(1)

	close(b.wake)
	b.wake = make(chan struct{})

	return b.subscribers, nil
}

// Subscribe returns a subscriber that sees every value published from now on.
func (b *Bus[T]) Subscribe() *Subscriber[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers++
	return &Subscriber[T]{bus: b, next: b.head}
}

// Close wakes every subscriber. Subscribers drain what is retained and then
// receive ErrClosed. Close is idempotent.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.wake)
}

// Len returns the number of live subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.subscribers
}

// Stats returns bus statistics.
func (b *Bus[T]) Stats() Stats {
	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()

	return Stats{
		Capacity:    len(b.slots),
		Subscribers: subs,
		Published:   b.published.Load(),
		Lagged:      b.lagged.Load(),
	}
}

// Subscriber is one cursor into a Bus. It must be used by a single
// goroutine.
type Subscriber[T any] struct {
	bus    *Bus[T]
	next   uint64
	closed atomic.Bool
}

// TryRecv returns the next value without blocking. It returns ErrEmpty when
// caught up, *LaggedError after an overrun, and ErrClosed once the bus or
// the subscriber is closed and nothing is left.
func (s *Subscriber[T]) TryRecv() (T, error) {
	var zero T
	if s.closed.Load() {
		return zero, ErrClosed
	}

	b := s.bus
	b.mu.RLock()
	defer b.mu.RUnlock()

	if s.next == b.head {
		if b.closed {
			return zero, ErrClosed
		}
		return zero, ErrEmpty
	}

	capacity := uint64(len(b.slots))
	if b.head-s.next > capacity {
		oldest := b.head - capacity
		missed := oldest - s.next
		s.next = oldest
		b.lagged.Add(int64(missed))
		return zero, &LaggedError{Missed: missed}
	}

	v := b.slots[s.next%capacity]
	s.next++
	return v, nil
}

// Ready returns a channel that is closed when TryRecv may return something
// other than ErrEmpty.
func (s *Subscriber[T]) Ready() <-chan struct{} {
	if s.closed.Load() {
		return closedChan
	}

	b := s.bus
	b.mu.RLock()
	defer b.mu.RUnlock()

	if s.next != b.head || b.closed {
		return closedChan
	}
	return b.wake
}

// Recv blocks until a value is available or ctx is done.
func (s *Subscriber[T]) Recv(ctx context.Context) (T, error) {
	for {
		v, err := s.TryRecv()
		if !errors.Is(err, ErrEmpty) {
			return v, err
		}

		select {
		case <-s.Ready():
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Resubscribe returns a new subscriber on the same bus starting at the
// current head.
func (s *Subscriber[T]) Resubscribe() *Subscriber[T] {
	return s.bus.Subscribe()
}

// Close releases the subscription. Close is idempotent.
func (s *Subscriber[T]) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	b := s.bus
	b.mu.Lock()
	b.subscribers--
	b.mu.Unlock()
}
