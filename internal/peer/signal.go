package peer

import (
	"context"
	"sync"
	"time"
)

// Signal is a one-shot value. The first Resolve wins; Cancel releases
// waiters without a value. Both are safe to call from any goroutine, any
// number of times.
type Signal[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	ok   bool
}

func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{done: make(chan struct{})}
}

// Resolve stores v and releases waiters. It reports whether this call was
// the one that settled the signal.
func (s *Signal[T]) Resolve(v T) bool {
	settled := false
	s.once.Do(func() {
		s.val = v
		s.ok = true
		settled = true
		close(s.done)
	})
	return settled
}

// Cancel settles the signal without a value.
func (s *Signal[T]) Cancel() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Done is closed once the signal is settled either way.
func (s *Signal[T]) Done() <-chan struct{} {
	return s.done
}

// Peek returns the value without blocking.
func (s *Signal[T]) Peek() (T, bool) {
	select {
	case <-s.done:
		return s.val, s.ok
	default:
		var zero T
		return zero, false
	}
}

// Wait blocks until the signal settles, timeout elapses, or ctx is done.
// The bool is false whenever no value was observed. A non-positive timeout
// waits without a deadline.
func (s *Signal[T]) Wait(ctx context.Context, timeout time.Duration) (T, bool) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var zero T
	select {
	case <-s.done:
		return s.val, s.ok
	case <-expired:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}
