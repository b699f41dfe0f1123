package grid_go

import (
	"fmt"
	"sync"
)

// SafeChannel is a channel whose Send never blocks and never panics after Close.
// With a buffer of one it behaves like an auto-reset event: raising an already raised
// signal is a no-op, and one waiter consumes it.
type SafeChannel[T any] struct {
	ch     chan T
	closed bool
	mu     sync.RWMutex
}

func NewSafeChannelGen[T any](buffer int) *SafeChannel[T] {
	return &SafeChannel[T]{
		ch: make(chan T, buffer),
	}
}

// Send delivers value if there is room. It reports false when full or closed.
func (sc *SafeChannel[T]) Send(value T) bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	if sc.closed {
		return false
	}
	select {
	case sc.ch <- value:
		return true
	default:
		return false
	}
}

func (sc *SafeChannel[T]) Close() (err error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.closed {
		return fmt.Errorf("channel already closed")
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while closing channel: %v", r)
		}
	}()

	close(sc.ch)
	sc.closed = true
	return nil
}

func (sc *SafeChannel[T]) GetChannel() chan T {
	return sc.ch
}

// drain discards a pending value, if any.
func (sc *SafeChannel[T]) drain() {
	select {
	case <-sc.ch:
	default:
	}
}

// broadcast wakes every waiter at once. Waiters take the current channel with wait()
// while still holding the lock that guards the condition they checked, so a notify
// issued after that check is never missed.
type broadcast struct {
	mu sync.Mutex
	ch chan struct{}
}

func newBroadcast() *broadcast {
	return &broadcast{ch: make(chan struct{})}
}

func (b *broadcast) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

func (b *broadcast) notify() {
	b.mu.Lock()
	close(b.ch)
	b.ch = make(chan struct{})
	b.mu.Unlock()
}
