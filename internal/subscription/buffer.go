package subscription

import (
	"context"
	"io"
	"sync"
)

// eventBuffer is an unbounded FIFO backed by a ring that doubles when full.
// Send never blocks. A single consumer waits on wake; after close, buffered
// items drain before the terminal error is reported.
type eventBuffer[T any] struct {
	mu     sync.Mutex
	ring   []T
	head   int
	size   int
	closed bool
	err    error // nil means clean end
	wake   chan struct{}
}

func newEventBuffer[T any](initialCapacity int) *eventBuffer[T] {
	return &eventBuffer[T]{
		ring: make([]T, max(initialCapacity, 1)),
		wake: make(chan struct{}, 1),
	}
}

// Send appends item. It reports false once the buffer is closed.
func (b *eventBuffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if b.size == len(b.ring) {
		b.resize(2 * len(b.ring))
	}
	b.ring[(b.head+b.size)%len(b.ring)] = item
	b.size++
	b.notify()
	return true
}

// CloseWithError ends the buffer. Only the first call has effect.
func (b *eventBuffer[T]) CloseWithError(err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	b.closed = true
	b.err = err
	b.notify()
	return true
}

// Receive blocks until an item is available, the buffer ends or ctx is done.
// A clean end is reported as io.EOF.
func (b *eventBuffer[T]) Receive(ctx context.Context) (T, error) {
	for {
		item, ok, err := b.pop()
		if ok {
			return item, err
		}

		select {
		case <-b.wake:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// pop takes the head item or the terminal error. ok is false when the
// caller has to wait.
func (b *eventBuffer[T]) pop() (item T, ok bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	switch {
	case b.size > 0:
		item = b.ring[b.head]
		b.ring[b.head] = zero
		b.head = (b.head + 1) % len(b.ring)
		b.size--
		return item, true, nil
	case b.closed:
		if b.err != nil {
			return zero, true, b.err
		}
		return zero, true, io.EOF
	default:
		return zero, false, nil
	}
}

// Len returns the number of buffered items.
func (b *eventBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the current ring capacity.
func (b *eventBuffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}

// notify wakes the consumer without blocking. Caller holds mu.
func (b *eventBuffer[T]) notify() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// resize moves the items to a ring of capacity n, head first. Caller holds mu.
func (b *eventBuffer[T]) resize(n int) {
	ring := make([]T, n)
	for i := range b.size {
		ring[i] = b.ring[(b.head+i)%len(b.ring)]
	}
	b.ring = ring
	b.head = 0
}
