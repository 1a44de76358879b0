// Package channel implements the bounded queues that join pipeline stages.
//
// A Channel is a single-producer/single-consumer FIFO: Send blocks while
// the buffer is full, Receive blocks while it is empty, and Close lets the
// consumer drain whatever is buffered before it starts seeing ErrClosed.
// Ownership of an item transfers fully to the receiver on dequeue.
package channel

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultCapacity is used by callers that do not configure a capacity.
const DefaultCapacity = 8

var (
	// ErrClosed is returned by Send after Close, and by Receive once all
	// buffered items have been drained.
	ErrClosed = errors.New("channel closed")
	// ErrTimeout is returned by ReceiveTimeout when the deadline expires
	// before an item arrives.
	ErrTimeout = errors.New("receive timed out")
)

// Channel is a bounded FIFO of capacity fixed at construction.
type Channel[T any] struct {
	items chan T
	done  chan struct{}
	once  sync.Once
}

// New creates a channel with the given capacity (must be >= 1).
func New[T any](capacity int) (*Channel[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("channel capacity must be >= 1, got %d", capacity)
	}
	return &Channel[T]{
		items: make(chan T, capacity),
		done:  make(chan struct{}),
	}, nil
}

// Send enqueues item, blocking while the buffer is full. It returns
// ErrClosed if the channel is closed before or while blocked.
func (c *Channel[T]) Send(item T) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.items <- item:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Receive dequeues the next item, blocking while the buffer is empty.
// After Close it keeps returning buffered items until the channel is
// empty, then returns ErrClosed.
func (c *Channel[T]) Receive() (T, error) {
	select {
	case item := <-c.items:
		return item, nil
	case <-c.done:
		return c.drain()
	}
}

// ReceiveTimeout behaves like Receive but gives up after d. A non-positive
// d means block forever.
func (c *Channel[T]) ReceiveTimeout(d time.Duration) (T, error) {
	if d <= 0 {
		return c.Receive()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case item := <-c.items:
		return item, nil
	case <-c.done:
		return c.drain()
	case <-timer.C:
		var zero T
		return zero, ErrTimeout
	}
}

// drain empties remaining items after close. Both select arms of Receive
// can fire at once; buffered items always win over the closed signal.
func (c *Channel[T]) drain() (T, error) {
	select {
	case item := <-c.items:
		return item, nil
	default:
		var zero T
		return zero, ErrClosed
	}
}

// Close marks the channel closed. Idempotent; only the producer side
// should call it. Pending items stay receivable.
func (c *Channel[T]) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// Closed reports whether Close has been called.
func (c *Channel[T]) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Len returns the number of buffered items.
func (c *Channel[T]) Len() int {
	return len(c.items)
}

// Cap returns the channel capacity.
func (c *Channel[T]) Cap() int {
	return cap(c.items)
}
