package penguiflow

import (
	"context"
	"errors"
)

// DefaultFloeCapacity is the default bounded capacity of a Floe when an
// edge does not specify one explicitly.
const DefaultFloeCapacity = 64

// ErrFloeFull is returned by PutNowait when the floe has no spare capacity.
var ErrFloeFull = errors.New("penguiflow: floe is full")

// ErrFloeEmpty is returned by TryGet when no item is immediately available.
var ErrFloeEmpty = errors.New("penguiflow: floe is empty")

// ErrFloeClosed is returned by Put/PutNowait once a Floe has been closed.
var ErrFloeClosed = errors.New("penguiflow: floe is closed")

// Floe is a bounded, strictly-FIFO channel connecting two nodes. It supports
// multiple producers and a single consumer goroutine (the node task loop):
// ordering across distinct producers into the same floe is not guaranteed
// relative to each other, but items from any one producer are never
// reordered, and no item is ever dropped or duplicated. A plain buffered
// channel is sufficient here since edges need FIFO delivery, not a priority
// or replay-ordered queue.
type Floe[T any] struct {
	ch       chan T
	capacity int
	closed   chan struct{}
}

// NewFloe creates a Floe with the given bounded capacity. A capacity of
// zero or less falls back to DefaultFloeCapacity.
func NewFloe[T any](capacity int) *Floe[T] {
	if capacity <= 0 {
		capacity = DefaultFloeCapacity
	}
	return &Floe[T]{
		ch:       make(chan T, capacity),
		capacity: capacity,
		closed:   make(chan struct{}),
	}
}

// Capacity returns the floe's fixed buffer size.
func (f *Floe[T]) Capacity() int { return f.capacity }

// Depth returns the number of items currently buffered (best-effort,
// advisory only — used for FlowEvent.QueueDepth* reporting).
func (f *Floe[T]) Depth() int { return len(f.ch) }

// Put enqueues item, blocking while the floe is full. It honors ctx
// cancellation: if ctx is done before capacity frees up, ctx.Err() is
// returned and the item is not enqueued. This is the runtime's sole
// backpressure mechanism — there is no drop path.
func (f *Floe[T]) Put(ctx context.Context, item T) error {
	select {
	case <-f.closed:
		return ErrFloeClosed
	default:
	}
	select {
	case f.ch <- item:
		return nil
	case <-f.closed:
		return ErrFloeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PutNowait enqueues item only if capacity is immediately available,
// otherwise returns ErrFloeFull without blocking.
func (f *Floe[T]) PutNowait(item T) error {
	select {
	case <-f.closed:
		return ErrFloeClosed
	default:
	}
	select {
	case f.ch <- item:
		return nil
	default:
		return ErrFloeFull
	}
}

// Get dequeues the next item, blocking until one is available or ctx is
// cancelled.
func (f *Floe[T]) Get(ctx context.Context) (T, error) {
	var zero T
	select {
	case item, ok := <-f.ch:
		if !ok {
			return zero, ErrFloeClosed
		}
		return item, nil
	case <-f.closed:
		return zero, ErrFloeClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryGet dequeues the next item without blocking, returning ErrFloeEmpty if
// none is immediately available.
func (f *Floe[T]) TryGet() (T, error) {
	var zero T
	select {
	case item, ok := <-f.ch:
		if !ok {
			return zero, ErrFloeClosed
		}
		return item, nil
	default:
		return zero, ErrFloeEmpty
	}
}

// Close marks the floe closed: pending Put/Get calls unblock with
// ErrFloeClosed. Close is idempotent.
func (f *Floe[T]) Close() {
	select {
	case <-f.closed:
		return
	default:
		close(f.closed)
	}
}
