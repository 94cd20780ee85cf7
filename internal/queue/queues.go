// Package queue implements per-session event queues: an internal queue
// (raised by <raise>, <send> with target "#_internal", and platform events
// like done.state.*) and an external queue (everything else: external
// <send>, invoke children, I/O processors). W3C SCXML 3.13 requires the
// internal queue to always be drained before the next external event is
// taken, which Queues.Pop implements directly rather than leaving the
// caller to poll two channels.
package queue

import (
	"context"
	"errors"

	"github.com/comalice/scxmlrt/model"
)

// ErrClosed is returned by Pop/Push once the queue has been closed, e.g.
// when its owning session is destroyed.
var ErrClosed = errors.New("queue: closed")

// Queues holds one session's internal and external event queues.
type Queues struct {
	internal chan model.Event
	external chan model.Event
	closed   chan struct{}
}

// New creates a Queues with the given external queue capacity. The internal
// queue is unbounded in practice (buffered generously) since a microstep
// never blocks on its own <raise> output — SCXML forbids backpressure on
// internally generated events.
func New(externalCapacity int) *Queues {
	if externalCapacity <= 0 {
		externalCapacity = 64
	}
	return &Queues{
		internal: make(chan model.Event, 256),
		external: make(chan model.Event, externalCapacity),
		closed:   make(chan struct{}),
	}
}

// PushInternal enqueues an internally raised or platform event. Never
// blocks: the internal queue's buffer is sized generously, and a microstep
// that overflows it indicates a runaway <raise> loop in the machine
// definition, not a condition the runtime should silently stall on.
func (q *Queues) PushInternal(e model.Event) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.internal <- e:
		return nil
	default:
		// Buffer exhausted: drop is preferable to deadlocking the session's
		// single worker goroutine against itself.
		return errors.New("queue: internal queue full, event dropped")
	}
}

// PushExternal enqueues an externally delivered event, blocking until space
// is available, ctx is done, or the queue is closed.
func (q *Queues) PushExternal(ctx context.Context, e model.Event) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.external <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closed:
		return ErrClosed
	}
}

// Pop blocks until an event is available or ctx is done, always preferring
// the internal queue per W3C SCXML 3.13.
func (q *Queues) Pop(ctx context.Context) (model.Event, error) {
	select {
	case e := <-q.internal:
		return e, nil
	default:
	}
	select {
	case e := <-q.internal:
		return e, nil
	case e := <-q.external:
		return e, nil
	case <-ctx.Done():
		return model.Event{}, ctx.Err()
	case <-q.closed:
		return model.Event{}, ErrClosed
	}
}

// HasInternal reports whether an internal event is ready without consuming
// it, used by the microstep loop to decide whether it is still in the
// middle of a macrostep (eventless + internal processing) or may block for
// the next external event.
func (q *Queues) HasInternal() bool {
	return len(q.internal) > 0
}

// Close releases blocked Pop/PushExternal callers with ErrClosed.
func (q *Queues) Close() {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
}
