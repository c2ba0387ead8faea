package runtime

import (
	"chat-hub/domain/event"
	"chat-hub/errors"
	"sync"
)

const DefaultOutboxCapacity = 256

type PushResult int

const (
	Queued PushResult = iota
	// DroppedIncoming means the pushed ephemeral frame was discarded.
	DroppedIncoming
	// EvictedEphemeral means the oldest queued ephemeral frame made room for the pushed one.
	EvictedEphemeral
)

// Outbox is the bounded outbound queue of one session.
// Ephemeral frames are sacrificed before durable ones; a durable frame that finds no room is an error.
type Outbox struct {
	mu       sync.Mutex
	frames   []event.Frame
	capacity int
	closed   bool
	ready    chan struct{}
	done     chan struct{}
}

func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = DefaultOutboxCapacity
	}
	return &Outbox{
		frames:   make([]event.Frame, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (o *Outbox) Push(f event.Frame) (PushResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return Queued, errors.ErrOutboxClosed
	}
	result := Queued
	if len(o.frames) >= o.capacity {
		if f.Ephemeral {
			return DroppedIncoming, nil
		}
		idx := -1
		for i, queued := range o.frames {
			if queued.Ephemeral {
				idx = i
				break
			}
		}
		if idx < 0 {
			return Queued, errors.ErrOutboxFull
		}
		o.frames = append(o.frames[:idx], o.frames[idx+1:]...)
		result = EvictedEphemeral
	}
	o.frames = append(o.frames, f)
	select {
	case o.ready <- struct{}{}:
	default:
	}
	return result, nil
}

// Drain removes and returns every queued frame in order.
func (o *Outbox) Drain() []event.Frame {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := o.frames
	o.frames = make([]event.Frame, 0, o.capacity)
	return out
}

// Ready is signalled whenever frames were pushed since the last Drain.
func (o *Outbox) Ready() <-chan struct{} { return o.ready }

// Done is closed by Close.
func (o *Outbox) Done() <-chan struct{} { return o.done }

func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.done)
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}
