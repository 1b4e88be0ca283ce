// Package broker fans flow-execution events out to whoever is watching a
// run. It owns the process-wide registry of live run channels, the bounded
// per-consumer delivery queues, and the manager the execution driver
// notifies. Executions proceed identically whether or not a channel exists;
// a run with no watchers pays a single map lookup per notification.
package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/voxflow/voxflow/internal/event"
	"github.com/voxflow/voxflow/internal/metrics"
)

var (
	// ErrClosed is returned by Next once the channel is terminal and the
	// consumer has drained everything, and by Subscribe after a terminal
	// event closed the channel to new attachments.
	ErrClosed = errors.New("event channel closed")

	// ErrTimeout is returned by Next when no event arrived in time.
	ErrTimeout = errors.New("no event before timeout")
)

// Channel carries the ordered event stream of one execution to zero or more
// consumers. Each consumer has its own bounded queue: when it is full the
// oldest unread event for that consumer is evicted, so one stalled observer
// never delays or corrupts delivery to the others. The documented contract
// for callers is at-most-capacity buffered, oldest dropped.
type Channel struct {
	executionID string
	capacity    int

	mu        sync.Mutex
	seq       uint64
	consumers map[*Consumer]struct{}
	terminal  bool
	onDrained func()
}

func newChannel(executionID string, capacity int) *Channel {
	return &Channel{
		executionID: executionID,
		capacity:    capacity,
		consumers:   make(map[*Consumer]struct{}),
	}
}

// ExecutionID returns the run this channel belongs to.
func (c *Channel) ExecutionID() string { return c.executionID }

// ConsumerCount returns the number of currently attached consumers.
func (c *Channel) ConsumerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.consumers)
}

// Sequence returns the sequence number of the most recently published event.
func (c *Channel) Sequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Terminal reports whether a terminal event has been published.
func (c *Channel) Terminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal
}

// Publish appends an event to every attached consumer without blocking.
// Publishing with zero consumers still advances the sequence counter and
// discards the event; nobody is listening, nothing to preserve. The first
// terminal event closes the channel to new subscriptions and, once no
// consumers remain, triggers registry cleanup. Publishes after the terminal
// event are accepted and ignored.
func (c *Channel) Publish(kind event.Kind, payload event.Payload) {
	c.mu.Lock()
	if c.terminal {
		c.mu.Unlock()
		return
	}
	c.seq++
	ev := event.Event{
		Kind:        kind,
		ExecutionID: c.executionID,
		Sequence:    c.seq,
		Timestamp:   time.Now().UTC(),
		Payload:     payload,
	}
	for cons := range c.consumers {
		cons.push(ev)
	}
	if !kind.Terminal() {
		c.mu.Unlock()
		return
	}

	c.terminal = true
	for cons := range c.consumers {
		close(cons.events)
	}
	drained := len(c.consumers) == 0
	cb := c.onDrained
	c.mu.Unlock()

	if drained && cb != nil {
		cb()
	}
}

// Subscribe attaches a new consumer. The consumer's first delivered event is
// a connected greeting carrying the execution id; it reuses the current
// sequence number so the events that follow stay strictly increasing from
// the consumer's point of view.
func (c *Channel) Subscribe() (*Consumer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal {
		return nil, ErrClosed
	}
	cons := &Consumer{
		ch:     c,
		events: make(chan event.Event, c.capacity),
	}
	cons.push(event.Event{
		Kind:        event.KindConnected,
		ExecutionID: c.executionID,
		Sequence:    c.seq,
		Timestamp:   time.Now().UTC(),
		Payload:     event.Connected{ExecutionID: c.executionID, Description: "attached to run event stream"},
	})
	c.consumers[cons] = struct{}{}
	metrics.ConsumersActive.Inc()
	return cons, nil
}

// Unsubscribe detaches a consumer. It is idempotent; a second call for the
// same consumer is a no-op. Detaching the last consumer of a terminal
// channel triggers registry cleanup.
func (c *Channel) Unsubscribe(cons *Consumer) {
	c.mu.Lock()
	if _, ok := c.consumers[cons]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.consumers, cons)
	metrics.ConsumersActive.Dec()
	drained := c.terminal && len(c.consumers) == 0
	cb := c.onDrained
	c.mu.Unlock()

	if drained && cb != nil {
		cb()
	}
}

// Consumer is one observer's read cursor into a Channel.
type Consumer struct {
	ch     *Channel
	events chan event.Event
}

// push delivers without blocking: if the queue is full, the oldest unread
// event is evicted first. Only called with the channel mutex held, so a
// closed queue is never pushed to.
func (cons *Consumer) push(ev event.Event) {
	for {
		select {
		case cons.events <- ev:
			return
		default:
		}
		select {
		case <-cons.events:
			metrics.EventsDropped.Inc()
		default:
		}
	}
}

// Next blocks until an event is available, the timeout elapses, the channel
// closes with nothing left for this consumer, or ctx is cancelled. This is
// the subsystem's one suspension point for observers. Delivering a terminal
// event detaches the consumer, so a reader that sees the end of a run needs
// no explicit Unsubscribe (though calling it anyway is harmless).
func (cons *Consumer) Next(ctx context.Context, timeout time.Duration) (event.Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev, ok := <-cons.events:
		if !ok {
			cons.ch.Unsubscribe(cons)
			return event.Event{}, ErrClosed
		}
		if ev.Kind.Terminal() {
			cons.ch.Unsubscribe(cons)
		}
		return ev, nil
	case <-timer.C:
		return event.Event{}, ErrTimeout
	case <-ctx.Done():
		return event.Event{}, ctx.Err()
	}
}
