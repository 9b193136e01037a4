// Package bus implements the in-memory pub/sub queue that drives the loop.
//
// The bus is deliberately single-threaded: only the orchestrator publishes
// and consumes, so there is no locking. Events are held in a FIFO queue,
// stamped with a monotonically increasing sequence at publish, and resolved
// to a recipient hat when popped.
package bus

import (
	"time"
)

// Logger records routing diagnostics. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

// Option customizes Bus construction.
type Option func(*Bus)

// WithLogger injects a logger for drop/diagnostic messages.
func WithLogger(logger Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(b *Bus) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// Bus is the loop's event queue plus the subscription table derived from the
// hat registry. Owned exclusively by the orchestrator.
type Bus struct {
	registry   *Registry
	queue      []Event
	nextSeq    uint64
	unroutable int
	logger     Logger
	clock      func() time.Time
}

// New wires a bus to a sealed hat registry.
func New(registry *Registry, opts ...Option) *Bus {
	b := &Bus{
		registry: registry,
		nextSeq:  1,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Publish stamps the event with the next sequence number and enqueues it at
// the tail. The stamped event is returned so callers can record it.
func (b *Bus) Publish(event Event) Event {
	stamped := stampEvent(event, b.nextSeq, b.clock())
	b.nextSeq++
	b.queue = append(b.queue, stamped)
	return stamped
}

// NextReady pops the head event and resolves its recipient. A direct target
// naming a registered hat wins; otherwise hats are scanned in registration
// order and the first whose subscriptions match the topic receives the
// event. Events with no recipient are dropped with a warning and the scan
// continues with the next queued event.
func (b *Bus) NextReady() (Event, string, bool) {
	for len(b.queue) > 0 {
		event := b.queue[0]
		b.queue = b.queue[1:]

		if event.Target != "" {
			if _, ok := b.registry.Get(event.Target); ok {
				return event, event.Target, true
			}
		}
		if id, ok := b.firstSubscriber(event.Topic); ok {
			return event, id, true
		}

		b.unroutable++
		if b.logger != nil {
			b.logger.Printf("bus: dropping unroutable event %q (seq %d)", event.Topic, event.Sequence)
		}
	}
	return Event{}, "", false
}

func (b *Bus) firstSubscriber(topic string) (string, bool) {
	for _, id := range b.registry.IDs() {
		hat, _ := b.registry.Get(id)
		if hat.Subscribed(topic) {
			return id, true
		}
	}
	return "", false
}

// PendingCount returns the number of queued events.
func (b *Bus) PendingCount() int {
	return len(b.queue)
}

// UnroutableCount returns how many events were dropped for lack of a
// recipient. Dropped events never feed safeguard accounting.
func (b *Bus) UnroutableCount() int {
	return b.unroutable
}

// Registry returns the hat registry the bus routes against.
func (b *Bus) Registry() *Registry {
	return b.registry
}
