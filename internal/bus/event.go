package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event is a single message routed between hats. Events are immutable once
// published: the bus stamps ID and Sequence at publish time and nothing
// mutates them afterwards.
type Event struct {
	// ID uniquely identifies the event for dedupe and recording. It plays
	// no part in routing.
	ID string

	// Topic is a dotted lower-kebab identifier, e.g. "impl.done".
	Topic string

	// Payload is the opaque text carried between the event markers.
	Payload string

	// Source names the hat that emitted the event. Empty for seeded events.
	Source string

	// Target names a hat for direct handoff, bypassing topic matching.
	Target string

	// Sequence is assigned at publish time and totals publish order.
	Sequence uint64

	// PublishedAt records when the bus accepted the event.
	PublishedAt time.Time
}

// NewEvent builds an unpublished event with the given topic and payload.
func NewEvent(topic, payload string) Event {
	return Event{Topic: topic, Payload: payload}
}

// WithSource returns a copy of the event attributed to the given hat.
func (e Event) WithSource(hatID string) Event {
	e.Source = hatID
	return e
}

// WithTarget returns a copy of the event addressed directly to the given hat.
func (e Event) WithTarget(hatID string) Event {
	e.Target = hatID
	return e
}

func stampEvent(e Event, seq uint64, now time.Time) Event {
	e.ID = uuid.NewString()
	e.Sequence = seq
	e.PublishedAt = now
	return e
}
