package monitor

import (
	"testing"

	"hatloop/internal/bus"
	"hatloop/internal/loop"
)

func TestMonitorBuffersAndFlushes(t *testing.T) {
	m := New(WithSubscriberCapacity(4))
	m.EventPublished(bus.Event{ID: "evt-1", Topic: "task.start"})
	m.EventPublished(bus.Event{ID: "evt-2", Topic: "impl.done"})

	sub := m.Subscribe()
	defer sub.Close()

	got1 := <-sub.Updates
	if got1.Event.ID != "evt-1" {
		t.Fatalf("expected first buffered update, got %s", got1.Event.ID)
	}
	got2 := <-sub.Updates
	if got2.Event.ID != "evt-2" {
		t.Fatalf("expected second buffered update, got %s", got2.Event.ID)
	}
}

func TestMonitorDedupeByEventID(t *testing.T) {
	m := New()
	sub := m.Subscribe()
	defer sub.Close()

	event := bus.Event{ID: "evt-1", Topic: "task.start"}
	m.EventPublished(event)
	m.EventPublished(event)

	select {
	case got := <-sub.Updates:
		if got.Event.ID != "evt-1" {
			t.Fatalf("unexpected update: %s", got.Event.ID)
		}
	default:
		t.Fatalf("expected first delivery")
	}
	select {
	case <-sub.Updates:
		t.Fatalf("duplicate event delivered")
	default:
	}
}

func TestMonitorDropsOldestOnOverflow(t *testing.T) {
	m := New(WithSubscriberCapacity(1))
	sub := m.Subscribe()
	defer sub.Close()

	m.EventPublished(bus.Event{ID: "evt-1", Topic: "one"})
	m.EventPublished(bus.Event{ID: "evt-2", Topic: "two"})

	got := <-sub.Updates
	if got.Event.ID != "evt-2" {
		t.Fatalf("overflow should keep the newest update, got %s", got.Event.ID)
	}
}

func TestMonitorIterationUpdates(t *testing.T) {
	m := New()
	sub := m.Subscribe()
	defer sub.Close()

	m.IterationStarted(1, "impl")
	m.IterationFinished(1, "impl", true, loop.State{Iteration: 1})

	started := <-sub.Updates
	if started.Kind != KindIterationStarted || started.HatID != "impl" {
		t.Fatalf("started update = %+v", started)
	}
	finished := <-sub.Updates
	if finished.Kind != KindIterationFinished || !finished.Success {
		t.Fatalf("finished update = %+v", finished)
	}
	if finished.State.Iteration != 1 {
		t.Fatalf("state snapshot missing: %+v", finished.State)
	}
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	m := New()
	sub := m.Subscribe()
	sub.Close()

	// Closed subscribers must be skipped, not panicked on.
	m.EventPublished(bus.Event{ID: "evt-1", Topic: "task.start"})
}
