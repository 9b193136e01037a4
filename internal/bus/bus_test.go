package bus

import (
	"fmt"
	"testing"
	"time"
)

type captureLogger struct {
	lines []string
}

func (c *captureLogger) Printf(format string, args ...any) {
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func newTestRegistry(t *testing.T, hats ...Hat) *Registry {
	t.Helper()
	registry := NewRegistry()
	for _, hat := range hats {
		if err := registry.Register(hat); err != nil {
			t.Fatalf("register %s: %v", hat.ID, err)
		}
	}
	registry.Seal()
	return registry
}

func TestPublishAssignsIncreasingSequence(t *testing.T) {
	registry := newTestRegistry(t, Hat{ID: "impl", Subscriptions: []string{"*"}})
	b := New(registry, WithClock(func() time.Time { return time.Unix(0, 0) }))

	first := b.Publish(NewEvent("task.start", "go"))
	second := b.Publish(NewEvent("task.continue", "more"))

	if first.Sequence >= second.Sequence {
		t.Fatalf("sequence not increasing: %d then %d", first.Sequence, second.Sequence)
	}
	if first.ID == "" || second.ID == "" {
		t.Fatalf("publish should stamp event IDs")
	}
	if first.ID == second.ID {
		t.Fatalf("event IDs should be unique")
	}
}

func TestNextReadyReturnsPublishOrder(t *testing.T) {
	registry := newTestRegistry(t, Hat{ID: "impl", Subscriptions: []string{"*"}})
	b := New(registry)

	for i := 0; i < 5; i++ {
		b.Publish(NewEvent("task.start", "x"))
	}

	var last uint64
	for i := 0; i < 5; i++ {
		event, hatID, ok := b.NextReady()
		if !ok {
			t.Fatalf("expected event %d", i)
		}
		if hatID != "impl" {
			t.Fatalf("expected impl recipient, got %s", hatID)
		}
		if event.Sequence <= last {
			t.Fatalf("sequence went backwards: %d after %d", event.Sequence, last)
		}
		last = event.Sequence
	}
	if _, _, ok := b.NextReady(); ok {
		t.Fatalf("queue should be drained")
	}
}

func TestNextReadyRegistrationOrderTieBreak(t *testing.T) {
	registry := newTestRegistry(t,
		Hat{ID: "first", Subscriptions: []string{"task.*"}},
		Hat{ID: "second", Subscriptions: []string{"task.*"}},
	)
	b := New(registry)
	b.Publish(NewEvent("task.start", "x"))

	_, hatID, ok := b.NextReady()
	if !ok || hatID != "first" {
		t.Fatalf("expected first-registered hat, got %q ok=%v", hatID, ok)
	}
}

func TestNextReadyDirectTarget(t *testing.T) {
	registry := newTestRegistry(t,
		Hat{ID: "impl", Subscriptions: []string{"task.*"}},
		Hat{ID: "rev", Subscriptions: []string{"impl.*"}},
	)
	b := New(registry)

	// No rev subscription matches "handoff"; the target routes it anyway.
	b.Publish(NewEvent("handoff", "see here").WithTarget("rev"))

	_, hatID, ok := b.NextReady()
	if !ok || hatID != "rev" {
		t.Fatalf("expected direct handoff to rev, got %q ok=%v", hatID, ok)
	}
}

func TestNextReadyUnknownTargetFallsBackToMatching(t *testing.T) {
	registry := newTestRegistry(t, Hat{ID: "impl", Subscriptions: []string{"task.*"}})
	b := New(registry)
	b.Publish(NewEvent("task.start", "x").WithTarget("ghost"))

	_, hatID, ok := b.NextReady()
	if !ok || hatID != "impl" {
		t.Fatalf("expected fallback to pattern match, got %q ok=%v", hatID, ok)
	}
}

func TestNextReadyDropsUnroutable(t *testing.T) {
	registry := newTestRegistry(t, Hat{ID: "impl", Subscriptions: []string{"task.*"}})
	logger := &captureLogger{}
	b := New(registry, WithLogger(logger))

	b.Publish(NewEvent("review.done", "nobody listens"))
	b.Publish(NewEvent("task.start", "x"))

	event, hatID, ok := b.NextReady()
	if !ok || hatID != "impl" || event.Topic != "task.start" {
		t.Fatalf("expected routable event after drop, got %q -> %q ok=%v", event.Topic, hatID, ok)
	}
	if b.UnroutableCount() != 1 {
		t.Fatalf("expected 1 unroutable drop, got %d", b.UnroutableCount())
	}
	if len(logger.lines) != 1 {
		t.Fatalf("expected a warning line, got %d", len(logger.lines))
	}
}

func TestRegistrySealRejectsLateRegistration(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(Hat{ID: "impl"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	registry.Seal()
	if err := registry.Register(Hat{ID: "late"}); err == nil {
		t.Fatalf("expected sealed registry to reject registration")
	}
}

func TestRegistryRejectsDuplicateAndEmptyIDs(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(Hat{ID: "impl"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(Hat{ID: "impl"}); err == nil {
		t.Fatalf("expected duplicate id to be rejected")
	}
	if err := registry.Register(Hat{ID: "  "}); err == nil {
		t.Fatalf("expected empty id to be rejected")
	}
}

func TestDefaultHatSubscribesToEverything(t *testing.T) {
	hat := DefaultHat("instructions")
	for _, topic := range []string{"anything", "impl.done", "a.b.c"} {
		if !hat.Subscribed(topic) {
			t.Fatalf("default hat should receive %q", topic)
		}
	}
}
