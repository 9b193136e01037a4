package bus

import (
	"fmt"
	"strings"
)

// DefaultHatID is the synthetic hat used when no hats are configured.
const DefaultHatID = "default"

// Hat is a named persona: instructions, subscription patterns, and an
// optional backend override. Hats are registered once at startup and never
// mutated afterwards.
type Hat struct {
	// ID uniquely identifies the hat within a registry.
	ID string

	// Name is the human-readable label used in prompts and logs.
	Name string

	// Subscriptions are topic patterns this hat receives events for.
	Subscriptions []string

	// Publishes lists topics the hat is expected to emit. Advisory only:
	// it feeds the prompt topology and publishes hint; it is not validated
	// and never enforced against output.
	Publishes []string

	// Instructions are prepended to the agent prompt when this hat runs.
	// A per-hat backend override, when configured, lives with the loop's
	// runner table rather than here; the bus only routes.
	Instructions string
}

// Subscribed reports whether any of the hat's patterns matches the topic.
func (h Hat) Subscribed(topic string) bool {
	for _, pattern := range h.Subscriptions {
		if MatchTopic(pattern, topic) {
			return true
		}
	}
	return false
}

// DefaultHat returns the synthetic single-hat-mode hat: subscribed to
// everything, carrying the classic loop instructions.
func DefaultHat(instructions string) Hat {
	return Hat{
		ID:            DefaultHatID,
		Name:          "Default",
		Subscriptions: []string{"*"},
		Publishes:     []string{"task.done"},
		Instructions:  instructions,
	}
}

// Registry holds the hats known to a loop, preserving registration order.
// It is sealed after startup: Register returns an error once Seal is called.
type Registry struct {
	order  []string
	byID   map[string]Hat
	sealed bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: map[string]Hat{}}
}

// Register adds a hat. Registration order is significant: it breaks ties
// when several hats subscribe to overlapping patterns.
func (r *Registry) Register(hat Hat) error {
	if r.sealed {
		return fmt.Errorf("bus: registry is sealed, cannot register %q", hat.ID)
	}
	id := strings.TrimSpace(hat.ID)
	if id == "" {
		return fmt.Errorf("bus: hat id is required")
	}
	if _, exists := r.byID[id]; exists {
		return fmt.Errorf("bus: hat %q is already registered", id)
	}
	hat.ID = id
	r.byID[id] = hat
	r.order = append(r.order, id)
	return nil
}

// Seal freezes the registry. Routing stays deterministic and safeguard
// accounting auditable because no hat can appear mid-loop.
func (r *Registry) Seal() {
	r.sealed = true
}

// Get returns the hat with the given ID.
func (r *Registry) Get(id string) (Hat, bool) {
	hat, ok := r.byID[id]
	return hat, ok
}

// IDs returns hat IDs in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// All returns hats in registration order.
func (r *Registry) All() []Hat {
	hats := make([]Hat, 0, len(r.order))
	for _, id := range r.order {
		hats = append(hats, r.byID[id])
	}
	return hats
}

// Len returns the number of registered hats.
func (r *Registry) Len() int {
	return len(r.order)
}
