// Package presets discovers and applies workflow presets: reusable hat
// topologies stored under .agent/workflows as YAML files or Go definition
// files evaluated in-interpreter.
package presets

import (
	"fmt"
	"strings"

	"hatloop/internal/config"
)

// Definition describes one workflow preset.
//
// The struct mirrors the on-disk schema under .agent/workflows/*.yaml and
// is intentionally narrow so presets can be validated before they touch the
// run configuration.
type Definition struct {
	ID                string         `yaml:"id"`
	Name              string         `yaml:"name,omitempty"`
	Description       string         `yaml:"description,omitempty"`
	StartingEvent     string         `yaml:"starting_event,omitempty"`
	CompletionPromise string         `yaml:"completion_promise,omitempty"`
	Hats              config.HatList `yaml:"hats"`
}

// Normalized returns a trimmed copy of the definition.
func (def Definition) Normalized() Definition {
	clone := def
	clone.ID = strings.TrimSpace(def.ID)
	clone.Name = strings.TrimSpace(def.Name)
	clone.Description = strings.TrimSpace(def.Description)
	clone.StartingEvent = strings.TrimSpace(def.StartingEvent)
	clone.CompletionPromise = strings.TrimSpace(def.CompletionPromise)
	return clone
}

// Validate ensures the preset is well-formed.
func (def Definition) Validate() error {
	normalized := def.Normalized()
	if normalized.ID == "" {
		return fmt.Errorf("preset: id is required")
	}
	if len(normalized.Hats) == 0 {
		return fmt.Errorf("preset %s: at least one hat is required", normalized.ID)
	}
	seen := map[string]bool{}
	for i, entry := range normalized.Hats {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return fmt.Errorf("preset %s: hats[%d]: id is required", normalized.ID, i)
		}
		if seen[id] {
			return fmt.Errorf("preset %s: duplicate hat id %s", normalized.ID, id)
		}
		seen[id] = true
	}
	return nil
}

// Apply layers the preset onto a copy of the base configuration and
// revalidates the result. Preset hats and starting_event fill in only when
// the config leaves them empty; a preset completion promise replaces the
// configured one.
func (def Definition) Apply(base *config.Config) (*config.Config, error) {
	merged := *base
	if len(merged.Hats) == 0 {
		merged.Hats = def.Hats
	}
	if merged.EventLoop.StartingEvent == "" && def.StartingEvent != "" {
		merged.EventLoop.StartingEvent = def.StartingEvent
	}
	if def.CompletionPromise != "" {
		merged.EventLoop.CompletionPromise = def.CompletionPromise
	}
	if err := merged.Revalidate(); err != nil {
		return nil, fmt.Errorf("preset %s: %w", def.ID, err)
	}
	return &merged, nil
}
