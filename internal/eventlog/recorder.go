package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hatloop/internal/bus"
)

// Recorder appends every published event to a session recording so runs can
// be inspected or replayed after the fact. Recording is optional; a nil
// *Recorder is a no-op.
type Recorder struct {
	file *os.File
}

type sessionLine struct {
	ID       string    `json:"id"`
	Sequence uint64    `json:"sequence"`
	Topic    string    `json:"topic"`
	Payload  string    `json:"payload,omitempty"`
	Source   string    `json:"source,omitempty"`
	Target   string    `json:"target,omitempty"`
	TS       time.Time `json:"ts"`
}

// NewRecorder opens (or creates) a session recording file.
func NewRecorder(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: ensure recording dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open recording: %w", err)
	}
	return &Recorder{file: f}, nil
}

// Record appends one published event. Failures are returned but callers
// treat them as non-fatal diagnostics.
func (r *Recorder) Record(event bus.Event) error {
	if r == nil || r.file == nil {
		return nil
	}
	line := sessionLine{
		ID:       event.ID,
		Sequence: event.Sequence,
		Topic:    event.Topic,
		Payload:  event.Payload,
		Source:   event.Source,
		Target:   event.Target,
		TS:       event.PublishedAt,
	}
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("eventlog: encode event: %w", err)
	}
	if _, err := r.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("eventlog: write recording: %w", err)
	}
	return nil
}

// Close releases the recording file handle.
func (r *Recorder) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	return r.file.Close()
}
