// Package logbook persists a human-readable history of loop progress to
// .agent/logs/logbook.txt: a line when each iteration starts and finishes
// and one per published event,
// so users can reconstruct what a run did without replaying output.
package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hatloop/internal/bus"
	"hatloop/internal/loop"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logbook appends entries to a simple text file.
type Logbook struct {
	path string
	mu   sync.Mutex
}

// New creates a logbook that writes to the provided path.
func New(path string) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Logbook{path: path}, nil
}

// ForProject returns the conventional logbook for a project directory.
func ForProject(projectDir string) (*Logbook, error) {
	return New(filepath.Join(projectDir, ".agent", "logs", "logbook.txt"))
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes a single entry to the logbook.
func (l *Logbook) Append(level Level, message string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s %-5s %s\n",
		time.Now().UTC().Format(time.RFC3339),
		string(level),
		strings.TrimSpace(message),
	)
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line)
}

// Tail returns up to maxLines of the most recent log entries.
func (l *Logbook) Tail(maxLines int) []string {
	if l == nil || maxLines <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) == 0 {
		return nil
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) {
	l.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}

// EventPublished satisfies loop.Observer.
func (l *Logbook) EventPublished(event bus.Event) {
	target := ""
	if event.Target != "" {
		target = " -> " + event.Target
	}
	l.Info("event %d [%s]%s %s", event.Sequence, event.Topic, target, firstLine(event.Payload))
}

// IterationStarted satisfies loop.Observer.
func (l *Logbook) IterationStarted(iteration int, hatID string) {
	l.Info("iteration %d: %s", iteration, hatID)
}

// IterationFinished satisfies loop.Observer.
func (l *Logbook) IterationFinished(iteration int, hatID string, success bool, state loop.State) {
	if success {
		l.Info("iteration %d: %s ok (cost $%.2f)", iteration, hatID, state.CostUSD)
		return
	}
	l.Warn("iteration %d: %s failed (consecutive %d)", iteration, hatID, state.ConsecutiveFailures)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 100 {
		s = s[:97] + "..."
	}
	return s
}
