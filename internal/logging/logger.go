package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AgentDir is the per-project state directory shared with agents.
const AgentDir = ".agent"

// Logger appends timestamped lines to .agent/logs/hatloop.log so users can
// inspect a run after the terminal scrollback is gone. Warnings are echoed
// to stderr as well.
type Logger struct {
	file   *os.File
	stderr io.Writer
}

// New creates (or reuses) the log file for the given project directory.
func New(projectDir string) (*Logger, error) {
	logDir := filepath.Join(projectDir, AgentDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, "hatloop.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{file: f, stderr: os.Stderr}, nil
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes a single timestamped line to the log file.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	timestamp := time.Now().Format(time.RFC3339)
	fmt.Fprintf(l.file, "[%s] %s\n", timestamp, line)
}

// Warnf logs the line and mirrors it to stderr. Used for diagnostics the
// user should see even without tailing the log file.
func (l *Logger) Warnf(format string, args ...any) {
	l.Printf("warning: "+format, args...)
	if l == nil || l.stderr == nil {
		return
	}
	fmt.Fprintf(l.stderr, "hatloop: warning: "+strings.TrimRight(format, "\n")+"\n", args...)
}
