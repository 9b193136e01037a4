package loop

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// Checkpointer persists progress at configured intervals. Failures are
// logged by the loop and never terminate it.
type Checkpointer interface {
	Checkpoint(iteration int, reason string) error
}

// NopCheckpointer disables checkpointing.
type NopCheckpointer struct{}

// Checkpoint does nothing.
func (NopCheckpointer) Checkpoint(int, string) error { return nil }

// GitCheckpointer commits the working tree as a checkpoint.
type GitCheckpointer struct {
	// Dir is the repository directory. Empty means the process working
	// directory.
	Dir string
}

// Checkpoint stages everything and commits, allowing an empty commit so a
// checkpoint exists even when the agent produced no changes.
func (g GitCheckpointer) Checkpoint(iteration int, reason string) error {
	if _, err := g.git("add", "-A"); err != nil {
		return err
	}
	message := fmt.Sprintf("hatloop: checkpoint at iteration %d (%s)", iteration, reason)
	if _, err := g.git("commit", "--allow-empty", "-m", message); err != nil {
		return err
	}
	return nil
}

func (g GitCheckpointer) git(args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command("git", args...)
	cmd.Dir = g.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return stdout.String(), fmt.Errorf("loop: git %s: %s", strings.Join(args, " "), msg)
	}
	return stdout.String(), nil
}
