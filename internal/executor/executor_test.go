package executor

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func shellExecutor(t *testing.T, script string, timeout time.Duration) *Executor {
	t.Helper()
	exe, err := New(Config{
		Command:    "/bin/sh",
		Args:       []string{"-c", script},
		PromptMode: PromptModeStdin,
		Timeout:    timeout,
	}, WithKillGrace(200*time.Millisecond))
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	return exe
}

func TestRunForwardsBytesAndDetectsSentinel(t *testing.T) {
	exe := shellExecutor(t, `printf 'working...\nLOOP_COMPLETE\n'`, 0)
	var sink bytes.Buffer

	outcome, err := exe.Run(context.Background(), Request{Sink: &sink, Sentinel: "LOOP_COMPLETE"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !outcome.Success() {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if !outcome.CompletionDetected {
		t.Fatalf("sentinel not detected")
	}
	if got := sink.String(); got != "working...\nLOOP_COMPLETE\n" {
		t.Fatalf("sink = %q", got)
	}
}

func TestRunDeliversPromptOnStdin(t *testing.T) {
	exe := shellExecutor(t, `cat`, 0)
	var sink bytes.Buffer

	outcome, err := exe.Run(context.Background(), Request{Prompt: "hello agent", Sink: &sink, Sentinel: "LOOP_COMPLETE"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !outcome.Success() {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if sink.String() != "hello agent" {
		t.Fatalf("stdin prompt not echoed: %q", sink.String())
	}
}

func TestRunDeliversPromptAsArgument(t *testing.T) {
	exe, err := New(Config{
		Command:    "/bin/echo",
		PromptMode: PromptModeArgument,
	})
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	var sink bytes.Buffer
	if _, err := exe.Run(context.Background(), Request{Prompt: "prompt text", Sink: &sink, Sentinel: "X"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sink.String() != "prompt text\n" {
		t.Fatalf("argument prompt not echoed: %q", sink.String())
	}
}

func TestRunExtractsEvents(t *testing.T) {
	exe := shellExecutor(t, `printf '<event topic="impl.done">ok</event>\n'`, 0)
	var sink bytes.Buffer

	outcome, err := exe.Run(context.Background(), Request{Sink: &sink, Sentinel: "LOOP_COMPLETE"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(outcome.Events) != 1 || outcome.Events[0].Topic != "impl.done" {
		t.Fatalf("events = %+v", outcome.Events)
	}
	// Marker bytes still reach the sink unchanged.
	if !bytes.Contains(sink.Bytes(), []byte(`<event topic="impl.done">`)) {
		t.Fatalf("marker withheld from sink: %q", sink.String())
	}
}

func TestRunMergesStderr(t *testing.T) {
	exe := shellExecutor(t, `echo out; echo err 1>&2`, 0)
	var sink bytes.Buffer

	if _, err := exe.Run(context.Background(), Request{Sink: &sink, Sentinel: "X"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !bytes.Contains(sink.Bytes(), []byte("out\n")) || !bytes.Contains(sink.Bytes(), []byte("err\n")) {
		t.Fatalf("merged output missing streams: %q", sink.String())
	}
}

func TestRunClassifiesNonzeroExit(t *testing.T) {
	exe := shellExecutor(t, `exit 3`, 0)
	var sink bytes.Buffer

	outcome, err := exe.Run(context.Background(), Request{Sink: &sink, Sentinel: "X"})
	if err != nil {
		t.Fatalf("nonzero exit is a fact, not an error: %v", err)
	}
	if outcome.Success() || outcome.ExitStatus != 3 {
		t.Fatalf("outcome = %+v", outcome)
	}
}

func TestRunKillsOnTimeout(t *testing.T) {
	exe := shellExecutor(t, `sleep 30`, 150*time.Millisecond)
	var sink bytes.Buffer

	start := time.Now()
	outcome, err := exe.Run(context.Background(), Request{Sink: &sink, Sentinel: "X"})
	if err != nil {
		t.Fatalf("timeout kill is a classified failure, not an error: %v", err)
	}
	if !outcome.KilledByTimeout {
		t.Fatalf("expected timeout kill, got %+v", outcome)
	}
	if outcome.Success() {
		t.Fatalf("timeout must not classify as success")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("kill escalation took too long: %v", elapsed)
	}
}

func TestRunCancelledContext(t *testing.T) {
	exe := shellExecutor(t, `sleep 30`, 0)
	var sink bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := exe.Run(ctx, Request{Sink: &sink, Sentinel: "X"})
	if err == nil {
		t.Fatalf("expected context error on interruption")
	}
}

func TestRunSpawnFailure(t *testing.T) {
	exe, err := New(Config{
		Command:    "/nonexistent/binary",
		PromptMode: PromptModeStdin,
	})
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	var sink bytes.Buffer
	if _, err := exe.Run(context.Background(), Request{Sink: &sink, Sentinel: "X"}); err == nil {
		t.Fatalf("expected spawn failure")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid argument", Config{Command: "claude", PromptMode: PromptModeArgument}, false},
		{"valid stdin", Config{Command: "amp", PromptMode: PromptModeStdin}, false},
		{"missing command", Config{PromptMode: PromptModeStdin}, true},
		{"bad mode", Config{Command: "x", PromptMode: "telepathy"}, true},
		{"flag with stdin", Config{Command: "x", PromptMode: PromptModeStdin, PromptFlag: "-p"}, true},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestNamedBackends(t *testing.T) {
	for _, name := range BackendNames() {
		cfg, ok := Named(name)
		if !ok {
			t.Fatalf("backend %q listed but not resolvable", name)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("backend %q has invalid shape: %v", name, err)
		}
	}
	if _, ok := Named("no-such-backend"); ok {
		t.Fatalf("unknown backend resolved")
	}
}
