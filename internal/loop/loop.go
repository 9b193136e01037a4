// Package loop drives the orchestration state machine: seed the bus, pick
// the next hat, compose its prompt, run the backend, ingest the events it
// emitted, apply safeguards, and terminate with a typed reason.
package loop

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"hatloop/internal/bus"
	"hatloop/internal/config"
	"hatloop/internal/eventlog"
	"hatloop/internal/executor"
)

// DefaultSeedTopic starts the loop when no starting_event is configured.
const DefaultSeedTopic = "task.start"

// continueTopic re-dispatches the default hat in single-hat mode.
const continueTopic = "task.continue"

// TerminationReason names why the loop stopped.
type TerminationReason string

const (
	ReasonComplete    TerminationReason = "complete"
	ReasonIterations  TerminationReason = "iterations"
	ReasonRuntime     TerminationReason = "runtime"
	ReasonCost        TerminationReason = "cost"
	ReasonFailures    TerminationReason = "failures"
	ReasonIdle        TerminationReason = "idle"
	ReasonDrained     TerminationReason = "drained"
	ReasonInterrupted TerminationReason = "interrupted"
)

// ExitCode maps a termination reason to the orchestrator process exit code.
func (r TerminationReason) ExitCode() int {
	switch r {
	case ReasonComplete:
		return 0
	case ReasonDrained:
		return 2
	case ReasonInterrupted:
		return 130
	default:
		return 1
	}
}

// Logger is the diagnostics sink the loop writes to.
type Logger interface {
	Printf(format string, args ...any)
	Warnf(format string, args ...any)
}

// Runner executes one backend invocation. Satisfied by *executor.Executor.
type Runner interface {
	Run(ctx context.Context, req executor.Request) (executor.Outcome, error)
}

// RunnerFactory builds a Runner for a resolved backend shape. Tests inject
// fakes here.
type RunnerFactory func(cfg executor.Config) (Runner, error)

// EventRecorder persists published events. Satisfied by *eventlog.Recorder.
type EventRecorder interface {
	Record(event bus.Event) error
}

// Observer receives loop progress for display. Implementations must not
// touch bus state; they get copies.
type Observer interface {
	EventPublished(event bus.Event)
	IterationStarted(iteration int, hatID string)
	IterationFinished(iteration int, hatID string, success bool, state State)
}

// State is the loop's mutable accounting, exposed read-only to observers.
type State struct {
	Iteration           int
	ConsecutiveFailures int
	CostUSD             float64
	StartedAt           time.Time
	LastSuccess         time.Time
	LastCheckpoint      int
}

// Result summarizes a finished loop.
type Result struct {
	Reason           TerminationReason
	Iterations       int
	Elapsed          time.Duration
	CostUSD          float64
	UnroutableEvents int
}

// Summary renders the final block printed when the loop stops.
func (r Result) Summary() string {
	label := map[TerminationReason]string{
		ReasonComplete:    "completion promise detected",
		ReasonIterations:  "maximum iterations reached",
		ReasonRuntime:     "maximum runtime exceeded",
		ReasonCost:        "maximum cost exceeded",
		ReasonFailures:    "too many consecutive failures",
		ReasonIdle:        "idle timeout exceeded",
		ReasonDrained:     "no subscribers for remaining events",
		ReasonInterrupted: "interrupted",
	}[r.Reason]

	var b strings.Builder
	rule := strings.Repeat("=", 60)
	b.WriteString("\n" + rule + "\n")
	fmt.Fprintf(&b, "Loop terminated: %s\n", label)
	fmt.Fprintf(&b, "  Iterations: %d\n", r.Iterations)
	fmt.Fprintf(&b, "  Elapsed: %.1fs\n", r.Elapsed.Seconds())
	if r.CostUSD > 0 {
		fmt.Fprintf(&b, "  Cost: $%.2f\n", r.CostUSD)
	}
	if r.UnroutableEvents > 0 {
		fmt.Fprintf(&b, "  Dropped events: %d\n", r.UnroutableEvents)
	}
	b.WriteString(rule + "\n")
	return b.String()
}

// Option customizes Loop construction.
type Option func(*Loop)

// WithSink directs agent output. Defaults to stdout.
func WithSink(sink io.Writer) Option {
	return func(l *Loop) {
		if sink != nil {
			l.sink = sink
		}
	}
}

// WithLogger injects the diagnostics logger.
func WithLogger(logger Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(l *Loop) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithCheckpointer installs the checkpoint collaborator.
func WithCheckpointer(cp Checkpointer) Option {
	return func(l *Loop) {
		if cp != nil {
			l.checkpointer = cp
		}
	}
}

// WithRecorder enables session recording of published events.
func WithRecorder(rec EventRecorder) Option {
	return func(l *Loop) {
		l.recorder = rec
	}
}

// WithObserver attaches a progress observer (the watch TUI, the logbook).
// May be given more than once; observers are notified in attach order.
func WithObserver(obs Observer) Option {
	return func(l *Loop) {
		if obs != nil {
			l.observers = append(l.observers, obs)
		}
	}
}

// WithFileEvents tails a JSONL event file written by agents in addition to
// inline markers.
func WithFileEvents(reader *eventlog.Reader) Option {
	return func(l *Loop) {
		l.fileReader = reader
	}
}

// WithRunnerFactory overrides how backend runners are built (tests).
func WithRunnerFactory(factory RunnerFactory) Option {
	return func(l *Loop) {
		if factory != nil {
			l.factory = factory
		}
	}
}

// Loop owns the bus, the registry, and the safeguard accounting. Single
// consumer, single thread: nothing here is safe for concurrent use.
type Loop struct {
	cfg      *config.Config
	composer *Composer
	registry *bus.Registry
	queue    *bus.Bus
	runners  map[string]Runner

	sink         io.Writer
	logger       Logger
	clock        func() time.Time
	checkpointer Checkpointer
	recorder     EventRecorder
	observers    []Observer
	fileReader   *eventlog.Reader
	factory      RunnerFactory

	state State
}

// New builds a loop from validated configuration and the prompt file text.
// Single-hat mode synthesizes the default hat; multi-hat mode registers the
// configured hats in document order.
func New(cfg *config.Config, promptContent string, opts ...Option) (*Loop, error) {
	l := &Loop{
		cfg:          cfg,
		composer:     NewComposer(cfg.EventLoop.CompletionPromise, promptContent),
		sink:         os.Stdout,
		clock:        time.Now,
		checkpointer: NopCheckpointer{},
		factory: func(ec executor.Config) (Runner, error) {
			return executor.New(ec)
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	registry := bus.NewRegistry()
	if cfg.SingleHatMode() {
		if err := registry.Register(bus.DefaultHat(SingleHatInstructions())); err != nil {
			return nil, err
		}
	} else {
		for _, entry := range cfg.Hats {
			name := entry.Hat.Name
			if name == "" {
				name = entry.ID
			}
			hat := bus.Hat{
				ID:            entry.ID,
				Name:          name,
				Subscriptions: entry.Hat.Subscriptions,
				Publishes:     entry.Hat.Publishes,
				Instructions:  entry.Hat.Instructions,
			}
			if err := registry.Register(hat); err != nil {
				return nil, err
			}
		}
	}
	registry.Seal()
	l.registry = registry
	l.queue = bus.New(registry, bus.WithLogger(busLogger{l.logger}), bus.WithClock(l.clock))

	l.runners = make(map[string]Runner, registry.Len())
	if cfg.SingleHatMode() {
		runner, err := l.buildRunner(nil)
		if err != nil {
			return nil, err
		}
		l.runners[bus.DefaultHatID] = runner
	} else {
		for _, entry := range cfg.Hats {
			runner, err := l.buildRunner(entry.Hat.Backend)
			if err != nil {
				return nil, fmt.Errorf("hat %s: %w", entry.ID, err)
			}
			l.runners[entry.ID] = runner
		}
	}
	return l, nil
}

func (l *Loop) buildRunner(override *config.CLIConfig) (Runner, error) {
	resolved, err := l.cfg.CLI.ResolveOverride(override)
	if err != nil {
		return nil, err
	}
	return l.factory(resolved)
}

// State returns a copy of the loop accounting.
func (l *Loop) State() State {
	return l.state
}

// Run executes the loop until a termination reason is reached.
func (l *Loop) Run(ctx context.Context) Result {
	now := l.clock()
	l.state.StartedAt = now
	l.state.LastSuccess = now

	seedTopic := l.cfg.EventLoop.StartingEvent
	if seedTopic == "" {
		seedTopic = DefaultSeedTopic
	}
	l.publish(bus.NewEvent(seedTopic, l.composer.promptContent))

	for {
		if ctx.Err() != nil {
			return l.finish(ReasonInterrupted)
		}

		event, hatID, ok := l.queue.NextReady()
		if !ok {
			return l.finish(ReasonDrained)
		}
		hat, _ := l.registry.Get(hatID)

		prompt := l.composer.Compose(hat, event, l.registry.All())
		l.state.Iteration++
		for _, obs := range l.observers {
			obs.IterationStarted(l.state.Iteration, hatID)
		}
		l.logf("loop: iteration %d: hat %s (event %s, seq %d)", l.state.Iteration, hatID, event.Topic, event.Sequence)

		outcome, err := l.runners[hatID].Run(ctx, executor.Request{
			Prompt:   prompt,
			Sink:     l.sink,
			Sentinel: l.cfg.EventLoop.CompletionPromise,
		})
		if ctx.Err() != nil {
			// In-flight parsed events are discarded on interruption.
			return l.finish(ReasonInterrupted)
		}

		success := err == nil && outcome.Success()
		if err != nil {
			l.warnf("iteration %d: %v", l.state.Iteration, err)
		}
		for _, warning := range outcome.ParseWarnings {
			l.warnf("iteration %d: parse: %s", l.state.Iteration, warning)
		}

		for _, extracted := range outcome.Events {
			l.publish(bus.Event{
				Topic:   extracted.Topic,
				Payload: extracted.Payload,
				Source:  hatID,
				Target:  extracted.Target,
			})
		}
		l.publishFileEvents(hatID)

		l.state.CostUSD += outcome.CostUSD
		if success {
			l.state.ConsecutiveFailures = 0
			l.state.LastSuccess = l.clock()
		} else {
			l.state.ConsecutiveFailures++
		}

		// Single-hat mode re-dispatches the default hat itself: progression
		// cannot come from agent events when there is only one subscriber.
		// Failed iterations republish too, so the failure bound (not a
		// drained queue) decides when to stop retrying.
		if l.cfg.SingleHatMode() && !outcome.CompletionDetected {
			l.publish(bus.NewEvent(continueTopic, "Continue. Check the scratchpad for remaining work."))
		}

		l.maybeCheckpoint()

		for _, obs := range l.observers {
			obs.IterationFinished(l.state.Iteration, hatID, success, l.state)
		}

		if outcome.CompletionDetected {
			return l.finish(ReasonComplete)
		}
		if reason, tripped := l.safeguard(); tripped {
			return l.finish(reason)
		}
	}
}

func (l *Loop) publish(event bus.Event) {
	stamped := l.queue.Publish(event)
	if l.recorder != nil {
		if err := l.recorder.Record(stamped); err != nil {
			l.warnf("recording: %v", err)
		}
	}
	for _, obs := range l.observers {
		obs.EventPublished(stamped)
	}
}

func (l *Loop) publishFileEvents(source string) {
	if l.fileReader == nil {
		return
	}
	records, err := l.fileReader.ReadNew()
	if err != nil {
		l.warnf("event file: %v", err)
		return
	}
	for _, rec := range records {
		l.publish(bus.Event{
			Topic:   rec.Topic,
			Payload: rec.Payload,
			Source:  source,
			Target:  rec.Target,
		})
	}
}

func (l *Loop) maybeCheckpoint() {
	interval := l.cfg.EventLoop.CheckpointInterval
	if interval <= 0 || l.state.Iteration%interval != 0 {
		return
	}
	if err := l.checkpointer.Checkpoint(l.state.Iteration, "interval"); err != nil {
		l.warnf("checkpoint: %v", err)
		return
	}
	l.state.LastCheckpoint = l.state.Iteration
}

// safeguard checks bounds in their documented precedence order.
func (l *Loop) safeguard() (TerminationReason, bool) {
	el := l.cfg.EventLoop
	now := l.clock()
	if l.state.Iteration >= el.MaxIterations {
		return ReasonIterations, true
	}
	if el.MaxRuntimeSeconds > 0 && now.Sub(l.state.StartedAt) >= time.Duration(el.MaxRuntimeSeconds)*time.Second {
		return ReasonRuntime, true
	}
	if el.MaxCostUSD > 0 && l.state.CostUSD >= el.MaxCostUSD {
		return ReasonCost, true
	}
	if el.MaxConsecutiveFailures > 0 && l.state.ConsecutiveFailures >= el.MaxConsecutiveFailures {
		return ReasonFailures, true
	}
	if el.IdleTimeoutSecs > 0 && now.Sub(l.state.LastSuccess) >= time.Duration(el.IdleTimeoutSecs)*time.Second {
		return ReasonIdle, true
	}
	return "", false
}

func (l *Loop) finish(reason TerminationReason) Result {
	l.logf("loop: terminating (%s) after %d iterations", reason, l.state.Iteration)
	return Result{
		Reason:           reason,
		Iterations:       l.state.Iteration,
		Elapsed:          l.clock().Sub(l.state.StartedAt),
		CostUSD:          l.state.CostUSD,
		UnroutableEvents: l.queue.UnroutableCount(),
	}
}

func (l *Loop) logf(format string, args ...any) {
	if l.logger != nil {
		l.logger.Printf(format, args...)
	}
}

func (l *Loop) warnf(format string, args ...any) {
	if l.logger != nil {
		l.logger.Warnf(format, args...)
	}
}

// busLogger adapts the loop logger to the bus's warning interface.
type busLogger struct {
	logger Logger
}

func (b busLogger) Printf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Warnf(format, args...)
	}
}
