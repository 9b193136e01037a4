package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"hatloop/internal/config"
	"hatloop/internal/eventlog"
	"hatloop/internal/logbook"
	"hatloop/internal/logging"
	"hatloop/internal/loop"
	"hatloop/internal/monitor"
	"hatloop/internal/tui"
	"hatloop/presets"
)

type runFlags struct {
	promptFile        string
	maxIterations     int
	completionPromise string
	workflow          string
	dryRun            bool
	watch             bool
	record            bool
	noCheckpoint      bool
}

func newRunCmd() *cobra.Command {
	flags := runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the orchestration loop until completion or a safeguard trips",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(flags)
		},
	}
	cmd.Flags().StringVarP(&flags.promptFile, "prompt", "p", "", "override the prompt file")
	cmd.Flags().IntVar(&flags.maxIterations, "max-iterations", 0, "override max iterations")
	cmd.Flags().StringVar(&flags.completionPromise, "completion-promise", "", "override the completion sentinel")
	cmd.Flags().StringVarP(&flags.workflow, "workflow", "w", "", "apply a workflow preset from .agent/workflows")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "print the effective configuration without running")
	cmd.Flags().BoolVar(&flags.watch, "watch", false, "show the live watch view instead of raw output")
	cmd.Flags().BoolVar(&flags.record, "record", false, "record published events to .agent/session.jsonl")
	cmd.Flags().BoolVar(&flags.noCheckpoint, "no-checkpoint", false, "disable git checkpoint commits")
	return cmd
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	if _, err := os.Stat(config.DefaultFileName); err == nil {
		return config.Load(config.DefaultFileName)
	}
	return config.Default(), nil
}

func runLoop(flags runFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flags.promptFile != "" {
		cfg.EventLoop.PromptFile = flags.promptFile
	}
	if flags.maxIterations > 0 {
		cfg.EventLoop.MaxIterations = flags.maxIterations
	}
	if flags.completionPromise != "" {
		cfg.EventLoop.CompletionPromise = flags.completionPromise
	}
	if flags.workflow != "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		def, err := presets.Find(cwd, flags.workflow)
		if err != nil {
			return err
		}
		cfg, err = def.Apply(cfg)
		if err != nil {
			return err
		}
	}

	if flags.dryRun {
		printDryRun(cfg)
		return nil
	}

	promptBytes, err := os.ReadFile(cfg.EventLoop.PromptFile)
	if err != nil {
		return fmt.Errorf("read prompt file %s: %w", cfg.EventLoop.PromptFile, err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	logger, err := logging.New(cwd)
	if err != nil {
		return err
	}
	defer logger.Close()

	book, err := logbook.ForProject(cwd)
	if err != nil {
		return err
	}

	opts := []loop.Option{
		loop.WithLogger(logger),
		loop.WithObserver(book),
		loop.WithFileEvents(eventlog.NewReader(filepath.Join(cwd, eventlog.DefaultPath), logger)),
	}
	if !flags.noCheckpoint {
		opts = append(opts, loop.WithCheckpointer(loop.GitCheckpointer{Dir: cwd}))
	}
	if flags.record {
		recorder, err := eventlog.NewRecorder(filepath.Join(cwd, logging.AgentDir, "session.jsonl"))
		if err != nil {
			return err
		}
		defer recorder.Close()
		opts = append(opts, loop.WithRecorder(recorder))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.watch {
		return runWatch(ctx, stop, cfg, string(promptBytes), logger, opts)
	}

	opts = append(opts, loop.WithSink(os.Stdout))
	l, err := loop.New(cfg, string(promptBytes), opts...)
	if err != nil {
		return err
	}

	result := l.Run(ctx)
	fmt.Print(result.Summary())
	logger.Close()
	os.Exit(result.Reason.ExitCode())
	return nil
}

// runWatch runs the loop in a goroutine and pumps monitor updates into the
// bubbletea program. The watch view holds a broadcast copy only; it never
// reads loop or bus state.
func runWatch(ctx context.Context, stop context.CancelFunc, cfg *config.Config, prompt string, logger *logging.Logger, opts []loop.Option) error {
	mon := monitor.New(monitor.WithLogger(logger))
	opts = append(opts,
		loop.WithObserver(mon),
		loop.WithSink(io.Discard), // raw output is dropped in watch mode; events carry the story
	)
	l, err := loop.New(cfg, prompt, opts...)
	if err != nil {
		return err
	}

	program := tea.NewProgram(tui.NewApp(stop), tea.WithAltScreen())

	sub := mon.Subscribe()
	go func() {
		for update := range sub.Updates {
			program.Send(tui.UpdateMsg(update))
		}
	}()

	resultC := make(chan loop.Result, 1)
	go func() {
		result := l.Run(ctx)
		resultC <- result
		program.Send(tui.DoneMsg{Result: result})
	}()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("watch view: %w", err)
	}
	sub.Close()

	result := <-resultC
	fmt.Print(result.Summary())
	logger.Close()
	os.Exit(result.Reason.ExitCode())
	return nil
}

func printDryRun(cfg *config.Config) {
	fmt.Println("Dry run - effective configuration:")
	mode := "single-hat"
	if !cfg.SingleHatMode() {
		mode = "multi-hat"
	}
	fmt.Printf("  Mode: %s\n", mode)
	fmt.Printf("  Backend: %s\n", cfg.CLI.Backend)
	fmt.Printf("  Prompt file: %s\n", cfg.EventLoop.PromptFile)
	fmt.Printf("  Completion promise: %s\n", cfg.EventLoop.CompletionPromise)
	fmt.Printf("  Max iterations: %d\n", cfg.EventLoop.MaxIterations)
	fmt.Printf("  Max runtime: %ds\n", cfg.EventLoop.MaxRuntimeSeconds)
	if cfg.EventLoop.MaxCostUSD > 0 {
		fmt.Printf("  Max cost: $%.2f\n", cfg.EventLoop.MaxCostUSD)
	}
	if cfg.EventLoop.StartingEvent != "" {
		fmt.Printf("  Starting event: %s\n", cfg.EventLoop.StartingEvent)
	}
	if !cfg.SingleHatMode() {
		ids := make([]string, 0, len(cfg.Hats))
		for _, entry := range cfg.Hats {
			ids = append(ids, entry.ID)
		}
		fmt.Printf("  Hats: %s\n", strings.Join(ids, ", "))
	}
}
