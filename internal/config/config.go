// Package config loads and validates the loop configuration file.
//
// The file is YAML. Absence of a hats mapping selects single-hat mode; a
// populated mapping selects multi-hat mode with hats registered in document
// order, which is also the routing tie-break order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hatloop/internal/executor"
)

// DefaultFileName is looked up in the working directory when no --config
// flag is given.
const DefaultFileName = "hatloop.yml"

// DefaultConfigYAML is written by `hatloop init`.
const DefaultConfigYAML = `# hatloop configuration
cli:
  # One of: amp, claude, codex, copilot, gemini, kiro, opencode, custom.
  backend: claude
  # For backend: custom, set the invocation shape explicitly:
  # command: my-agent
  # args: ["--headless"]
  # prompt_mode: argument   # or stdin
  # prompt_flag: "-p"
  # timeout_seconds: 0      # per-invocation wall clock, 0 disables

event_loop:
  prompt_file: PROMPT.md
  completion_promise: LOOP_COMPLETE
  max_iterations: 100
  max_runtime_seconds: 14400
  # max_cost_usd: 10.0      # unbounded when the backend reports no cost
  max_consecutive_failures: 5
  checkpoint_interval: 5
  # idle_timeout_secs: 0    # seconds since last successful iteration
  # starting_event: tdd.start

# Omit hats for single-hat mode. Define them for pub/sub workflows:
# hats:
#   implementer:
#     name: Implementer
#     subscriptions: ["task.*", "review.rejected"]
#     publishes: ["impl.done"]
#     instructions: |
#       You implement one focused change per iteration.
#   reviewer:
#     name: Reviewer
#     subscriptions: ["impl.*"]
#     publishes: ["review.approved", "review.rejected"]
`

// Config is the validated top-level configuration.
type Config struct {
	CLI       CLIConfig       `yaml:"cli"`
	EventLoop EventLoopConfig `yaml:"event_loop"`
	Hats      HatList         `yaml:"hats"`
}

// CLIConfig selects and shapes the agent backend.
type CLIConfig struct {
	Backend        string            `yaml:"backend"`
	Command        string            `yaml:"command,omitempty"`
	Args           []string          `yaml:"args,omitempty"`
	PromptMode     string            `yaml:"prompt_mode,omitempty"`
	PromptFlag     string            `yaml:"prompt_flag,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	TimeoutSeconds int               `yaml:"timeout_seconds,omitempty"`
}

// EventLoopConfig bounds and seeds the orchestration loop.
type EventLoopConfig struct {
	PromptFile             string  `yaml:"prompt_file"`
	CompletionPromise      string  `yaml:"completion_promise"`
	MaxIterations          int     `yaml:"max_iterations"`
	MaxRuntimeSeconds      int     `yaml:"max_runtime_seconds"`
	MaxCostUSD             float64 `yaml:"max_cost_usd,omitempty"`
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures"`
	CheckpointInterval     int     `yaml:"checkpoint_interval"`
	IdleTimeoutSecs        int     `yaml:"idle_timeout_secs,omitempty"`
	StartingEvent          string  `yaml:"starting_event,omitempty"`
}

// HatConfig defines one hat in multi-hat mode.
type HatConfig struct {
	Name          string     `yaml:"name"`
	Subscriptions []string   `yaml:"subscriptions"`
	Triggers      []string   `yaml:"triggers,omitempty"` // accepted alias for subscriptions
	Publishes     []string   `yaml:"publishes,omitempty"`
	Instructions  string     `yaml:"instructions,omitempty"`
	Backend       *CLIConfig `yaml:"backend,omitempty"`
}

// HatEntry pairs a hat ID with its definition, preserving document order.
type HatEntry struct {
	ID  string
	Hat HatConfig
}

// HatList decodes the hats mapping while preserving key order. Go maps
// would scramble it, and registration order is the routing tie-break.
type HatList []HatEntry

// UnmarshalYAML decodes a YAML mapping node pairwise.
func (h *HatList) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		*h = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("hats must be a mapping")
	}
	entries := make(HatList, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var id string
		if err := node.Content[i].Decode(&id); err != nil {
			return err
		}
		var hat HatConfig
		if err := node.Content[i+1].Decode(&hat); err != nil {
			return err
		}
		entries = append(entries, HatEntry{ID: id, Hat: hat})
	}
	*h = entries
	return nil
}

// MarshalYAML re-encodes the hats mapping in registration order.
func (h HatList) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, entry := range h {
		var key, value yaml.Node
		if err := key.Encode(entry.ID); err != nil {
			return nil, err
		}
		if err := value.Encode(entry.Hat); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &key, &value)
	}
	return node, nil
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes, defaults, normalizes, and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Revalidate re-runs defaulting, normalization, and validation after
// programmatic mutation (e.g. workflow preset application).
func (c *Config) Revalidate() error {
	c.applyDefaults()
	c.normalize()
	if err := c.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.normalize()
	return cfg
}

// SingleHatMode reports whether no hats are configured.
func (c *Config) SingleHatMode() bool {
	return len(c.Hats) == 0
}

func (c *Config) applyDefaults() {
	if c.CLI.Backend == "" {
		c.CLI.Backend = "claude"
	}
	if c.EventLoop.PromptFile == "" {
		c.EventLoop.PromptFile = "PROMPT.md"
	}
	if c.EventLoop.CompletionPromise == "" {
		c.EventLoop.CompletionPromise = "LOOP_COMPLETE"
	}
	if c.EventLoop.MaxIterations == 0 {
		c.EventLoop.MaxIterations = 100
	}
	if c.EventLoop.MaxRuntimeSeconds == 0 {
		c.EventLoop.MaxRuntimeSeconds = 14400
	}
	if c.EventLoop.MaxConsecutiveFailures == 0 {
		c.EventLoop.MaxConsecutiveFailures = 5
	}
	if c.EventLoop.CheckpointInterval == 0 {
		c.EventLoop.CheckpointInterval = 5
	}
}

func (c *Config) normalize() {
	c.CLI.normalize()
	c.EventLoop.CompletionPromise = strings.TrimSpace(c.EventLoop.CompletionPromise)
	c.EventLoop.StartingEvent = strings.TrimSpace(c.EventLoop.StartingEvent)
	for i := range c.Hats {
		c.Hats[i].ID = strings.TrimSpace(c.Hats[i].ID)
		c.Hats[i].Hat.normalize()
	}
}

func (cli *CLIConfig) normalize() {
	cli.Backend = strings.ToLower(strings.TrimSpace(cli.Backend))
	cli.Command = strings.TrimSpace(cli.Command)
	switch strings.ToLower(strings.TrimSpace(cli.PromptMode)) {
	case "arg", "argument":
		cli.PromptMode = string(executor.PromptModeArgument)
	case "stdin":
		cli.PromptMode = string(executor.PromptModeStdin)
	default:
		cli.PromptMode = strings.ToLower(strings.TrimSpace(cli.PromptMode))
	}
}

func (h *HatConfig) normalize() {
	h.Name = strings.TrimSpace(h.Name)
	if len(h.Subscriptions) == 0 && len(h.Triggers) > 0 {
		h.Subscriptions = h.Triggers
	}
	h.Triggers = nil
	h.Subscriptions = trimAll(h.Subscriptions)
	h.Publishes = trimAll(h.Publishes)
	if h.Backend != nil {
		h.Backend.normalize()
	}
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (c *Config) validate() error {
	if err := c.CLI.validate(); err != nil {
		return err
	}
	if c.EventLoop.CompletionPromise == "" {
		return fmt.Errorf("event_loop.completion_promise must not be blank")
	}
	if c.EventLoop.MaxIterations < 1 {
		return fmt.Errorf("event_loop.max_iterations must be >= 1")
	}
	if c.EventLoop.MaxCostUSD < 0 {
		return fmt.Errorf("event_loop.max_cost_usd must not be negative")
	}
	seen := map[string]bool{}
	for i, entry := range c.Hats {
		if entry.ID == "" {
			return fmt.Errorf("hats[%d]: id is required", i)
		}
		if seen[entry.ID] {
			return fmt.Errorf("hats[%s]: duplicate hat id", entry.ID)
		}
		seen[entry.ID] = true
		if entry.Hat.Backend != nil {
			if err := entry.Hat.Backend.validate(); err != nil {
				return fmt.Errorf("hats[%s]: %w", entry.ID, err)
			}
		}
	}
	return nil
}

func (cli CLIConfig) validate() error {
	if cli.Backend == "custom" {
		if cli.Command == "" {
			return fmt.Errorf("cli.command is required for backend: custom")
		}
	} else if cli.Backend != "" {
		if _, ok := executor.Named(cli.Backend); !ok {
			return fmt.Errorf("cli.backend %q is not a known backend (known: %s, custom)",
				cli.Backend, strings.Join(executor.BackendNames(), ", "))
		}
	}
	if cli.TimeoutSeconds < 0 {
		return fmt.Errorf("cli.timeout_seconds must not be negative")
	}
	return nil
}

// Resolve materializes the executor configuration for the base backend.
func (cli CLIConfig) Resolve() (executor.Config, error) {
	var cfg executor.Config
	if cli.Backend != "" && cli.Backend != "custom" {
		named, ok := executor.Named(cli.Backend)
		if !ok {
			return executor.Config{}, fmt.Errorf("config: unknown backend %q", cli.Backend)
		}
		cfg = named
	}
	if cli.Command != "" {
		cfg.Command = cli.Command
	}
	if len(cli.Args) > 0 {
		cfg.Args = append([]string{}, cli.Args...)
	}
	if cli.PromptMode != "" {
		cfg.PromptMode = executor.PromptMode(cli.PromptMode)
	}
	if cli.PromptFlag != "" {
		cfg.PromptFlag = cli.PromptFlag
	}
	if len(cli.Env) > 0 {
		cfg.Env = cli.Env
	}
	if cli.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(cli.TimeoutSeconds) * time.Second
	}
	if cfg.PromptMode == "" {
		cfg.PromptMode = executor.PromptModeArgument
	}
	if err := cfg.Validate(); err != nil {
		return executor.Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ResolveOverride layers a hat's backend override on top of the base CLI
// section. Unset override fields inherit from the base.
func (cli CLIConfig) ResolveOverride(override *CLIConfig) (executor.Config, error) {
	if override == nil {
		return cli.Resolve()
	}
	merged := cli
	if override.Backend != "" {
		merged.Backend = override.Backend
		// A different backend resets the base invocation shape.
		merged.Command = ""
		merged.Args = nil
		merged.PromptMode = ""
		merged.PromptFlag = ""
	}
	if override.Command != "" {
		merged.Command = override.Command
	}
	if len(override.Args) > 0 {
		merged.Args = override.Args
	}
	if override.PromptMode != "" {
		merged.PromptMode = override.PromptMode
	}
	if override.PromptFlag != "" {
		merged.PromptFlag = override.PromptFlag
	}
	if len(override.Env) > 0 {
		merged.Env = override.Env
	}
	if override.TimeoutSeconds > 0 {
		merged.TimeoutSeconds = override.TimeoutSeconds
	}
	return merged.Resolve()
}
