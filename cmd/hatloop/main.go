// cmd/hatloop/main.go
//
// Entry point for the hatloop CLI. Subcommands:
//
//	hatloop init       scaffold hatloop.yml and PROMPT.md
//	hatloop run        drive the orchestration loop
//	hatloop workflows  list discovered workflow presets
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "hatloop",
		Short:         "Event-driven orchestration loop for headless coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (default hatloop.yml when present)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newWorkflowsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hatloop: %v\n", err)
		os.Exit(1)
	}
}
