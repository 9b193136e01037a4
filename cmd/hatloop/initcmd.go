package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"hatloop/internal/config"
	"hatloop/internal/logging"
	"hatloop/presets"
)

const promptSkeleton = `# Task

Describe the overall task for the loop here. The full contents of this file
become the payload of the seed event.

## Done when

- [ ] ...
`

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Scaffold hatloop.yml, PROMPT.md, and the .agent directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			dirs := []string{
				filepath.Join(cwd, logging.AgentDir, "logs"),
				filepath.Join(cwd, logging.AgentDir, "workspace"),
				filepath.Join(cwd, presets.Dir),
			}
			for _, dir := range dirs {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := writeIfAbsent(filepath.Join(cwd, config.DefaultFileName), config.DefaultConfigYAML); err != nil {
				return err
			}
			if err := writeIfAbsent(filepath.Join(cwd, "PROMPT.md"), promptSkeleton); err != nil {
				return err
			}
			fmt.Println("Initialized. Edit PROMPT.md, then: hatloop run")
			return nil
		},
	}
}

func writeIfAbsent(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  %s exists, leaving it alone\n", filepath.Base(path))
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return err
	}
	fmt.Printf("  wrote %s\n", filepath.Base(path))
	return nil
}
