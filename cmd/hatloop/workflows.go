package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"hatloop/presets"
)

func newWorkflowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workflows",
		Short: "List workflow presets discovered under .agent/workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			defs, err := presets.LoadAll(cwd)
			if err != nil {
				return err
			}
			if len(defs) == 0 {
				fmt.Printf("No presets found under %s\n", presets.Dir)
				return nil
			}
			for _, file := range defs {
				def := file.Definition
				name := def.Name
				if name == "" {
					name = def.ID
				}
				fmt.Printf("%-16s %s (%d hats)\n", def.ID, name, len(def.Hats))
				if def.Description != "" {
					fmt.Printf("%-16s %s\n", "", def.Description)
				}
			}
			return nil
		},
	}
}
