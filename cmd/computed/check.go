package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the model and its computed members",
	Long: `Load the SDL model, register every @computed member and report
configuration problems: unknown members, unsupported expressions,
expressions reading no tracked member, strategy mismatches and cycles.`,
	Example: `  # Check the model under schema_dir from computed.yaml
  computed check

  # Check a specific directory
  computed check --schema ./model`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		m, e, err := loadEngine()
		if err != nil {
			if vs := violations(err); len(vs) > 0 && !quiet {
				fmt.Fprintf(out, "Found %d problems:\n", len(vs))
				for _, v := range vs {
					if v.File != "" {
						fmt.Fprintf(out, "  %s:%d: %s\n", v.File, v.Line, v.Message)
					} else {
						fmt.Fprintf(out, "  %s\n", v.Message)
					}
				}
			}
			return err
		}

		if !quiet {
			members := e.Members()
			fmt.Fprintf(out, "Model is valid. Found %d entity types and %d computed members:\n", len(m.EntityTypes()), len(members))
			for _, member := range members {
				fmt.Fprintf(out, "  - %s (%s)\n", member, member.Describe().Strategy)
			}
		}
		return nil
	},
}
