package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentsquad/assign"
)

func newParseCmd() *cobra.Command {
	var (
		workers []string
		noMerge bool
	)

	cmd := &cobra.Command{
		Use:   "parse --workers a,b,c < plan.txt",
		Short: "Extract task assignments from an orchestrator reply on stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(workers) == 0 {
				return fmt.Errorf("parse requires at least one worker")
			}

			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}

			var assignments []assign.Assignment
			if noMerge {
				assignments = assign.Parse(string(data), workers)
			} else {
				assignments = assign.ParseAndMerge(string(data), workers)
			}

			out := cmd.OutOrStdout()
			if len(assignments) == 0 {
				_, err := fmt.Fprintln(out, "no assignments")
				return err
			}
			for _, a := range assignments {
				if _, err := fmt.Fprintf(out, "[%s]\n%s\n\n", a.Worker, strings.TrimSpace(a.Task)); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&workers, "workers", "w", nil, "worker session names to resolve against")
	cmd.Flags().BoolVar(&noMerge, "no-merge", false, "keep one assignment per block instead of merging per worker")

	return cmd
}
