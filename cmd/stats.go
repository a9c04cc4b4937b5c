// File: cmd/stats.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/screengraph/internal/graphstore"
	"github.com/xkilldash9x/screengraph/internal/observability"
)

// newStatsCmd reports what a run recorded in the configured graph store.
func newStatsCmd(state *cliState) *cobra.Command {
	var (
		runID  string
		output string
	)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Shows exploration statistics for a run",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if !validOutput(output) {
				return fmt.Errorf("unsupported output format %q (supported: text, json, yaml)", output)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			repo, err := graphstore.Open(ctx, state.cfg.Storage(), logger)
			if err != nil {
				return fmt.Errorf("failed to open graph repository: %w", err)
			}
			defer repo.Close()

			stats, err := repo.GetExplorationStats(ctx, runID)
			if err != nil {
				return fmt.Errorf("failed to load stats for run %s: %w", runID, err)
			}
			return writeStats(cmd.OutOrStdout(), output, runID, stats)
		},
	}

	statsCmd.Flags().StringVar(&runID, "run-id", "", "Run ID to report on")
	statsCmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json or yaml")
	_ = statsCmd.MarkFlagRequired("run-id")

	return statsCmd
}
