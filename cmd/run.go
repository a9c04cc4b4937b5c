// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/internal/config"
	"github.com/xkilldash9x/screengraph/internal/device"
	"github.com/xkilldash9x/screengraph/internal/domain"
	"github.com/xkilldash9x/screengraph/internal/observability"
	"github.com/xkilldash9x/screengraph/internal/orchestrator"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd(state *cliState) *cobra.Command {
	var (
		appID       string
		runID       string
		fixture     string
		policy      string
		output      string
		maxSteps    int
		runs        int
		concurrency int
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Explores an app and records the screens and transitions it finds",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1, got %d", runs)
			}
			if !validOutput(output) {
				return fmt.Errorf("unsupported output format %q (supported: text, json, yaml)", output)
			}
			if policy != "" && !domain.Policy(policy).IsValid() {
				return fmt.Errorf("unknown policy %q", policy)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main.go (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := state.cfg

			// Flags override config file and environment.
			if cmd.Flags().Changed("fixture") {
				cfg.SetDeviceFixture(fixture)
			}
			if cmd.Flags().Changed("max-steps") {
				b := cfg.Budgets()
				b.MaxSteps = maxSteps
				cfg.SetBudgets(b)
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.SetEngineWorkerConcurrency(concurrency)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if appID == "" {
				id, err := fixtureAppID(cfg)
				if err != nil {
					return err
				}
				appID = id
			}
			reqs := buildRequests(appID, runID, domain.Policy(policy), runs)

			logger.Info("Starting exploration",
				zap.String("app_id", appID),
				zap.Int("runs", len(reqs)),
				zap.Int("max_steps", cfg.Budgets().MaxSteps),
				zap.Int("concurrency", cfg.Engine().WorkerConcurrency))

			components, err := state.factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			results, err := components.Engine.RunAll(ctx, reqs)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("exploration failed: %w", err)
			}
			if werr := writeResults(cmd.OutOrStdout(), output, results); werr != nil {
				return werr
			}

			var runErrs []error
			for _, res := range results {
				if res.Err != nil {
					runErrs = append(runErrs, fmt.Errorf("run %s: %w", res.Request.RunID, res.Err))
				}
			}
			if len(runErrs) > 0 {
				return errors.Join(runErrs...)
			}
			return err
		},
	}

	runCmd.Flags().StringVarP(&appID, "app", "a", "", "Package of the app to explore. (Defaults to the fixture's app)")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run ID; with --runs > 1 it becomes a prefix. (Default: random UUID)")
	runCmd.Flags().StringVar(&fixture, "fixture", "", "Simulator fixture file. (Overrides config/env)")
	runCmd.Flags().StringVar(&policy, "policy", "", "Initial exploration policy (breadth, depth, random, targeted)")
	runCmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text, json or yaml")
	runCmd.Flags().IntVar(&maxSteps, "max-steps", 0, "Maximum actions per run. (Overrides config/env)")
	runCmd.Flags().IntVarP(&runs, "runs", "n", 1, "Number of runs to execute")
	runCmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "Number of runs explored at once. (Overrides config/env)")

	return runCmd
}

// fixtureAppID returns the package of the simulated app the device will
// serve.
func fixtureAppID(cfg config.Interface) (string, error) {
	path := cfg.Device().Fixture
	if path == "" {
		return device.DemoFixture().AppID, nil
	}
	fx, err := device.LoadFixture(path)
	if err != nil {
		return "", fmt.Errorf("failed to load simulator fixture: %w", err)
	}
	return fx.AppID, nil
}

func buildRequests(appID, runID string, policy domain.Policy, n int) []orchestrator.RunRequest {
	reqs := make([]orchestrator.RunRequest, n)
	for i := range reqs {
		id := runID
		switch {
		case id == "":
			id = uuid.New().String()
		case n > 1:
			id = fmt.Sprintf("%s-%d", runID, i+1)
		}
		reqs[i] = orchestrator.RunRequest{RunID: id, AppID: appID, Policy: policy}
	}
	return reqs
}
