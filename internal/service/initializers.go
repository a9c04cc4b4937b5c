// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/config"
	"github.com/xkilldash9x/screengraph/internal/decision"
	"github.com/xkilldash9x/screengraph/internal/device"
	"github.com/xkilldash9x/screengraph/internal/llmclient"
	"github.com/xkilldash9x/screengraph/internal/progress"
	"github.com/xkilldash9x/screengraph/internal/retry"
)

// InitializeLLMClient creates the LLM client for the configured provider.
// The heuristic provider has none and returns (nil, nil).
func InitializeLLMClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	client, err := llmclient.NewClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client. Set llm.provider to heuristic to run without a model.", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	if client == nil {
		logger.Info("No LLM provider configured; every decision uses the built-in heuristics.")
	}
	return client, nil
}

// InitializeDecider wraps an LLM client into the decision port. A nil client
// yields a nil decider.
func InitializeDecider(client schemas.LLMClient, cfg config.LLMConfig, logger *zap.Logger) (schemas.Decider, error) {
	if client == nil {
		return nil, nil
	}
	d, err := decision.NewLLMDecider(client, decision.LLMDeciderConfig{
		ModelID:           cfg.FastModel,
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
		RequestsPerSecond: cfg.RequestsPerSecond,
		CostPer1KTokens:   cfg.CostPer1KTokens,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create decider: %w", err)
	}
	return d, nil
}

// InitializeDeviceFactory resolves the configured device driver. The
// simulator reads its fixture once and plays it back on every device.
func InitializeDeviceFactory(cfg config.DeviceConfig, logger *zap.Logger) (DeviceFactory, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "simulator":
		fx := device.DemoFixture()
		if cfg.Fixture != "" {
			loaded, err := device.LoadFixture(cfg.Fixture)
			if err != nil {
				return nil, fmt.Errorf("failed to load simulator fixture: %w", err)
			}
			fx = loaded
		}
		logger.Info("Using simulated device.", zap.String("app_id", fx.AppID), zap.Int("screens", len(fx.Screens)))
		return func() (schemas.Device, error) {
			return device.NewSimulator(fx, logger), nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported device driver %q (supported: simulator)", cfg.Driver)
	}
}

// RetryPolicy derives the per-error retry schedule from the policy section.
func RetryPolicy(cfg config.PolicyConfig) retry.Policy {
	p := retry.DefaultPolicy()
	if cfg.MaxRetriesPerError > 0 {
		p.MaxRetries = cfg.MaxRetriesPerError
	}
	if cfg.RetryInitialDelay > 0 {
		p.Initial = cfg.RetryInitialDelay
	}
	return p
}

// Thresholds maps the policy section onto the arbiter's thresholds.
func Thresholds(cfg config.PolicyConfig) progress.Thresholds {
	return progress.Thresholds{
		NoProgressThreshold: cfg.NoProgressThreshold,
		ConfidenceThreshold: cfg.ProgressConfidenceThreshold,
		PolicyCooldown:      cfg.PolicyCooldown,
	}
}
