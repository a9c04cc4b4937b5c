// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/config"
)

// NewClient builds a tier-routing client for the configured provider. The
// heuristic provider has no client and returns (nil, nil).
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	build := func(model string) (schemas.LLMClient, error) {
		mc := ModelConfig{
			Model:       model,
			APIKey:      cfg.APIKey,
			Endpoint:    cfg.Endpoint,
			APITimeout:  cfg.APITimeout,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}
		switch cfg.Provider {
		case config.ProviderGemini:
			return NewGeminiClient(mc, logger)
		case config.ProviderGenAI:
			return NewGenAIClient(ctx, mc, logger)
		default:
			return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s, %s]",
				cfg.Provider, config.ProviderGemini, config.ProviderGenAI, config.ProviderHeuristic)
		}
	}

	if cfg.Provider == config.ProviderHeuristic {
		return nil, nil
	}

	fast, err := build(cfg.FastModel)
	if err != nil {
		return nil, fmt.Errorf("fast tier: %w", err)
	}
	powerful, err := build(cfg.PowerfulModel)
	if err != nil {
		_ = fast.Close()
		return nil, fmt.Errorf("powerful tier: %w", err)
	}
	return NewLLMRouter(logger, fast, powerful)
}
