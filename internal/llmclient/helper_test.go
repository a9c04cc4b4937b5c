package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/screengraph/api/schemas"
)

// MockLLMClient is a mock implementation of the LLMClient interface for testing.
type MockLLMClient struct {
	mock.Mock
	Name string
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (schemas.GenerationResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(schemas.GenerationResponse), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// setupTestLogger is a helper to create a zap logger for testing with an observer.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// getValidModelConfig returns a valid ModelConfig for testing purposes.
func getValidModelConfig() ModelConfig {
	return ModelConfig{
		Model:       "test-model",
		APIKey:      "test-api-key",
		APITimeout:  5 * time.Second,
		Temperature: 0.2,
		MaxTokens:   512,
	}
}
