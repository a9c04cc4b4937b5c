package llmclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/screengraph/api/schemas"
)

// setupGeminiClient points a GeminiClient at a test server with a fast,
// bounded backoff.
func setupGeminiClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger, _ := setupTestLogger(t)
	cfg := getValidModelConfig()
	cfg.Endpoint = server.URL

	client, err := NewGeminiClient(cfg, logger)
	require.NoError(t, err)
	client.backoffFactory = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
	}
	return client
}

func createTestRequest() schemas.GenerationRequest {
	return schemas.GenerationRequest{
		SystemPrompt: "System prompt instructions.",
		UserPrompt:   "User query.",
		Options:      schemas.GenerationOptions{Temperature: 0.7, ForceJSONFormat: true},
	}
}

const okBody = `{
  "candidates": [{"content": {"role": "model", "parts": [{"text": "{\"action_index\": 1}"}]}, "finishReason": "STOP"}],
  "usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 5, "totalTokenCount": 15},
  "modelVersion": "gemini-test-001"
}`

func TestNewGeminiClient(t *testing.T) {
	logger, _ := setupTestLogger(t)

	t.Run("default endpoint", func(t *testing.T) {
		cfg := getValidModelConfig()
		client, err := NewGeminiClient(cfg, logger)
		require.NoError(t, err)
		assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/test-model:generateContent", client.endpoint)
		assert.Equal(t, cfg.APITimeout, client.httpClient.Timeout)
	})

	t.Run("missing api key", func(t *testing.T) {
		cfg := getValidModelConfig()
		cfg.APIKey = ""
		_, err := NewGeminiClient(cfg, logger)
		assert.ErrorContains(t, err, "API key is required")
	})
}

func TestBuildRequestPayload(t *testing.T) {
	logger, _ := setupTestLogger(t)
	client, err := NewGeminiClient(getValidModelConfig(), logger)
	require.NoError(t, err)

	payload := client.buildRequestPayload(createTestRequest())
	require.Len(t, payload.Contents, 1)
	assert.Equal(t, "user", payload.Contents[0].Role)
	assert.Equal(t, "User query.", payload.Contents[0].Parts[0].Text)
	require.NotNil(t, payload.SystemInstruction)
	assert.Equal(t, "System prompt instructions.", payload.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "application/json", payload.GenerationConfig.ResponseMimeType)
	assert.Equal(t, 512, payload.GenerationConfig.MaxOutputTokens)
	assert.InDelta(t, 0.7, payload.GenerationConfig.Temperature, 1e-6)

	req := createTestRequest()
	req.SystemPrompt = ""
	req.Options.MaxOutputTokens = 64
	payload = client.buildRequestPayload(req)
	assert.Nil(t, payload.SystemInstruction)
	assert.Equal(t, 64, payload.GenerationConfig.MaxOutputTokens)
}

func TestGenerate_Success(t *testing.T) {
	client := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var got geminiRequestPayload
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "User query.", got.Contents[0].Parts[0].Text)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, okBody)
	})

	resp, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"action_index": 1}`, resp.Text)
	assert.Equal(t, "gemini-test-001", resp.Model)
	assert.Equal(t, schemas.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, resp.Usage)
}

func TestGenerate_RetriesTransientStatus(t *testing.T) {
	var calls int32
	client := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, okBody)
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGenerate_PermanentErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"bad request", http.StatusBadRequest, `{"error":"bad"}`, "status 400"},
		{"no candidates", http.StatusOK, `{"candidates": []}`, "no candidates"},
		{"safety block", http.StatusOK, `{"candidates": [{"content": {"parts": []}, "finishReason": "SAFETY"}]}`, "blocked"},
		{"malformed json", http.StatusOK, `{not json`, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			client := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := client.Generate(context.Background(), createTestRequest())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "permanent errors are not retried")
		})
	}
}

func TestGenerate_ExhaustsRetries(t *testing.T) {
	var calls int32
	client := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = fmt.Fprint(w, "slow down")
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
	assert.NoError(t, client.Close())
}
