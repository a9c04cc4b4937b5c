// internal/llmclient/genai_client.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/screengraph/api/schemas"
)

// GenAIClient implements schemas.LLMClient with the Google GenAI SDK.
type GenAIClient struct {
	client *genai.Client
	config ModelConfig
	logger *zap.Logger
}

var _ schemas.LLMClient = (*GenAIClient)(nil)

// NewGenAIClient creates an SDK-backed client for the Gemini API.
func NewGenAIClient(ctx context.Context, cfg ModelConfig, logger *zap.Logger) (*GenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("GenAI model is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIClient{client: client, config: cfg, logger: logger.Named("llm_client.genai")}, nil
}

// Generate runs one GenerateContent call. Retries are left to the caller.
func (c *GenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (schemas.GenerationResponse, error) {
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Options.Temperature),
	}
	maxTokens := c.config.MaxTokens
	if req.Options.MaxOutputTokens > 0 {
		maxTokens = req.Options.MaxOutputTokens
	}
	if maxTokens > 0 {
		gc.MaxOutputTokens = int32(maxTokens)
	}
	if req.Options.ForceJSONFormat {
		gc.ResponseMIMEType = "application/json"
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	contents := []*genai.Content{genai.NewContentFromText(req.UserPrompt, genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, contents, gc)
	if err != nil {
		return schemas.GenerationResponse{}, fmt.Errorf("genai generate failed: %w", err)
	}

	out := schemas.GenerationResponse{Text: resp.Text(), Model: c.config.Model}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = schemas.TokenUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	if out.Text == "" {
		return schemas.GenerationResponse{}, fmt.Errorf("genai returned an empty response")
	}
	c.logger.Debug("LLM generation complete (GenAI)", zap.String("model", out.Model), zap.Int("total_tokens", out.Usage.TotalTokens))
	return out, nil
}

// Close is a no-op; the SDK client has nothing to release.
func (c *GenAIClient) Close() error { return nil }
