// api/schemas/llm.go
package schemas

import "context"

// ModelTier selects between a cheap, fast model and a slower, stronger one.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions controls sampling for a single request.
type GenerationOptions struct {
	Temperature     float32 `json:"temperature"`       // Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // Ask the provider for a JSON body.
	MaxOutputTokens int     `json:"max_output_tokens"` // Zero leaves the provider default.
}

// GenerationRequest is one prompt for the LLM.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// TokenUsage is the provider-reported token accounting of a call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationResponse carries the model text plus usage.
type GenerationResponse struct {
	Text  string     `json:"text"`
	Model string     `json:"model"`
	Usage TokenUsage `json:"usage"`
}

// LLMClient abstracts an LLM provider.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (GenerationResponse, error)
	// Close releases provider resources.
	Close() error
}
