// internal/decision/llm_decider.go
package decision

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/domain"
)

// LLMDecider implements schemas.Decider on top of an LLM client.
type LLMDecider struct {
	client      schemas.LLMClient
	modelID     string
	limiter     *rate.Limiter
	temperature float32
	maxTokens   int
	costPer1K   float64
	logger      *zap.Logger
}

var _ schemas.Decider = (*LLMDecider)(nil)

// LLMDeciderConfig configures an LLMDecider.
type LLMDeciderConfig struct {
	// ModelID names the model in cache keys.
	ModelID     string
	Temperature float32
	MaxTokens   int
	// RequestsPerSecond paces calls; zero disables pacing.
	RequestsPerSecond float64
	CostPer1KTokens   float64
}

// NewLLMDecider wraps client.
func NewLLMDecider(client schemas.LLMClient, cfg LLMDeciderConfig, logger *zap.Logger) (*LLMDecider, error) {
	if client == nil {
		return nil, errors.New("llm decider requires a client")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &LLMDecider{
		client:      client,
		modelID:     cfg.ModelID,
		limiter:     rate.NewLimiter(limit, 1),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		costPer1K:   cfg.CostPer1KTokens,
		logger:      logger.Named("llm_decider"),
	}, nil
}

func (d *LLMDecider) ModelID() string { return d.modelID }

type chooseWire struct {
	ActionIndex           *int     `json:"action_index"`
	Rationale             string   `json:"rationale"`
	Confidence            float64  `json:"confidence"`
	ExpectedPostcondition string   `json:"expected_postcondition"`
	Plan                  []string `json:"plan"`
}

func (d *LLMDecider) ChooseAction(ctx context.Context, diet domain.Diet) (domain.ChosenAction, schemas.DecisionUsage, error) {
	var w chooseWire
	usage, err := d.generate(ctx, diet, &w)
	if err != nil {
		return domain.ChosenAction{}, usage, err
	}
	if w.ActionIndex == nil {
		return domain.ChosenAction{}, usage, domain.NewError(domain.CodeInvalidOutput, "choose_action", errors.New("missing action_index"))
	}
	return domain.ChosenAction{
		ActionIndex:           *w.ActionIndex,
		Rationale:             w.Rationale,
		Confidence:            w.Confidence,
		ExpectedPostcondition: w.ExpectedPostcondition,
		Plan:                  w.Plan,
	}, usage, nil
}

func (d *LLMDecider) Verify(ctx context.Context, diet domain.Diet) (domain.VerificationResult, schemas.DecisionUsage, error) {
	var out domain.VerificationResult
	usage, err := d.generate(ctx, diet, &out)
	return out, usage, err
}

func (d *LLMDecider) DetectProgress(ctx context.Context, diet domain.Diet) (domain.ProgressAssessment, schemas.DecisionUsage, error) {
	var out domain.ProgressAssessment
	usage, err := d.generate(ctx, diet, &out)
	return out, usage, err
}

func (d *LLMDecider) ShouldContinue(ctx context.Context, diet domain.Diet) (domain.RoutingDecision, schemas.DecisionUsage, error) {
	var out domain.RoutingDecision
	usage, err := d.generate(ctx, diet, &out)
	return out, usage, err
}

func (d *LLMDecider) SwitchPolicy(ctx context.Context, diet domain.Diet) (domain.PolicySwitch, schemas.DecisionUsage, error) {
	var out domain.PolicySwitch
	usage, err := d.generate(ctx, diet, &out)
	return out, usage, err
}

// generate sends the diet for one decision and decodes the reply into out.
// Transport failures are LLM_TIMEOUT (retryable); undecodable replies are
// INVALID_OUTPUT. Usage is reported whenever the provider answered.
func (d *LLMDecider) generate(ctx context.Context, diet domain.Diet, out any) (schemas.DecisionUsage, error) {
	op := string(diet.Decision)
	p, ok := prompts[diet.Decision]
	if !ok {
		return schemas.DecisionUsage{}, domain.NewError(domain.CodeInvalidOutput, op, fmt.Errorf("unknown decision type %q", diet.Decision))
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return schemas.DecisionUsage{}, domain.NewError(domain.CodeLLMTimeout, op, err)
	}

	body, err := json.Marshal(diet)
	if err != nil {
		return schemas.DecisionUsage{}, domain.NewError(domain.CodeInvalidOutput, op, fmt.Errorf("marshal context: %w", err))
	}

	resp, err := d.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: p.system,
		UserPrompt:   string(body),
		Tier:         p.tier,
		Options: schemas.GenerationOptions{
			Temperature:     d.temperature,
			ForceJSONFormat: true,
			MaxOutputTokens: d.maxTokens,
		},
	})
	if err != nil {
		return schemas.DecisionUsage{}, domain.NewError(domain.CodeLLMTimeout, op, err)
	}

	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	model := resp.Model
	if model == "" {
		model = d.modelID
	}
	usage := schemas.DecisionUsage{
		Tokens: tokens,
		Cost:   float64(tokens) / 1000 * d.costPer1K,
		Model:  model,
	}

	raw := extractJSON(resp.Text)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		d.logger.Warn("Failed to decode decision output",
			zap.String("decision", op),
			zap.String("extracted_json", raw),
			zap.Error(err))
		return usage, domain.NewError(domain.CodeInvalidOutput, op, err)
	}
	return usage, nil
}

var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// extractJSON strips a markdown code fence if present, then trims to the
// outermost object.
func extractJSON(text string) string {
	if m := jsonBlockRegex.FindStringSubmatch(text); len(m) > 1 {
		text = m[1]
	}
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
