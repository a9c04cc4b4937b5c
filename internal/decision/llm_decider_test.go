package decision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/domain"
	"github.com/xkilldash9x/screengraph/internal/mocks"
)

func newTestDecider(t *testing.T, client schemas.LLMClient) *LLMDecider {
	t.Helper()
	logger, _ := setupTestLogger(t)
	d, err := NewLLMDecider(client, LLMDeciderConfig{
		ModelID:         "gemini-test",
		Temperature:     0.1,
		MaxTokens:       512,
		CostPer1KTokens: 0.5,
	}, logger)
	require.NoError(t, err)
	return d
}

func TestNewLLMDecider_RequiresClient(t *testing.T) {
	logger, _ := setupTestLogger(t)
	_, err := NewLLMDecider(nil, LLMDeciderConfig{ModelID: "m"}, logger)
	assert.Error(t, err)
}

func TestLLMDecider_ChooseAction(t *testing.T) {
	client := new(mocks.MockLLMClient)
	d := newTestDecider(t, client)

	reply := "Here you go:\n```json\n{\"action_index\": 2, \"confidence\": 0.75, \"rationale\": \"go back\", \"plan\": [\"back\"]}\n```"
	client.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierPowerful &&
			req.Options.ForceJSONFormat &&
			req.Options.MaxOutputTokens == 512 &&
			req.SystemPrompt != "" &&
			req.UserPrompt != ""
	})).Return(schemas.GenerationResponse{
		Text:  reply,
		Usage: schemas.TokenUsage{PromptTokens: 300, CompletionTokens: 100},
	}, nil).Once()

	diet := domain.Diet{Decision: domain.DecisionChooseAction, RunID: "run-1"}
	out, usage, err := d.ChooseAction(context.Background(), diet)
	require.NoError(t, err)
	assert.Equal(t, 2, out.ActionIndex)
	assert.InDelta(t, 0.75, out.Confidence, 1e-9)
	assert.Equal(t, []string{"back"}, out.Plan)
	assert.Equal(t, 400, usage.Tokens)
	assert.InDelta(t, 0.2, usage.Cost, 1e-9)
	assert.Equal(t, "gemini-test", usage.Model)
	client.AssertExpectations(t)
}

func TestLLMDecider_ChooseActionMissingIndex(t *testing.T) {
	client := new(mocks.MockLLMClient)
	d := newTestDecider(t, client)
	client.On("Generate", mock.Anything, mock.Anything).Return(schemas.GenerationResponse{
		Text:  `{"confidence": 0.9}`,
		Usage: schemas.TokenUsage{TotalTokens: 50},
	}, nil)

	_, usage, err := d.ChooseAction(context.Background(), domain.Diet{Decision: domain.DecisionChooseAction})
	require.Error(t, err)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.CodeInvalidOutput, de.Code)
	assert.False(t, de.Transient())
	assert.Equal(t, 50, usage.Tokens)
}

func TestLLMDecider_TransportErrorIsTransient(t *testing.T) {
	client := new(mocks.MockLLMClient)
	d := newTestDecider(t, client)
	client.On("Generate", mock.Anything, mock.Anything).
		Return(schemas.GenerationResponse{}, errors.New("connection reset"))

	_, _, err := d.Verify(context.Background(), domain.Diet{Decision: domain.DecisionVerify})
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.CodeLLMTimeout, de.Code)
	assert.True(t, de.Transient())
}

func TestLLMDecider_UndecodableReply(t *testing.T) {
	client := new(mocks.MockLLMClient)
	d := newTestDecider(t, client)
	client.On("Generate", mock.Anything, mock.Anything).Return(schemas.GenerationResponse{
		Text: "I am not sure what to do.",
	}, nil)

	_, _, err := d.ShouldContinue(context.Background(), domain.Diet{Decision: domain.DecisionShouldContinue})
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.CodeInvalidOutput, de.Code)
}

func TestLLMDecider_DecodesEveryDecision(t *testing.T) {
	client := new(mocks.MockLLMClient)
	d := newTestDecider(t, client)
	ctx := context.Background()

	respond := func(text string) {
		client.On("Generate", mock.Anything, mock.Anything).
			Return(schemas.GenerationResponse{Text: text, Model: "gemini-test-001"}, nil).Once()
	}

	respond(`{"success": true, "delta_type": "OVERLAY", "confidence": 0.7}`)
	v, usage, err := d.Verify(ctx, domain.Diet{Decision: domain.DecisionVerify})
	require.NoError(t, err)
	assert.Equal(t, domain.DeltaOverlay, v.DeltaType)
	assert.Equal(t, "gemini-test-001", usage.Model)

	respond(`{"flag": "MADE_PROGRESS", "confidence": 0.9, "reasoning": "new screen"}`)
	p, _, err := d.DetectProgress(ctx, domain.Diet{Decision: domain.DecisionDetectProgress})
	require.NoError(t, err)
	assert.Equal(t, domain.MadeProgress, p.Flag)

	respond(`{"next_route": "stop", "stop_reason": "success", "confidence": 0.8}`)
	r, _, err := d.ShouldContinue(ctx, domain.Diet{Decision: domain.DecisionShouldContinue})
	require.NoError(t, err)
	assert.Equal(t, domain.RouteStop, r.NextRoute)
	assert.Equal(t, domain.StopSuccess, r.StopReason)

	respond(`{"new_policy": "depth", "cooldown_steps": 5, "confidence": 0.6}`)
	sw, _, err := d.SwitchPolicy(ctx, domain.Diet{Decision: domain.DecisionSwitchPolicy})
	require.NoError(t, err)
	assert.Equal(t, domain.PolicyDepth, sw.NewPolicy)
	assert.Equal(t, 5, sw.CooldownSteps)
}

func TestLLMDecider_UnknownDecision(t *testing.T) {
	client := new(mocks.MockLLMClient)
	d := newTestDecider(t, client)
	_, _, err := d.Verify(context.Background(), domain.Diet{Decision: "summarize"})
	assert.Error(t, err)
	client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		"plain":  `{"a":1}`,
		"fenced": "```json\n{\"a\":1}\n```",
		"prose":  "Answer: {\"a\":1} hope that helps",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, `{"a":1}`, extractJSON(in))
		})
	}
}
