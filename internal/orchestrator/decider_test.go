// internal/orchestrator/decider_test.go
package orchestrator

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/device"
	"github.com/xkilldash9x/screengraph/internal/domain"
)

// scriptedDecider answers every decision with a fixed, valid result. Action
// selection prefers a text entry so the run stays on the same screen.
type scriptedDecider struct {
	plan  []string
	route domain.Route

	mu    sync.Mutex
	calls map[domain.DecisionType]int
	diets []domain.Diet
}

var _ schemas.Decider = (*scriptedDecider)(nil)

func newScriptedDecider(plan []string, route domain.Route) *scriptedDecider {
	return &scriptedDecider{plan: plan, route: route, calls: map[domain.DecisionType]int{}}
}

func (d *scriptedDecider) record(diet domain.Diet) schemas.DecisionUsage {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[diet.Decision]++
	if diet.Decision == domain.DecisionChooseAction {
		d.diets = append(d.diets, diet)
	}
	return schemas.DecisionUsage{Tokens: 40, Cost: 0.001, Model: "scripted"}
}

func (d *scriptedDecider) count(decision domain.DecisionType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[decision]
}

func (d *scriptedDecider) chooseDiets() []domain.Diet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.diets)
}

func (d *scriptedDecider) ModelID() string { return "scripted" }

func (d *scriptedDecider) ChooseAction(_ context.Context, diet domain.Diet) (domain.ChosenAction, schemas.DecisionUsage, error) {
	index := 0
	for _, v := range diet.Actions {
		if v.Verb == domain.VerbType {
			index = v.Index
			break
		}
	}
	return domain.ChosenAction{
		ActionIndex:           index,
		Confidence:            0.9,
		ExpectedPostcondition: "field contains text",
		Plan:                  slices.Clone(d.plan),
	}, d.record(diet), nil
}

func (d *scriptedDecider) Verify(_ context.Context, diet domain.Diet) (domain.VerificationResult, schemas.DecisionUsage, error) {
	return domain.VerificationResult{Success: true, DeltaType: domain.DeltaMinorUpdate, Confidence: 0.9}, d.record(diet), nil
}

func (d *scriptedDecider) DetectProgress(_ context.Context, diet domain.Diet) (domain.ProgressAssessment, schemas.DecisionUsage, error) {
	return domain.ProgressAssessment{Flag: domain.MadeProgress, Confidence: 0.95}, d.record(diet), nil
}

func (d *scriptedDecider) ShouldContinue(_ context.Context, diet domain.Diet) (domain.RoutingDecision, schemas.DecisionUsage, error) {
	return domain.RoutingDecision{NextRoute: d.route, Confidence: 0.9}, d.record(diet), nil
}

func (d *scriptedDecider) SwitchPolicy(_ context.Context, diet domain.Diet) (domain.PolicySwitch, schemas.DecisionUsage, error) {
	return domain.PolicySwitch{NewPolicy: domain.PolicyDepth, Confidence: 0.9}, d.record(diet), nil
}

// readyState starts a session and runs it up to action selection.
func readyState(t *testing.T, h harness, budgets domain.Budgets) domain.AgentState {
	t.Helper()
	ctx := context.Background()
	st, err := h.orch.StartSession(ctx, RunRequest{AppID: demoApp, Budgets: budgets})
	require.NoError(t, err)
	require.Equal(t, domain.StopNone, st.StopReason)

	st, next := h.orch.drive(ctx, st, domain.NodePerceive, domain.NodeChooseAction)
	require.Equal(t, domain.NodeChooseAction, next)
	require.NotEmpty(t, st.Actions)
	return st
}

func TestIterateOnce_PlanCursorAdvancesAcrossIterations(t *testing.T) {
	plan := []string{"open search", "type a query", "open a result", "go back"}
	decider := newScriptedDecider(plan, domain.RouteContinue)
	h := newDecidingHarness(t, device.DemoFixture(), decider, nil)
	ctx := context.Background()

	st, err := h.orch.StartSession(ctx, RunRequest{AppID: demoApp, Budgets: budgetsWithSteps(20)})
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		st = h.orch.IterateOnce(ctx, st)
		require.Equal(t, domain.StopNone, st.StopReason, "iteration %d", want)
		assert.Equal(t, want, st.PlanCursor, "iteration %d", want)
		assert.Equal(t, plan, st.Plan, "later decisions leave the plan alone")
		require.NotNil(t, st.Advice)
		assert.NotEqual(t, domain.DecisionChooseAction, st.Advice.Kind)
	}

	diets := decider.chooseDiets()
	require.Len(t, diets, 3)
	assert.Empty(t, diets[0].Plan)
	for i, d := range diets[1:] {
		assert.Equal(t, plan, d.Plan)
		assert.Equal(t, i+1, d.PlanCursor)
	}
}

func TestChooseAction_NewPlanResetsCursor(t *testing.T) {
	decider := newScriptedDecider([]string{"a", "b"}, domain.RouteContinue)
	h := newDecidingHarness(t, device.DemoFixture(), decider, nil)
	st := readyState(t, h, budgetsWithSteps(20)).WithUpdates(func(s *domain.AgentState) {
		s.Plan = []string{"x", "y", "z"}
		s.PlanCursor = 2
	})

	out, next := h.orch.chooseAction(context.Background(), st)
	assert.Equal(t, domain.NodeAct, next)
	assert.Equal(t, []string{"a", "b"}, out.Plan)
	assert.Equal(t, 0, out.PlanCursor)
}

func TestShouldContinue_ModelContinueAtStepBudgetIsOverridden(t *testing.T) {
	decider := newScriptedDecider(nil, domain.RouteContinue)
	h := newDecidingHarness(t, device.DemoFixture(), decider, nil)
	ctx := context.Background()

	st, err := h.orch.StartSession(ctx, RunRequest{RunID: "run-override", AppID: demoApp, Budgets: budgetsWithSteps(1)})
	require.NoError(t, err)
	st = h.orch.IterateOnce(ctx, st)

	assert.Equal(t, 1, st.Counters.StepsTotal)
	assert.Equal(t, domain.StopBudgetExhausted, st.StopReason)
	require.NotNil(t, st.Routing)
	assert.Equal(t, domain.RouteStop, st.Routing.NextRoute)
	assert.Equal(t, 1, decider.count(domain.DecisionShouldContinue), "the model was asked and overruled")

	overridden := h.logs.FilterMessage("Route overridden").
		FilterField(zap.String("proposed", string(domain.RouteContinue))).
		FilterField(zap.String("final", string(domain.RouteStop)))
	assert.Equal(t, 1, overridden.Len())
}

func TestChooseAction_RepeatedDecisionServedFromCache(t *testing.T) {
	decider := newScriptedDecider([]string{"type a query"}, domain.RouteContinue)
	h := newDecidingHarness(t, device.DemoFixture(), decider, nil)
	ctx := context.Background()
	st := readyState(t, h, budgetsWithSteps(20))

	first, next := h.orch.chooseAction(ctx, st)
	require.Equal(t, domain.NodeAct, next)
	require.NotNil(t, first.Advice)
	assert.Equal(t, domain.SourceLLM, first.Advice.Source)
	assert.Equal(t, st.Counters.LLMCalls+1, first.Counters.LLMCalls)
	assert.Equal(t, st.Counters.CacheHits, first.Counters.CacheHits)

	second, next := h.orch.chooseAction(ctx, st)
	require.Equal(t, domain.NodeAct, next)
	require.NotNil(t, second.Advice)
	assert.Equal(t, domain.SourceCache, second.Advice.Source)
	assert.Equal(t, st.Counters.LLMCalls, second.Counters.LLMCalls)
	assert.Equal(t, st.Counters.CacheHits+1, second.Counters.CacheHits)
	assert.Equal(t, first.Chosen.ActionIndex, second.Chosen.ActionIndex)

	assert.Equal(t, 1, decider.count(domain.DecisionChooseAction))
	assert.Equal(t, int64(1), h.cache.Stats().Hits)
}
