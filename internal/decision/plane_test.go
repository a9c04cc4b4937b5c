package decision

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/screengraph/api/schemas"
	"github.com/xkilldash9x/screengraph/internal/budget"
	"github.com/xkilldash9x/screengraph/internal/cache"
	"github.com/xkilldash9x/screengraph/internal/domain"
	"github.com/xkilldash9x/screengraph/internal/mocks"
	"github.com/xkilldash9x/screengraph/internal/progress"
	"github.com/xkilldash9x/screengraph/internal/retry"
)

type planeFixture struct {
	plane   *Plane
	decider *mocks.MockDecider
	blobs   *mocks.MockBlobStore
	cache   *cache.DecisionCache
	ledger  *budget.Ledger
}

func newPlaneFixture(t *testing.T) planeFixture {
	t.Helper()
	decider := new(mocks.MockDecider)
	decider.On("ModelID").Return("gemini-test").Maybe()
	blobs := new(mocks.MockBlobStore)
	dc := cache.New(cache.DefaultConfig(), zap.NewNop())
	ledger := budget.NewLedger(zap.NewNop())

	opts := DefaultOptions()
	opts.Retry = retry.Policy{MaxRetries: 2, Initial: time.Millisecond, Multiplier: 1}
	p, err := NewPlane(Deps{
		Decider: decider,
		Cache:   dc,
		Ledger:  ledger,
		Blobs:   blobs,
		Arbiter: progress.NewArbiter(progress.DefaultThresholds()),
	}, opts, zap.NewNop())
	require.NoError(t, err)
	return planeFixture{plane: p, decider: decider, blobs: blobs, cache: dc, ledger: ledger}
}

func TestNewPlane_RequiresArbiter(t *testing.T) {
	_, err := NewPlane(Deps{}, DefaultOptions(), nil)
	assert.Error(t, err)
}

func TestPlane_ChooseActionCachesSecondCall(t *testing.T) {
	f := newPlaneFixture(t)
	st := screenState(t)

	f.decider.On("ChooseAction", mock.Anything, mock.Anything).Return(domain.ChosenAction{
		ActionIndex: 0,
		Confidence:  0.9,
		Rationale:   strings.Repeat("settings looks unexplored ", 10),
	}, schemas.DecisionUsage{Tokens: 120, Cost: 0.01}, nil).Once()
	f.blobs.On("Put", mock.Anything, RationaleKind, mock.Anything).Return("rationale/abc", nil).Once()

	first, out := f.plane.ChooseAction(context.Background(), st)
	assert.Equal(t, domain.SourceLLM, out.Source)
	assert.Equal(t, 1, out.Calls)
	assert.Equal(t, 120, out.Tokens)
	assert.Equal(t, 0, first.ActionIndex)
	assert.Equal(t, "rationale/abc", first.RationaleRef)
	assert.LessOrEqual(t, len([]rune(first.Rationale)), summaryLen)

	st = st.WithUpdates(out.Update())
	second, out2 := f.plane.ChooseAction(context.Background(), st)
	assert.Equal(t, domain.SourceCache, out2.Source)
	assert.Equal(t, first, second)
	st = st.WithUpdates(out2.Update())

	assert.Equal(t, 1, st.Counters.LLMCalls)
	assert.Equal(t, 1, st.Counters.CacheHits)
	assert.Equal(t, 120, st.Counters.TokensUsed)
	assert.Equal(t, 1, f.ledger.GetUsage("run-1").Calls)
	f.decider.AssertNumberOfCalls(t, "ChooseAction", 1)
	f.blobs.AssertExpectations(t)
}

func TestPlane_UnusableCacheEntryIsNotCountedAsHit(t *testing.T) {
	f := newPlaneFixture(t)
	st := screenState(t)
	key := f.plane.chooseKey(st).String()
	f.cache.Set(key, domain.DecisionChooseAction, []byte(`{"action_index":9,"confidence":0.9}`))
	f.decider.On("ChooseAction", mock.Anything, mock.Anything).
		Return(domain.ChosenAction{ActionIndex: 0, Confidence: 0.9}, schemas.DecisionUsage{Tokens: 10}, nil).Once()

	ch, out := f.plane.ChooseAction(context.Background(), st)
	assert.Equal(t, domain.SourceLLM, out.Source)
	assert.Equal(t, 0, ch.ActionIndex)
	stats := f.cache.Stats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)

	_, out = f.plane.ChooseAction(context.Background(), st)
	assert.Equal(t, domain.SourceCache, out.Source, "the replacement entry is served")
	assert.Equal(t, int64(1), f.cache.Stats().Hits)
	f.decider.AssertNumberOfCalls(t, "ChooseAction", 1)
}

func TestPlane_CacheKeyDependsOnPlanCursor(t *testing.T) {
	f := newPlaneFixture(t)
	st := screenState(t)
	f.decider.On("ChooseAction", mock.Anything, mock.Anything).
		Return(domain.ChosenAction{ActionIndex: 0, Confidence: 0.9}, schemas.DecisionUsage{Tokens: 10}, nil)

	_, out := f.plane.ChooseAction(context.Background(), st)
	require.Equal(t, domain.SourceLLM, out.Source)

	st = st.WithUpdates(func(s *domain.AgentState) { s.PlanCursor = 1 })
	_, out = f.plane.ChooseAction(context.Background(), st)
	assert.Equal(t, domain.SourceLLM, out.Source)
	f.decider.AssertNumberOfCalls(t, "ChooseAction", 2)
}

func TestPlane_HighRiskLowConfidenceFallsBackToSafeAction(t *testing.T) {
	f := newPlaneFixture(t)
	st := screenState(t)
	f.decider.On("ChooseAction", mock.Anything, mock.Anything).
		Return(domain.ChosenAction{ActionIndex: 1, Confidence: 0.6}, schemas.DecisionUsage{Tokens: 10}, nil)
	f.blobs.On("Put", mock.Anything, RationaleKind, mock.Anything).Return("rationale/x", nil).Maybe()

	ch, out := f.plane.ChooseAction(context.Background(), st)
	assert.Equal(t, domain.SourceLLM, out.Source)
	assert.Equal(t, 0, ch.ActionIndex)
	assert.Equal(t, "settings screen", ch.ExpectedPostcondition)
}

func TestPlane_HighRiskHighConfidenceAccepted(t *testing.T) {
	f := newPlaneFixture(t)
	st := screenState(t)
	f.decider.On("ChooseAction", mock.Anything, mock.Anything).
		Return(domain.ChosenAction{ActionIndex: 1, Confidence: 0.95}, schemas.DecisionUsage{Tokens: 10}, nil)

	ch, _ := f.plane.ChooseAction(context.Background(), st)
	assert.Equal(t, 1, ch.ActionIndex)
}

func TestPlane_InvalidOutputUsesHeuristic(t *testing.T) {
	f := newPlaneFixture(t)
	st := screenState(t)
	f.decider.On("ChooseAction", mock.Anything, mock.Anything).
		Return(domain.ChosenAction{ActionIndex: 7, Confidence: 0.9}, schemas.DecisionUsage{Tokens: 30}, nil)

	ch, out := f.plane.ChooseAction(context.Background(), st)
	assert.Equal(t, domain.SourceHeuristic, out.Source)
	assert.Equal(t, 1, out.Calls)
	assert.Equal(t, 30, out.Tokens)
	assert.GreaterOrEqual(t, ch.ActionIndex, 0)
	assert.Less(t, ch.ActionIndex, len(st.Actions))
	assert.Zero(t, f.cache.Stats().Size)
}

func TestPlane_TransientErrorsRetriedThenHeuristic(t *testing.T) {
	f := newPlaneFixture(t)
	st := screenState(t)
	timeout := domain.NewError(domain.CodeLLMTimeout, "verify", errors.New("deadline"))
	f.decider.On("Verify", mock.Anything, mock.Anything).
		Return(domain.VerificationResult{}, schemas.DecisionUsage{}, timeout)

	v, out := f.plane.Verify(context.Background(), st)
	assert.Equal(t, domain.SourceHeuristic, out.Source)
	assert.Equal(t, 3, out.Calls)
	assert.Equal(t, domain.DeltaNewScreen, v.DeltaType)
	f.decider.AssertNumberOfCalls(t, "Verify", 3)
}

func TestPlane_PermanentErrorNotRetried(t *testing.T) {
	f := newPlaneFixture(t)
	st := screenState(t)
	bad := domain.NewError(domain.CodeInvalidOutput, "verify", errors.New("garbage"))
	f.decider.On("Verify", mock.Anything, mock.Anything).
		Return(domain.VerificationResult{}, schemas.DecisionUsage{Tokens: 5}, bad)

	_, out := f.plane.Verify(context.Background(), st)
	assert.Equal(t, domain.SourceHeuristic, out.Source)
	assert.Equal(t, 1, out.Calls)
}

func TestPlane_TokenGuardSkipsDecider(t *testing.T) {
	f := newPlaneFixture(t)
	st := screenState(t).WithUpdates(domain.Counted(func(c *domain.Counters) {
		c.TokensUsed = 95000
	}))

	_, out := f.plane.ChooseAction(context.Background(), st)
	assert.Equal(t, domain.SourceHeuristic, out.Source)
	assert.Zero(t, out.Calls)
	f.decider.AssertNotCalled(t, "ChooseAction", mock.Anything, mock.Anything)
}

func TestPlane_NoDeciderIsHeuristicOnly(t *testing.T) {
	p, err := NewPlane(Deps{Arbiter: progress.NewArbiter(progress.DefaultThresholds())}, DefaultOptions(), nil)
	require.NoError(t, err)
	st := screenState(t)

	assert.Equal(t, "heuristic", p.ModelID())
	ch, out := p.ChooseAction(context.Background(), st)
	assert.Equal(t, domain.SourceHeuristic, out.Source)
	assert.Equal(t, 0, ch.ActionIndex)

	r, _ := p.ShouldContinue(context.Background(), st)
	assert.Equal(t, domain.RouteContinue, r.NextRoute)
}

func TestPlane_DetectProgressLowConfidenceDefersToSignals(t *testing.T) {
	f := newPlaneFixture(t)
	st := screenState(t).WithUpdates(func(s *domain.AgentState) {
		s.LastPersist = &domain.PersistResultSummary{NodeID: "sig-home", NodesAdded: 1}
	})
	f.decider.On("DetectProgress", mock.Anything, mock.Anything).
		Return(domain.ProgressAssessment{Flag: domain.NoProgress, Confidence: 0.3}, schemas.DecisionUsage{Tokens: 10}, nil)

	a, out := f.plane.DetectProgress(context.Background(), st)
	assert.Equal(t, domain.SourceLLM, out.Source)
	assert.Equal(t, domain.MadeProgress, a.Flag)
}

func TestPlane_ShouldContinueRejectsUnknownRoute(t *testing.T) {
	f := newPlaneFixture(t)
	st := screenState(t)
	f.decider.On("ShouldContinue", mock.Anything, mock.Anything).
		Return(domain.RoutingDecision{NextRoute: "teleport", Confidence: 0.9}, schemas.DecisionUsage{Tokens: 10}, nil)

	r, out := f.plane.ShouldContinue(context.Background(), st)
	assert.Equal(t, domain.SourceHeuristic, out.Source)
	assert.Equal(t, domain.RouteContinue, r.NextRoute)
}

func TestPlane_SwitchPolicy(t *testing.T) {
	f := newPlaneFixture(t)
	st := screenState(t)
	f.decider.On("SwitchPolicy", mock.Anything, mock.Anything).
		Return(domain.PolicySwitch{NewPolicy: domain.PolicyDepth, CooldownSteps: 5, Confidence: 0.7}, schemas.DecisionUsage{Tokens: 10}, nil)

	sw, out := f.plane.SwitchPolicy(context.Background(), st)
	assert.Equal(t, domain.SourceLLM, out.Source)
	assert.Equal(t, domain.PolicyDepth, sw.NewPolicy)
}

func TestPlane_RationaleStoreFailureKeepsDecision(t *testing.T) {
	f := newPlaneFixture(t)
	st := screenState(t)
	f.decider.On("Verify", mock.Anything, mock.Anything).
		Return(domain.VerificationResult{Success: true, DeltaType: domain.DeltaOverlay, Confidence: 0.8, Rationale: "menu opened"},
			schemas.DecisionUsage{Tokens: 10}, nil)
	f.blobs.On("Put", mock.Anything, RationaleKind, []byte("menu opened")).Return("", errors.New("disk full"))

	v, out := f.plane.Verify(context.Background(), st)
	assert.Equal(t, domain.SourceLLM, out.Source)
	assert.Equal(t, domain.DeltaOverlay, v.DeltaType)
	assert.Empty(t, v.RationaleRef)
}

func TestAdviceFor(t *testing.T) {
	plan := []string{"open settings"}
	a := AdviceFor(domain.DecisionChooseAction, 0.7, plan, "rationale/1", strings.Repeat("x", 300), domain.SourceLLM)
	plan[0] = "mutated"
	assert.Equal(t, "open settings", a.Plan[0])
	assert.Len(t, []rune(a.Summary), summaryLen)
	assert.Equal(t, domain.SourceLLM, a.Source)
}
