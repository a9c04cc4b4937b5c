// internal/salience/salience_test.go
package salience

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/screengraph/internal/domain"
)

func el(role, text string, b domain.Bounds, clickable bool, order int) domain.UIElement {
	return domain.UIElement{Role: role, Text: text, Bounds: b, Clickable: clickable, Visible: true, Enabled: true, Order: order}
}

func TestRanker_Ordering(t *testing.T) {
	r := NewRanker(0, Weights{})
	elements := []domain.UIElement{
		{Role: "View", Bounds: domain.Bounds{X: 0, Y: 0, W: 0.05, H: 0.05}, Order: 0},
		el("Button", "Continue", domain.Bounds{X: 0.3, Y: 0.45, W: 0.4, H: 0.1}, true, 1),
		el("TextView", "Terms", domain.Bounds{X: 0.0, Y: 0.95, W: 0.2, H: 0.05}, false, 2),
	}
	ranked := r.Rank(elements)
	require.Len(t, ranked, 3)
	assert.Equal(t, "Continue", ranked[0].Element.Text)
	assert.Equal(t, "View", ranked[2].Element.Role)
	for _, rk := range ranked {
		assert.GreaterOrEqual(t, rk.Score, 0.0)
		assert.LessOrEqual(t, rk.Score, 1.0)
	}
}

func TestRanker_CapAndDeterminism(t *testing.T) {
	r := NewRanker(5, DefaultWeights())
	var elements []domain.UIElement
	for i := 0; i < 20; i++ {
		elements = append(elements, el("Button", fmt.Sprintf("b%d", i), domain.Bounds{X: 0.1, Y: 0.1, W: 0.1, H: 0.1}, true, i))
	}
	first := r.Rank(elements)
	second := r.Rank(elements)
	require.Len(t, first, 5)
	assert.Equal(t, first, second)
	assert.Equal(t, "b0", first[0].Element.Text, "ties keep document order")
}

func TestEnumerate(t *testing.T) {
	r := NewRanker(0, DefaultWeights())
	elements := []domain.UIElement{
		el("Button", "Delete account", domain.Bounds{X: 0.1, Y: 0.8, W: 0.8, H: 0.1}, true, 0),
		el("Button", "Settings", domain.Bounds{X: 0.1, Y: 0.2, W: 0.8, H: 0.1}, true, 1),
		{Role: "EditText", Text: "Search", Bounds: domain.Bounds{X: 0.1, Y: 0.05, W: 0.8, H: 0.08}, Focusable: true, Visible: true, Enabled: true, Order: 2},
		{Role: "RecyclerView", Bounds: domain.Bounds{X: 0, Y: 0.3, W: 1, H: 0.5}, Visible: true, Enabled: true, Order: 3},
		{Role: "Button", Text: "Hidden", Bounds: domain.Bounds{X: 0.1, Y: 0.1, W: 0.1, H: 0.1}, Clickable: true, Visible: false, Enabled: true, Order: 4},
	}
	actions := Enumerate(r.Rank(elements), 0)

	verbs := map[domain.ActionVerb]int{}
	for i, a := range actions {
		assert.Equal(t, i, a.Index)
		verbs[a.Candidate.Verb]++
		if a.Candidate.Verb != domain.VerbBack {
			require.NoError(t, a.Candidate.Action().Validate())
		}
	}
	assert.Equal(t, 2, verbs[domain.VerbTap])
	assert.Equal(t, 1, verbs[domain.VerbType])
	assert.Equal(t, 1, verbs[domain.VerbScroll])
	assert.Equal(t, domain.VerbBack, actions[len(actions)-1].Candidate.Verb)

	for _, a := range actions {
		if a.Element != nil && a.Element.Text == "Delete account" {
			assert.True(t, a.Candidate.HighRisk())
		}
		if a.Candidate.Verb == domain.VerbScroll {
			assert.Equal(t, domain.SwipeUp, a.Candidate.Direction, "scrolling reveals content below")
		}
	}

	fb := SafeFallback(actions)
	require.GreaterOrEqual(t, fb, 0)
	assert.False(t, actions[fb].Candidate.HighRisk())
}

func TestEnumerate_RespectsLimit(t *testing.T) {
	var elements []domain.UIElement
	for i := 0; i < 80; i++ {
		elements = append(elements, el("Button", fmt.Sprintf("item %d", i), domain.Bounds{X: 0.1, Y: 0.1, W: 0.2, H: 0.05}, true, i))
	}
	actions := Enumerate(NewRanker(100, DefaultWeights()).Rank(elements), 0)
	assert.Len(t, actions, domain.MaxActions)
}

func TestShaper_DietIsMinimal(t *testing.T) {
	s := NewShaper(2, 3)
	sig := domain.ScreenSignature{CompositeHash: "curr"}
	prev := domain.ScreenSignature{CompositeHash: "prev"}
	st := domain.AgentState{
		RunID:         "run",
		AppID:         "app",
		Signature:     &sig,
		PrevSignature: &prev,
		Screen:        &domain.Screen{Elements: make([]domain.UIElement, 100)},
		Bundle:        domain.Bundle{ScreenshotRef: "blob/shot", PageSourceRef: "blob/src"},
		Actions: []domain.EnumeratedAction{
			{Index: 0, Candidate: domain.ActionCandidate{Verb: domain.VerbTap}},
			{Index: 1, Candidate: domain.ActionCandidate{Verb: domain.VerbTap}},
			{Index: 2, Candidate: domain.ActionCandidate{Verb: domain.VerbBack}},
		},
		Budgets: domain.DefaultBudgets(),
	}
	for i := 0; i < 6; i++ {
		st.Events = append(st.Events, domain.Event{Step: i, At: time.Unix(int64(i), 0)})
	}

	choose := s.Shape(domain.DecisionChooseAction, st)
	assert.Len(t, choose.Actions, 2)
	assert.Len(t, choose.Events, 3)
	assert.Equal(t, []string{"blob/shot", "blob/src"}, choose.AssetRefs)
	assert.NotEmpty(t, choose.DeltaHash)
	assert.Equal(t, "prev", choose.PrevHash)

	route := s.Shape(domain.DecisionShouldContinue, st)
	assert.Empty(t, route.Actions)
	assert.NotNil(t, route.Budgets)
	assert.NotNil(t, route.Counters)
	assert.Empty(t, route.AssetRefs)
}

func TestHashes(t *testing.T) {
	a := []domain.EnumeratedAction{{Index: 0, Candidate: domain.ActionCandidate{Verb: domain.VerbTap, TargetTextStem: "ok"}}}
	b := []domain.EnumeratedAction{{Index: 0, Candidate: domain.ActionCandidate{Verb: domain.VerbTap, TargetTextStem: "cancel"}}}
	assert.Equal(t, TopKHash(a), TopKHash(a))
	assert.NotEqual(t, TopKHash(a), TopKHash(b))

	c := domain.Counters{StepsTotal: 1}
	assert.Equal(t, CountersHash(c), CountersHash(domain.Counters{StepsTotal: 1, ElapsedMs: 999, LLMCalls: 3}))
	assert.NotEqual(t, CountersHash(c), CountersHash(domain.Counters{StepsTotal: 2}))
	assert.Equal(t, BudgetsHash(domain.DefaultBudgets()), BudgetsHash(domain.DefaultBudgets()))
}
