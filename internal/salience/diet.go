// internal/salience/diet.go
package salience

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/xkilldash9x/screengraph/internal/domain"
	"github.com/xkilldash9x/screengraph/internal/signature"
)

// Shaper builds per-decision diet payloads from an AgentState.
type Shaper struct {
	topK       int
	lastEvents int
}

// NewShaper creates a shaper sending at most topK actions and lastEvents events.
func NewShaper(topK, lastEvents int) *Shaper {
	if topK <= 0 {
		topK = DefaultK
	}
	if lastEvents <= 0 {
		lastEvents = domain.LastNEvents
	}
	return &Shaper{topK: topK, lastEvents: lastEvents}
}

// Shape returns the minimal context for one decision type.
func (s *Shaper) Shape(decision domain.DecisionType, st domain.AgentState) domain.Diet {
	d := domain.Diet{
		Decision:  decision,
		RunID:     st.RunID,
		AppID:     st.AppID,
		Policy:    st.Policy,
		Delta:     st.Delta,
		AssetRefs: st.Bundle.Refs(),
	}
	if st.Signature != nil {
		d.SignatureHash = st.Signature.CompositeHash
		d.DeltaHash = signature.DeltaHash(st.PrevSignature, *st.Signature)
	}
	if st.PrevSignature != nil {
		d.PrevHash = st.PrevSignature.CompositeHash
	}

	switch decision {
	case domain.DecisionChooseAction:
		d.Actions = s.actionViews(st.Actions)
		d.Events = s.tail(st.Events)
		d.Plan = st.Plan
		d.PlanCursor = st.PlanCursor
	case domain.DecisionVerify:
		if st.LastAction != nil {
			d.LastAction = st.LastAction.Key()
		}
		if st.Chosen != nil {
			d.ExpectedPostcondition = st.Chosen.ExpectedPostcondition
		}
	case domain.DecisionDetectProgress:
		counters := st.Counters
		d.Counters = &counters
		if st.LastPersist != nil {
			d.NodesAdded = st.LastPersist.NodesAdded
			d.EdgesAdded = st.LastPersist.EdgesAdded
			d.NewScreen = st.LastPersist.NodesAdded > 0
		}
		if st.Verification != nil {
			d.Extra = map[string]string{"delta_type": string(st.Verification.DeltaType)}
		}
	case domain.DecisionShouldContinue:
		counters, budgets := st.Counters, st.Budgets
		d.Counters = &counters
		d.Budgets = &budgets
		if st.Progress != nil {
			d.Progress = st.Progress.Flag
		}
		d.AssetRefs = nil
	case domain.DecisionSwitchPolicy:
		counters := st.Counters
		d.Counters = &counters
		d.Events = s.tail(st.Events)
		tried := make([]string, len(st.PoliciesTried))
		for i, p := range st.PoliciesTried {
			tried[i] = string(p)
		}
		d.Extra = map[string]string{"policies_tried": strings.Join(tried, ",")}
		d.AssetRefs = nil
	}
	return d
}

func (s *Shaper) actionViews(actions []domain.EnumeratedAction) []domain.ActionView {
	n := min(len(actions), s.topK)
	views := make([]domain.ActionView, n)
	for i := 0; i < n; i++ {
		a := actions[i]
		views[i] = domain.ActionView{
			Index:       a.Index,
			Verb:        a.Candidate.Verb,
			Role:        a.Candidate.TargetRole,
			TextStem:    a.Candidate.TargetTextStem,
			IconHint:    a.Candidate.IconHint,
			SafetyScore: a.Candidate.SafetyScore,
			Salience:    a.Salience,
		}
	}
	return views
}

func (s *Shaper) tail(events []domain.Event) []domain.Event {
	if len(events) <= s.lastEvents {
		return events
	}
	return events[len(events)-s.lastEvents:]
}

// -- Cache discriminators --

// TopKHash fingerprints the candidate list offered to ChooseAction.
func TopKHash(actions []domain.EnumeratedAction) string {
	var b strings.Builder
	for _, a := range actions {
		fmt.Fprintf(&b, "%d:%s:%s:%s;", a.Index, a.Candidate.Verb, a.Candidate.TargetRole, a.Candidate.TargetTextStem)
	}
	return shortHash(b.String())
}

// CountersHash fingerprints the counters that drive routing. Elapsed time and
// cache/LLM bookkeeping are excluded so identical situations share a key.
func CountersHash(c domain.Counters) string {
	return shortHash(fmt.Sprintf("s%d n%d np%d o%d r%d e%d t%d",
		c.StepsTotal, c.ScreensNew, c.NoProgressCycles, c.OutsideAppSteps, c.RestartsUsed, c.Errors, c.TapsTotal))
}

// BudgetsHash fingerprints the budget caps.
func BudgetsHash(b domain.Budgets) string {
	return shortHash(fmt.Sprintf("%+v", b))
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:12])
}
