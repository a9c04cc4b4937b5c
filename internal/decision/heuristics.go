// internal/decision/heuristics.go
package decision

import (
	"fmt"
	"hash/fnv"

	"github.com/xkilldash9x/screengraph/internal/domain"
	"github.com/xkilldash9x/screengraph/internal/progress"
	"github.com/xkilldash9x/screengraph/internal/salience"
)

// Delta thresholds used by the verify heuristic.
const (
	minorUpdateDelta = 0.15
	overlayDelta     = 0.5
)

// Heuristics are the deterministic answers used when no model is configured,
// the model fails, or its output does not pass validation.
type Heuristics struct {
	arbiter *progress.Arbiter
}

// NewHeuristics creates the fallback decider.
func NewHeuristics(arbiter *progress.Arbiter) Heuristics {
	if arbiter == nil {
		arbiter = progress.NewArbiter(progress.DefaultThresholds())
	}
	return Heuristics{arbiter: arbiter}
}

// ChooseAction picks a safe candidate according to the active policy.
// Repeated visits rotate through candidates so a stalled screen does not
// get the same action forever.
func (h Heuristics) ChooseAction(st domain.AgentState) domain.ChosenAction {
	actions := st.Actions
	if len(actions) == 0 {
		return domain.ChosenAction{ActionIndex: -1}
	}
	back := len(actions) - 1
	if st.CurrentApp != "" && st.CurrentApp != st.AppID {
		return chosen(actions, back, "outside target app, going back")
	}

	var safe []int
	for i, a := range actions {
		if a.Candidate.Verb == domain.VerbBack || a.Candidate.HighRisk() {
			continue
		}
		safe = append(safe, i)
	}
	if len(safe) == 0 {
		idx := salience.SafeFallback(actions)
		return chosen(actions, idx, "no safe forward action")
	}

	var idx int
	switch st.Policy {
	case domain.PolicyDepth:
		idx = safe[st.NoProgressStreak%len(safe)]
	case domain.PolicyRandom:
		seed := fnv.New64a()
		if st.Signature != nil {
			_, _ = seed.Write([]byte(st.Signature.CompositeHash))
		}
		_, _ = fmt.Fprintf(seed, "|%d", st.Counters.StepsTotal)
		idx = safe[seed.Sum64()%uint64(len(safe))]
	case domain.PolicyTargeted:
		var labeled []int
		for _, i := range safe {
			c := actions[i].Candidate
			if c.Verb == domain.VerbType || c.TargetTextStem != "" {
				labeled = append(labeled, i)
			}
		}
		if len(labeled) == 0 {
			labeled = safe
		}
		idx = labeled[st.NoProgressStreak%len(labeled)]
	default: // breadth
		idx = safe[st.Counters.StepsTotal%len(safe)]
	}
	return chosen(actions, idx, fmt.Sprintf("%s policy pick", st.Policy))
}

func chosen(actions []domain.EnumeratedAction, idx int, why string) domain.ChosenAction {
	out := domain.ChosenAction{ActionIndex: idx, Rationale: why, Confidence: 0.5}
	if idx >= 0 && idx < len(actions) {
		out.ExpectedPostcondition = actions[idx].Candidate.ExpectedPostcondition
	}
	return out
}

// Verify classifies the effect of the last action from the screen delta.
func (h Heuristics) Verify(st domain.AgentState) domain.VerificationResult {
	switch {
	case st.CurrentApp != "" && st.CurrentApp != st.AppID:
		return domain.VerificationResult{DeltaType: domain.DeltaErrorState, ObservedChange: "left app for " + st.CurrentApp, Confidence: 0.7}
	case st.PrevSignature == nil:
		return domain.VerificationResult{Success: true, DeltaType: domain.DeltaNewScreen, ObservedChange: "first screen", Confidence: 0.5}
	case st.Delta == 0:
		waited := st.LastAction != nil && st.LastAction.Verb == domain.VerbWait
		return domain.VerificationResult{Success: waited, DeltaType: domain.DeltaNoChange, ObservedChange: "screen unchanged", Confidence: 0.8}
	case st.Delta < minorUpdateDelta:
		return domain.VerificationResult{Success: true, DeltaType: domain.DeltaMinorUpdate, ObservedChange: fmt.Sprintf("delta %.2f", st.Delta), Confidence: 0.6}
	case st.Delta < overlayDelta:
		return domain.VerificationResult{Success: true, DeltaType: domain.DeltaOverlay, ObservedChange: fmt.Sprintf("delta %.2f", st.Delta), Confidence: 0.5}
	default:
		return domain.VerificationResult{Success: true, DeltaType: domain.DeltaNewScreen, ObservedChange: fmt.Sprintf("delta %.2f", st.Delta), Confidence: 0.6}
	}
}

// DetectProgress classifies progress from heuristic signals only.
func (h Heuristics) DetectProgress(st domain.AgentState) domain.ProgressAssessment {
	return progress.Classify(progress.SignalsFrom(st))
}

// ShouldContinue proposes the heuristic route.
func (h Heuristics) ShouldContinue(st domain.AgentState) domain.RoutingDecision {
	return h.arbiter.Route(st)
}

// SwitchPolicy rotates to the next untried policy. With none left it
// proposes the current policy, which ApplySwitch rejects.
func (h Heuristics) SwitchPolicy(st domain.AgentState) domain.PolicySwitch {
	if sw, ok := h.arbiter.SwitchPlan(st); ok {
		return sw
	}
	return domain.PolicySwitch{NewPolicy: st.Policy, Reasoning: "no untried policy left", Confidence: 1}
}
