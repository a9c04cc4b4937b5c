// internal/progress/signals.go
package progress

import (
	"github.com/xkilldash9x/screengraph/internal/domain"
)

// Signals are the heuristic inputs to progress classification.
type Signals struct {
	SignatureNew     bool    `json:"signature_new"`
	SameScreen       bool    `json:"same_screen"`
	NodesAdded       int     `json:"nodes_added"`
	EdgesAdded       int     `json:"edges_added"`
	NoProgressStreak int     `json:"no_progress_streak"`
	OutsideApp       bool    `json:"outside_app"`
	OutsideAppSteps  int     `json:"outside_app_steps"`
	ErrorState       bool    `json:"error_state"`
	ErrorRate        float64 `json:"error_rate"`
	// Persisted is false when no Persist result is available for this cycle.
	Persisted bool `json:"persisted"`
}

// SignalsFrom derives the heuristic signals from a state. It reads nothing
// but the state, so it is safe to call from any node.
func SignalsFrom(st domain.AgentState) Signals {
	sig := Signals{
		NoProgressStreak: st.NoProgressStreak,
		OutsideApp:       st.CurrentApp != "" && st.CurrentApp != st.AppID,
		OutsideAppSteps:  st.Counters.OutsideAppSteps,
	}
	if st.LastPersist != nil {
		sig.Persisted = true
		sig.NodesAdded = st.LastPersist.NodesAdded
		sig.EdgesAdded = st.LastPersist.EdgesAdded
		sig.SignatureNew = st.LastPersist.NodesAdded > 0
	}
	if st.Signature != nil && st.PrevSignature != nil {
		sig.SameScreen = st.Signature.Equal(*st.PrevSignature)
	}
	if st.Verification != nil {
		sig.ErrorState = st.Verification.DeltaType == domain.DeltaErrorState
	}
	if st.Counters.StepsTotal > 0 {
		sig.ErrorRate = float64(st.Counters.Errors) / float64(st.Counters.StepsTotal)
	}
	return sig
}

// Classify maps signals to a flag with a confidence. Leaving the app or
// landing on an error screen is a regression; a new screen or a new
// transition is progress; staying put is not.
func Classify(s Signals) domain.ProgressAssessment {
	switch {
	case s.OutsideApp:
		return domain.ProgressAssessment{Flag: domain.Regressed, Confidence: 0.8, Reasoning: "foreground app left the target"}
	case s.ErrorState:
		return domain.ProgressAssessment{Flag: domain.Regressed, Confidence: 0.7, Reasoning: "verification observed an error state"}
	case !s.Persisted:
		return domain.ProgressAssessment{Flag: domain.Unknown, Confidence: 0.3, Reasoning: "no persistence result this cycle"}
	case s.SignatureNew:
		return domain.ProgressAssessment{Flag: domain.MadeProgress, Confidence: 0.9, Reasoning: "screen not seen before"}
	case s.EdgesAdded > 0:
		return domain.ProgressAssessment{Flag: domain.MadeProgress, Confidence: 0.7, Reasoning: "new transition between known screens"}
	case s.SameScreen:
		return domain.ProgressAssessment{Flag: domain.NoProgress, Confidence: 0.85, Reasoning: "screen unchanged after action"}
	default:
		return domain.ProgressAssessment{Flag: domain.NoProgress, Confidence: 0.6, Reasoning: "revisited a known screen over a known edge"}
	}
}
