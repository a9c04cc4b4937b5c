package decision

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/screengraph/internal/domain"
)

const testApp = "com.example.notes"

func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// screenState builds a state on a screen with a safe tap, a risky tap and back.
func screenState(t *testing.T) domain.AgentState {
	t.Helper()
	st, err := domain.NewAgentState("run-1", testApp, domain.DefaultBudgets())
	require.NoError(t, err)
	sig := domain.ScreenSignature{CompositeHash: "sig-home", LayoutHash: "l", OCRStemsHash: "o"}
	settings := domain.Bounds{X: 0.1, Y: 0.1, W: 0.3, H: 0.1}
	remove := domain.Bounds{X: 0.1, Y: 0.5, W: 0.3, H: 0.1}
	return st.WithUpdates(func(s *domain.AgentState) {
		s.Signature = &sig
		s.CurrentApp = testApp
		s.Actions = []domain.EnumeratedAction{
			{Index: 0, Salience: 0.9, Candidate: domain.ActionCandidate{
				Verb: domain.VerbTap, TargetRole: "button", TargetTextStem: "set",
				Bounds: &settings, SafetyScore: 0.9, ExpectedPostcondition: "settings screen",
			}},
			{Index: 1, Salience: 0.8, Candidate: domain.ActionCandidate{
				Verb: domain.VerbTap, TargetRole: "button", TargetTextStem: "delet",
				Bounds: &remove, SafetyScore: 0.2, ExpectedPostcondition: "item removed",
			}},
			{Index: 2, Salience: 0, Candidate: domain.ActionCandidate{
				Verb: domain.VerbBack, SafetyScore: 1, ExpectedPostcondition: "previous screen",
			}},
		}
	})
}
