// internal/progress/arbiter.go
package progress

import (
	"fmt"
	"slices"

	"github.com/xkilldash9x/screengraph/internal/domain"
)

// Thresholds parameterize the routing heuristics.
type Thresholds struct {
	// NoProgressThreshold consecutive no-progress cycles stop the run.
	NoProgressThreshold int
	// ConfidenceThreshold is the LLM confidence below which the heuristic
	// progress flag wins.
	ConfidenceThreshold float64
	// PolicyCooldown is the minimum number of steps between policy switches.
	PolicyCooldown int
}

// DefaultThresholds returns the stock loop thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		NoProgressThreshold: 10,
		ConfidenceThreshold: 0.6,
		PolicyCooldown:      domain.DefaultPolicyCooldown,
	}
}

// Arbiter combines heuristic signals with model output and has final say
// over routing. It is stateless; every answer is a function of its inputs.
type Arbiter struct {
	t Thresholds
}

// NewArbiter fills zero thresholds with defaults.
func NewArbiter(t Thresholds) *Arbiter {
	d := DefaultThresholds()
	if t.NoProgressThreshold <= 0 {
		t.NoProgressThreshold = d.NoProgressThreshold
	}
	if t.ConfidenceThreshold <= 0 {
		t.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if t.PolicyCooldown <= 0 {
		t.PolicyCooldown = d.PolicyCooldown
	}
	return &Arbiter{t: t}
}

// Thresholds returns the effective thresholds.
func (a *Arbiter) Thresholds() Thresholds { return a.t }

// Assess combines the heuristic classification of st with an optional model
// assessment. The model wins only when it is valid, decisive and at least
// as confident as the configured threshold.
func (a *Arbiter) Assess(st domain.AgentState, llm *domain.ProgressAssessment) domain.ProgressAssessment {
	heuristic := Classify(SignalsFrom(st))
	if llm == nil || !llm.Flag.IsValid() || !domain.ValidConfidence(llm.Confidence) {
		return heuristic
	}
	if llm.Flag == domain.Unknown || llm.Confidence < a.t.ConfidenceThreshold {
		return heuristic
	}
	return *llm
}

// ApplyProgress folds a progress flag into the state's counters and streak.
func ApplyProgress(p domain.ProgressAssessment) domain.Update {
	return func(s *domain.AgentState) {
		pa := p
		s.Progress = &pa
		switch p.Flag {
		case domain.MadeProgress:
			s.NoProgressStreak = 0
		case domain.NoProgress, domain.Regressed:
			s.NoProgressStreak++
			s.Counters.NoProgressCycles++
		case domain.Unknown:
		}
	}
}

// CanSwitch reports whether the policy cooldown has elapsed.
func (a *Arbiter) CanSwitch(st domain.AgentState) bool {
	return st.Counters.StepsTotal-st.PolicySwitchedAt >= a.t.PolicyCooldown
}

// NextPolicy returns the first policy in rotation order not yet tried, or
// false when every policy has been tried.
func NextPolicy(st domain.AgentState) (domain.Policy, bool) {
	for _, p := range domain.AllPolicies() {
		if !slices.Contains(st.PoliciesTried, p) {
			return p, true
		}
	}
	return "", false
}

// switchDue is true once half the no-progress threshold has accumulated.
func (a *Arbiter) switchDue(st domain.AgentState) bool {
	return st.NoProgressStreak >= max(1, a.t.NoProgressThreshold/2)
}

// Route is the deterministic routing heuristic used when no model answer is
// available.
func (a *Arbiter) Route(st domain.AgentState) domain.RoutingDecision {
	if hard, ok := a.hardStop(st); ok {
		return hard
	}
	sig := SignalsFrom(st)
	if sig.OutsideApp && st.Counters.OutsideAppSteps >= st.Budgets.OutsideAppLimit {
		return domain.RoutingDecision{
			NextRoute:  domain.RouteRestartApp,
			Reasoning:  fmt.Sprintf("outside target app for %d steps", st.Counters.OutsideAppSteps),
			Confidence: 1,
		}
	}
	if sig.ErrorState && st.Progress != nil && st.Progress.Flag == domain.Regressed {
		return domain.RoutingDecision{NextRoute: domain.RouteRestartApp, Reasoning: "app reached an error state", Confidence: 0.8}
	}
	if a.switchDue(st) && a.CanSwitch(st) {
		return domain.RoutingDecision{
			NextRoute:  domain.RouteSwitchPolicy,
			Reasoning:  fmt.Sprintf("%d cycles without progress under %s", st.NoProgressStreak, st.Policy),
			Confidence: 0.8,
		}
	}
	return domain.RoutingDecision{NextRoute: domain.RouteContinue, Reasoning: "exploration continues", Confidence: 0.6}
}

// hardStop returns the stops that no proposal can override.
func (a *Arbiter) hardStop(st domain.AgentState) (domain.RoutingDecision, bool) {
	if res := st.Budgets.ExhaustedBy(st.Counters); res != "" {
		return domain.RoutingDecision{
			NextRoute:  domain.RouteStop,
			StopReason: domain.StopBudgetExhausted,
			Reasoning:  res + " budget exhausted",
			Confidence: 1,
		}, true
	}
	if st.NoProgressStreak >= a.t.NoProgressThreshold {
		return domain.RoutingDecision{
			NextRoute:  domain.RouteStop,
			StopReason: domain.StopNoProgress,
			Reasoning:  fmt.Sprintf("%d consecutive cycles without progress", st.NoProgressStreak),
			Confidence: 1,
		}, true
	}
	if _, ok := NextPolicy(st); !ok && a.switchDue(st) && a.CanSwitch(st) {
		return domain.RoutingDecision{
			NextRoute:  domain.RouteStop,
			StopReason: domain.StopPolicyExhausted,
			Reasoning:  "every policy tried without progress",
			Confidence: 1,
		}, true
	}
	return domain.RoutingDecision{}, false
}

// Arbitrate turns a proposed route into the route the orchestrator follows.
// Budget exhaustion and hard stops always win; invalid proposals fall back
// to Route.
func (a *Arbiter) Arbitrate(st domain.AgentState, proposed domain.RoutingDecision) domain.RoutingDecision {
	if hard, ok := a.hardStop(st); ok {
		return hard
	}
	if !proposed.NextRoute.IsValid() || !domain.ValidConfidence(proposed.Confidence) {
		return a.Route(st)
	}

	out := proposed
	switch proposed.NextRoute {
	case domain.RouteContinue:
		out.StopReason = domain.StopNone
		// A stuck loop still has to leave the app if it wandered off.
		if h := a.Route(st); h.NextRoute == domain.RouteRestartApp && h.Confidence == 1 {
			return h
		}
	case domain.RouteSwitchPolicy:
		out.StopReason = domain.StopNone
		if _, ok := NextPolicy(st); !ok {
			return domain.RoutingDecision{
				NextRoute:  domain.RouteStop,
				StopReason: domain.StopPolicyExhausted,
				Reasoning:  "switch requested but every policy was tried",
				Confidence: 1,
			}
		}
		if !a.CanSwitch(st) {
			out.NextRoute = domain.RouteContinue
			out.Reasoning = "policy switch ignored during cooldown"
		}
	case domain.RouteRestartApp:
		out.StopReason = domain.StopNone
	case domain.RouteEscalate:
		out.StopReason = domain.StopEscalated
	case domain.RouteStop:
		if !proposed.StopReason.IsValid() || proposed.StopReason == domain.StopNone || proposed.StopReason.IsError() {
			out.StopReason = domain.StopSuccess
		}
	}
	return out
}

// SwitchPlan is the heuristic policy switch.
func (a *Arbiter) SwitchPlan(st domain.AgentState) (domain.PolicySwitch, bool) {
	next, ok := NextPolicy(st)
	if !ok {
		return domain.PolicySwitch{}, false
	}
	return domain.PolicySwitch{
		NewPolicy:     next,
		Reasoning:     fmt.Sprintf("rotate from %s after %d stalled cycles", st.Policy, st.NoProgressStreak),
		CooldownSteps: a.t.PolicyCooldown,
		Confidence:    0.7,
	}, true
}

// ApplySwitch validates a policy switch against the state. Unknown, current
// or already-tried policies are replaced with the next untried one; a switch
// during cooldown is rejected.
func (a *Arbiter) ApplySwitch(st domain.AgentState, sw domain.PolicySwitch) (domain.PolicySwitch, bool) {
	if !a.CanSwitch(st) {
		return sw, false
	}
	if !sw.NewPolicy.IsValid() || sw.NewPolicy == st.Policy || slices.Contains(st.PoliciesTried, sw.NewPolicy) {
		next, ok := NextPolicy(st)
		if !ok {
			return sw, false
		}
		sw.NewPolicy = next
	}
	if sw.CooldownSteps <= 0 {
		sw.CooldownSteps = a.t.PolicyCooldown
	}
	return sw, true
}

// Switched records an accepted switch on the state.
func Switched(sw domain.PolicySwitch) domain.Update {
	return func(s *domain.AgentState) {
		s.Policy = sw.NewPolicy
		if !slices.Contains(s.PoliciesTried, sw.NewPolicy) {
			s.PoliciesTried = append(s.PoliciesTried, sw.NewPolicy)
		}
		s.PolicySwitchedAt = s.Counters.StepsTotal
		s.NoProgressStreak = 0
	}
}
