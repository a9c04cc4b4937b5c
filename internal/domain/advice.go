// internal/domain/advice.go
package domain

// DecisionType tags the five decision points of the loop.
type DecisionType string

const (
	DecisionChooseAction   DecisionType = "choose_action"
	DecisionVerify         DecisionType = "verify"
	DecisionDetectProgress DecisionType = "detect_progress"
	DecisionShouldContinue DecisionType = "should_continue"
	DecisionSwitchPolicy   DecisionType = "switch_policy"
)

// AllDecisionTypes lists every decision type.
func AllDecisionTypes() []DecisionType {
	return []DecisionType{
		DecisionChooseAction, DecisionVerify, DecisionDetectProgress,
		DecisionShouldContinue, DecisionSwitchPolicy,
	}
}

// AdviceSource records where a decision came from.
type AdviceSource string

const (
	SourceCache     AdviceSource = "cache"
	SourceLLM       AdviceSource = "llm"
	SourceHeuristic AdviceSource = "heuristic"
)

// Advice is the summary of the latest decision kept in AgentState. The full
// rationale lives in blob storage under RationaleRef.
type Advice struct {
	Kind         DecisionType `json:"kind"`
	Plan         []string     `json:"plan,omitempty"`
	Confidence   float64      `json:"confidence"`
	RationaleRef string       `json:"rationale_ref,omitempty"`
	Summary      string       `json:"summary,omitempty"`
	Source       AdviceSource `json:"source"`
}

// MaxPlanSteps bounds Advice.Plan.
const MaxPlanSteps = 20

// ChosenAction is the result of the ChooseAction decision.
type ChosenAction struct {
	ActionIndex           int      `json:"action_index"`
	Rationale             string   `json:"rationale,omitempty"`
	RationaleRef          string   `json:"rationale_ref,omitempty"`
	Confidence            float64  `json:"confidence"`
	ExpectedPostcondition string   `json:"expected_postcondition,omitempty"`
	Plan                  []string `json:"plan,omitempty"`
}

// DeltaType classifies what an action did to the screen.
type DeltaType string

const (
	DeltaNewScreen   DeltaType = "NEW_SCREEN"
	DeltaOverlay     DeltaType = "OVERLAY"
	DeltaNoChange    DeltaType = "NO_CHANGE"
	DeltaMinorUpdate DeltaType = "MINOR_UPDATE"
	DeltaErrorState  DeltaType = "ERROR_STATE"
)

func (d DeltaType) IsValid() bool {
	switch d {
	case DeltaNewScreen, DeltaOverlay, DeltaNoChange, DeltaMinorUpdate, DeltaErrorState:
		return true
	}
	return false
}

// VerificationResult is the result of the Verify decision.
type VerificationResult struct {
	Success        bool      `json:"success"`
	DeltaType      DeltaType `json:"delta_type"`
	ObservedChange string    `json:"observed_change,omitempty"`
	Rationale      string    `json:"rationale,omitempty"`
	RationaleRef   string    `json:"rationale_ref,omitempty"`
	Confidence     float64   `json:"confidence"`
}

// ProgressAssessment is the result of the DetectProgress decision.
type ProgressAssessment struct {
	Flag         ProgressFlag `json:"flag"`
	Reasoning    string       `json:"reasoning,omitempty"`
	RationaleRef string       `json:"rationale_ref,omitempty"`
	Confidence   float64      `json:"confidence"`
}

// Route is the next control-flow edge proposed by ShouldContinue.
type Route string

const (
	RouteContinue     Route = "continue"
	RouteSwitchPolicy Route = "switch_policy"
	RouteRestartApp   Route = "restart_app"
	RouteEscalate     Route = "escalate"
	RouteStop         Route = "stop"
)

func (r Route) IsValid() bool {
	switch r {
	case RouteContinue, RouteSwitchPolicy, RouteRestartApp, RouteEscalate, RouteStop:
		return true
	}
	return false
}

// RoutingDecision is the result of the ShouldContinue decision.
type RoutingDecision struct {
	NextRoute    Route      `json:"next_route"`
	StopReason   StopReason `json:"stop_reason,omitempty"`
	Reasoning    string     `json:"reasoning,omitempty"`
	RationaleRef string     `json:"rationale_ref,omitempty"`
	Confidence   float64    `json:"confidence"`
}

// Policy is an exploration strategy.
type Policy string

const (
	PolicyBreadth  Policy = "breadth"
	PolicyDepth    Policy = "depth"
	PolicyRandom   Policy = "random"
	PolicyTargeted Policy = "targeted"
)

// AllPolicies is the rotation order used when switching.
func AllPolicies() []Policy {
	return []Policy{PolicyBreadth, PolicyDepth, PolicyRandom, PolicyTargeted}
}

func (p Policy) IsValid() bool {
	switch p {
	case PolicyBreadth, PolicyDepth, PolicyRandom, PolicyTargeted:
		return true
	}
	return false
}

// DefaultPolicyCooldown is the minimum number of steps between switches.
const DefaultPolicyCooldown = 5

// PolicySwitch is the result of the SwitchPolicy decision.
type PolicySwitch struct {
	NewPolicy     Policy  `json:"new_policy"`
	Reasoning     string  `json:"reasoning,omitempty"`
	RationaleRef  string  `json:"rationale_ref,omitempty"`
	CooldownSteps int     `json:"cooldown_steps"`
	Confidence    float64 `json:"confidence"`
}

// ValidConfidence reports whether c is inside [0,1].
func ValidConfidence(c float64) bool { return c >= 0 && c <= 1 }
