// internal/domain/state.go
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// LastNEvents bounds AgentState.Events.
const LastNEvents = 10

// nowFunc and uuidNewString are variables so tests can pin time and ids.
var (
	nowFunc       = time.Now
	uuidNewString = uuid.NewString
)

// NodeName identifies an orchestrator node.
type NodeName string

const (
	NodeEnsureDevice     NodeName = "EnsureDevice"
	NodeProvisionApp     NodeName = "ProvisionApp"
	NodeLaunchOrAttach   NodeName = "LaunchOrAttach"
	NodeWaitIdle         NodeName = "WaitIdle"
	NodePerceive         NodeName = "Perceive"
	NodeEnumerateActions NodeName = "EnumerateActions"
	NodeChooseAction     NodeName = "ChooseAction"
	NodeAct              NodeName = "Act"
	NodeVerify           NodeName = "Verify"
	NodePersist          NodeName = "Persist"
	NodeDetectProgress   NodeName = "DetectProgress"
	NodeShouldContinue   NodeName = "ShouldContinue"
	NodeSwitchPolicy     NodeName = "SwitchPolicy"
	NodeRestartApp       NodeName = "RestartApp"
	NodeRecoverFromError NodeName = "RecoverFromError"
	NodeStop             NodeName = "Stop"
)

// Event is one entry of the bounded recent-history window.
type Event struct {
	Step   int       `json:"step"`
	Node   NodeName  `json:"node"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// PersistResultSummary reports what the last Persist node wrote.
type PersistResultSummary struct {
	NodeID     string `json:"node_id"`
	EdgeID     string `json:"edge_id,omitempty"`
	NodesAdded int    `json:"nodes_added"`
	EdgesAdded int    `json:"edges_added"`
}

// Failure records the classified error awaiting recovery.
type Failure struct {
	Node     NodeName `json:"node"`
	Err      *Error   `json:"-"`
	Message  string   `json:"message"`
	Attempts int      `json:"attempts"`
}

// AgentState is the value threaded through every node. It is never mutated in
// place; WithUpdates returns a modified copy.
type AgentState struct {
	RunID     string    `json:"run_id"`
	AppID     string    `json:"app_id"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Signature     *ScreenSignature `json:"signature,omitempty"`
	PrevSignature *ScreenSignature `json:"prev_signature,omitempty"`
	Delta         float64          `json:"delta"`
	Screen        *Screen          `json:"-"`
	Bundle        Bundle           `json:"bundle"`

	Actions      []EnumeratedAction  `json:"actions,omitempty"`
	Advice       *Advice             `json:"advice,omitempty"`
	Chosen       *ChosenAction       `json:"chosen,omitempty"`
	LastAction   *UIAction           `json:"last_action,omitempty"`
	Verification *VerificationResult `json:"verification,omitempty"`
	Progress     *ProgressAssessment `json:"progress,omitempty"`
	Routing      *RoutingDecision    `json:"routing,omitempty"`

	// Plan is the multi-step plan from the last ChooseAction that produced
	// one. Only action selection writes it; PlanCursor indexes into it.
	Plan       []string `json:"plan,omitempty"`
	PlanCursor int      `json:"plan_cursor"`

	Policy           Policy   `json:"policy"`
	PoliciesTried    []Policy `json:"policies_tried,omitempty"`
	PolicySwitchedAt int      `json:"policy_switched_at"`

	// NoProgressStreak counts consecutive no-progress cycles. Unlike
	// Counters.NoProgressCycles it resets when progress is made.
	NoProgressStreak int `json:"no_progress_streak"`

	Counters    Counters              `json:"counters"`
	Budgets     Budgets               `json:"budgets"`
	Cache       map[string]string     `json:"cache,omitempty"`
	LastPersist *PersistResultSummary `json:"last_persist,omitempty"`
	Events      []Event               `json:"events,omitempty"`
	Failure     *Failure              `json:"failure,omitempty"`
	CurrentApp  string                `json:"current_app,omitempty"`

	StopReason StopReason `json:"stop_reason,omitempty"`
}

// NewAgentState creates the initial state of a run. An empty runID is replaced
// by a fresh UUID.
func NewAgentState(runID, appID string, budgets Budgets) (AgentState, error) {
	if appID == "" {
		return AgentState{}, errors.New("app id is required")
	}
	if err := budgets.Validate(); err != nil {
		return AgentState{}, err
	}
	if runID == "" {
		runID = uuidNewString()
	}
	now := nowFunc().UTC()
	return AgentState{
		RunID:         runID,
		AppID:         appID,
		StartedAt:     now,
		UpdatedAt:     now,
		Budgets:       budgets,
		Policy:        PolicyBreadth,
		PoliciesTried: []Policy{PolicyBreadth},
		Cache:         map[string]string{},
	}, nil
}

// Update mutates a private copy inside WithUpdates.
type Update func(*AgentState)

// WithUpdates returns a copy of s with updates applied and UpdatedAt refreshed.
// Slices and maps are copied so the receiver is never aliased. Counters are
// clamped so no field moves backwards, and a set StopReason is sticky.
func (s AgentState) WithUpdates(updates ...Update) AgentState {
	next := s.clone()
	for _, u := range updates {
		u(&next)
	}
	next.Counters = next.Counters.Max(s.Counters)
	if s.StopReason != StopNone {
		next.StopReason = s.StopReason
	}
	if len(next.Events) > LastNEvents {
		next.Events = append([]Event(nil), next.Events[len(next.Events)-LastNEvents:]...)
	}
	next.UpdatedAt = nowFunc().UTC()
	return next
}

func (s AgentState) clone() AgentState {
	c := s
	if s.Actions != nil {
		c.Actions = append([]EnumeratedAction(nil), s.Actions...)
	}
	if s.PoliciesTried != nil {
		c.PoliciesTried = append([]Policy(nil), s.PoliciesTried...)
	}
	if s.Events != nil {
		c.Events = append([]Event(nil), s.Events...)
	}
	if s.Plan != nil {
		c.Plan = append([]string(nil), s.Plan...)
	}
	c.Signature = copyPtr(s.Signature)
	c.PrevSignature = copyPtr(s.PrevSignature)
	c.Advice = copyPtr(s.Advice)
	c.Chosen = copyPtr(s.Chosen)
	c.LastAction = copyPtr(s.LastAction)
	c.Verification = copyPtr(s.Verification)
	c.Progress = copyPtr(s.Progress)
	c.Routing = copyPtr(s.Routing)
	c.LastPersist = copyPtr(s.LastPersist)
	c.Failure = copyPtr(s.Failure)
	c.Cache = make(map[string]string, len(s.Cache))
	for k, v := range s.Cache {
		c.Cache[k] = v
	}
	return c
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// IsBudgetExhausted is derived from Counters and Budgets only.
func (s AgentState) IsBudgetExhausted() bool {
	return s.Budgets.Exhausted(s.Counters)
}

// ShouldStop is true once a stop reason is set or a budget is exhausted.
func (s AgentState) ShouldStop() bool {
	return s.StopReason != StopNone || s.IsBudgetExhausted()
}

// Elapsed is the wall-clock time since the run started.
func (s AgentState) Elapsed() time.Duration { return nowFunc().Sub(s.StartedAt) }

// -- Update helpers --

// Record appends an event to the bounded history.
func Record(node NodeName, detail string) Update {
	return func(s *AgentState) {
		s.Events = append(s.Events, Event{Step: s.Counters.StepsTotal, Node: node, Detail: detail, At: nowFunc().UTC()})
	}
}

// Stopped sets the terminal reason.
func Stopped(r StopReason) Update {
	return func(s *AgentState) {
		if s.StopReason == StopNone {
			s.StopReason = r
		}
	}
}

// Counted applies f to the counters.
func Counted(f func(c *Counters)) Update {
	return func(s *AgentState) { f(&s.Counters) }
}

// Failed records a classified failure for RecoverFromError.
func Failed(node NodeName, err *Error) Update {
	return func(s *AgentState) {
		attempts := 0
		if s.Failure != nil && s.Failure.Node == node && s.Failure.Err != nil && s.Failure.Err.Code == err.Code {
			attempts = s.Failure.Attempts
		}
		s.Failure = &Failure{Node: node, Err: err, Message: err.Error(), Attempts: attempts}
		s.Counters.Errors++
	}
}

// Recovered clears the pending failure.
func Recovered() Update {
	return func(s *AgentState) { s.Failure = nil }
}

// ClearTransient drops per-screen state after an app restart.
func ClearTransient() Update {
	return func(s *AgentState) {
		s.Actions = nil
		s.Advice = nil
		s.Chosen = nil
		s.LastAction = nil
		s.Verification = nil
		s.Progress = nil
		s.Routing = nil
		s.Plan = nil
		s.PlanCursor = 0
		s.PrevSignature = nil
		s.Signature = nil
		s.Screen = nil
		s.Delta = 0
		s.Failure = nil
	}
}
