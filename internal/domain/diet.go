// internal/domain/diet.go
package domain

// ActionView is the compact rendition of an EnumeratedAction sent to a decider.
type ActionView struct {
	Index       int        `json:"index"`
	Verb        ActionVerb `json:"verb"`
	Role        string     `json:"role,omitempty"`
	TextStem    string     `json:"text,omitempty"`
	IconHint    string     `json:"icon,omitempty"`
	SafetyScore float64    `json:"safety"`
	Salience    float64    `json:"salience"`
}

// Diet is the minimal, decision-specific context handed to the decision port.
// It carries hashes, deltas and references, never a full element tree or bytes.
type Diet struct {
	Decision      DecisionType `json:"decision"`
	RunID         string       `json:"run_id"`
	AppID         string       `json:"app_id"`
	Policy        Policy       `json:"policy"`
	SignatureHash string       `json:"signature_hash"`
	PrevHash      string       `json:"prev_hash,omitempty"`
	Delta         float64      `json:"delta"`
	DeltaHash     string       `json:"delta_hash"`

	Actions    []ActionView `json:"actions,omitempty"`
	Events     []Event      `json:"events,omitempty"`
	AssetRefs  []string     `json:"asset_refs,omitempty"`
	Plan       []string     `json:"plan,omitempty"`
	PlanCursor int          `json:"plan_cursor"`

	ExpectedPostcondition string            `json:"expected_postcondition,omitempty"`
	LastAction            string            `json:"last_action,omitempty"`
	NewScreen             bool              `json:"new_screen"`
	NodesAdded            int               `json:"nodes_added"`
	EdgesAdded            int               `json:"edges_added"`
	Progress              ProgressFlag      `json:"progress,omitempty"`
	Counters              *Counters         `json:"counters,omitempty"`
	Budgets               *Budgets          `json:"budgets,omitempty"`
	Extra                 map[string]string `json:"extra,omitempty"`
}
