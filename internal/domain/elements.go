// internal/domain/elements.go
package domain

import (
	"fmt"
	"math"
)

// MaxActions caps the enumerated action list carried in AgentState.
const MaxActions = 50

// Bounds is a normalized rectangle in [0,1]x[0,1] screen space.
type Bounds struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	W float64 `json:"w" yaml:"w"`
	H float64 `json:"h" yaml:"h"`
}

// Center returns the normalized center point of the rectangle.
func (b Bounds) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Area returns the normalized area, clamped to [0,1].
func (b Bounds) Area() float64 {
	a := b.W * b.H
	if a < 0 || math.IsNaN(a) {
		return 0
	}
	if a > 1 {
		return 1
	}
	return a
}

// Valid reports whether the rectangle lies inside the unit square.
func (b Bounds) Valid() bool {
	if b.W < 0 || b.H < 0 {
		return false
	}
	return inUnit(b.X) && inUnit(b.Y) && b.X+b.W <= 1.0000001 && b.Y+b.H <= 1.0000001
}

func inUnit(v float64) bool { return v >= 0 && v <= 1 && !math.IsNaN(v) }

// UIElement is one node of a perceived screen, flattened in document order.
type UIElement struct {
	ID        string `json:"id,omitempty" yaml:"id,omitempty"`
	Role      string `json:"role" yaml:"role"`
	Text      string `json:"text,omitempty" yaml:"text,omitempty"`
	Bounds    Bounds `json:"bounds" yaml:"bounds"`
	Clickable bool   `json:"clickable,omitempty" yaml:"clickable,omitempty"`
	Focusable bool   `json:"focusable,omitempty" yaml:"focusable,omitempty"`
	Visible   bool   `json:"visible" yaml:"visible"`
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	// Depth is the nesting level in the source hierarchy; Order the pre-order index.
	Depth int `json:"depth" yaml:"depth"`
	Order int `json:"order" yaml:"order"`
}

// Interactive reports whether the element accepts input.
func (e UIElement) Interactive() bool {
	return e.Visible && e.Enabled && (e.Clickable || e.Focusable)
}

// ActionVerb is the closed set of device interactions.
type ActionVerb string

const (
	VerbTap       ActionVerb = "tap"
	VerbLongPress ActionVerb = "long_press"
	VerbSwipe     ActionVerb = "swipe"
	VerbType      ActionVerb = "type"
	VerbBack      ActionVerb = "back"
	VerbHome      ActionVerb = "home"
	VerbWait      ActionVerb = "wait"
	VerbScroll    ActionVerb = "scroll"
)

// AllVerbs lists every ActionVerb.
func AllVerbs() []ActionVerb {
	return []ActionVerb{VerbTap, VerbLongPress, VerbSwipe, VerbType, VerbBack, VerbHome, VerbWait, VerbScroll}
}

// IsValid reports whether v is a known verb.
func (v ActionVerb) IsValid() bool {
	switch v {
	case VerbTap, VerbLongPress, VerbSwipe, VerbType, VerbBack, VerbHome, VerbWait, VerbScroll:
		return true
	}
	return false
}

// CountsAsTap reports whether executing the verb consumes the tap budget.
func (v ActionVerb) CountsAsTap() bool {
	switch v {
	case VerbTap, VerbLongPress, VerbType:
		return true
	case VerbSwipe, VerbBack, VerbHome, VerbWait, VerbScroll:
		return false
	}
	return false
}

// SwipeDirection is the direction of a swipe or scroll gesture.
type SwipeDirection string

const (
	SwipeUp    SwipeDirection = "up"
	SwipeDown  SwipeDirection = "down"
	SwipeLeft  SwipeDirection = "left"
	SwipeRight SwipeDirection = "right"
)

func (d SwipeDirection) IsValid() bool {
	switch d {
	case SwipeUp, SwipeDown, SwipeLeft, SwipeRight:
		return true
	}
	return false
}

// UIAction is a concrete, executable device action.
type UIAction struct {
	Verb      ActionVerb     `json:"verb"`
	Target    *Bounds        `json:"target,omitempty"`
	Text      string         `json:"text,omitempty"`
	Direction SwipeDirection `json:"direction,omitempty"`
}

// Validate checks the per-verb argument requirements.
func (a UIAction) Validate() error {
	switch a.Verb {
	case VerbTap, VerbLongPress:
		if a.Target == nil {
			return fmt.Errorf("%s action requires a target", a.Verb)
		}
	case VerbType:
		if a.Target == nil || a.Text == "" {
			return fmt.Errorf("type action requires a target and text")
		}
	case VerbSwipe, VerbScroll:
		if !a.Direction.IsValid() {
			return fmt.Errorf("%s action requires a direction", a.Verb)
		}
	case VerbBack, VerbHome, VerbWait:
	default:
		return fmt.Errorf("unknown action verb %q", a.Verb)
	}
	if a.Target != nil && !a.Target.Valid() {
		return fmt.Errorf("action target out of normalized range: %+v", *a.Target)
	}
	return nil
}

// Key is a stable string used for edge identity and cache discrimination.
func (a UIAction) Key() string {
	switch {
	case a.Target != nil:
		cx, cy := a.Target.Center()
		return fmt.Sprintf("%s@%.2f,%.2f", a.Verb, cx, cy)
	case a.Direction != "":
		return fmt.Sprintf("%s:%s", a.Verb, a.Direction)
	default:
		return string(a.Verb)
	}
}

// HighRiskSafety is the safety score below which a candidate is high-risk.
const HighRiskSafety = 0.5

// ActionCandidate describes an action the agent could take on the current screen.
type ActionCandidate struct {
	Verb                  ActionVerb     `json:"verb"`
	TargetRole            string         `json:"target_role,omitempty"`
	TargetTextStem        string         `json:"target_text_stem,omitempty"`
	IconHint              string         `json:"icon_hint,omitempty"`
	Bounds                *Bounds        `json:"bounds,omitempty"`
	Direction             SwipeDirection `json:"direction,omitempty"`
	Text                  string         `json:"text,omitempty"`
	ExpectedPostcondition string         `json:"expected_postcondition,omitempty"`
	SafetyScore           float64        `json:"safety_score"`
}

// HighRisk reports whether the candidate needs high confidence to be chosen.
func (c ActionCandidate) HighRisk() bool { return c.SafetyScore < HighRiskSafety }

// Action converts the candidate into an executable action.
func (c ActionCandidate) Action() UIAction {
	return UIAction{Verb: c.Verb, Target: c.Bounds, Text: c.Text, Direction: c.Direction}
}

// EnumeratedAction is one indexed entry of the bounded action list.
type EnumeratedAction struct {
	Index     int             `json:"index"`
	Element   *UIElement      `json:"element,omitempty"`
	Candidate ActionCandidate `json:"candidate"`
	Salience  float64         `json:"salience"`
}
