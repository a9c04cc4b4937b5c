// internal/salience/enumerate.go
package salience

import (
	"strings"

	"github.com/xkilldash9x/screengraph/internal/domain"
	"github.com/xkilldash9x/screengraph/internal/signature"
)

// riskyWords mark actions that may destroy data, spend money or end the session.
var riskyWords = []string{
	"delete", "remove", "logout", "log out", "sign out", "signout",
	"pay", "purchase", "buy", "checkout", "subscribe", "uninstall",
	"reset", "erase", "clear all", "deactivate", "close account",
}

var (
	textInputRoles  = []string{"edittext", "textfield", "securetextfield", "searchfield", "input"}
	scrollableRoles = []string{"list", "scroll", "recyclerview", "table", "collectionview", "webview"}
)

// SampleInput is typed into text fields.
const SampleInput = "test"

// Enumerate turns ranked elements into a bounded list of action candidates.
// The list always ends with a back action so a dead-end screen can be left.
func Enumerate(ranked []Ranked, limit int) []domain.EnumeratedAction {
	if limit <= 0 || limit > domain.MaxActions {
		limit = domain.MaxActions
	}
	actions := make([]domain.EnumeratedAction, 0, len(ranked)+1)
	add := func(el *domain.UIElement, c domain.ActionCandidate, score float64) {
		if len(actions) >= limit-1 {
			return
		}
		actions = append(actions, domain.EnumeratedAction{Index: len(actions), Element: el, Candidate: c, Salience: score})
	}

	for i := range ranked {
		r := ranked[i]
		el := r.Element
		if !el.Visible || !el.Enabled || !el.Bounds.Valid() || el.Bounds.Area() == 0 {
			continue
		}
		role := strings.ToLower(el.Role)
		bounds := el.Bounds
		base := domain.ActionCandidate{
			TargetRole:     el.Role,
			TargetTextStem: signature.Stem(el.Text),
			IconHint:       iconHint(el),
			Bounds:         &bounds,
			SafetyScore:    safety(el.Text),
		}
		switch {
		case hasAny(role, textInputRoles) && el.Focusable:
			c := base
			c.Verb = domain.VerbType
			c.Text = SampleInput
			c.ExpectedPostcondition = "field contains text"
			add(&el, c, r.Score)
		case hasAny(role, scrollableRoles):
			c := base
			c.Verb = domain.VerbScroll
			// The finger moves up so content below the fold comes into view.
			c.Direction = domain.SwipeUp
			c.SafetyScore = 1
			c.ExpectedPostcondition = "more content revealed"
			add(&el, c, r.Score)
		case el.Clickable:
			c := base
			c.Verb = domain.VerbTap
			c.ExpectedPostcondition = "screen responds to tap on " + labelOf(el)
			add(&el, c, r.Score)
		}
	}
	actions = append(actions, domain.EnumeratedAction{
		Index: len(actions),
		Candidate: domain.ActionCandidate{
			Verb:                  domain.VerbBack,
			SafetyScore:           1,
			ExpectedPostcondition: "previous screen",
		},
	})
	return actions
}

// SafeFallback returns the index of the safest candidate, preferring higher
// salience among equally safe ones. It returns -1 for an empty list.
func SafeFallback(actions []domain.EnumeratedAction) int {
	best := -1
	for i, a := range actions {
		if a.Candidate.HighRisk() {
			continue
		}
		if best == -1 || a.Salience > actions[best].Salience {
			best = i
		}
	}
	return best
}

func safety(text string) float64 {
	t := strings.ToLower(text)
	for _, w := range riskyWords {
		if strings.Contains(t, w) {
			return 0.2
		}
	}
	return 0.9
}

func iconHint(el domain.UIElement) string {
	if el.Text != "" {
		return ""
	}
	role := strings.ToLower(el.Role)
	switch {
	case strings.Contains(role, "image"), strings.Contains(role, "icon"):
		return "icon"
	case strings.Contains(role, "switch"), strings.Contains(role, "checkbox"):
		return "toggle"
	}
	return ""
}

func labelOf(el domain.UIElement) string {
	if el.Text != "" {
		return el.Text
	}
	return el.Role
}

func hasAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
