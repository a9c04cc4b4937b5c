package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUIActionValidate(t *testing.T) {
	target := &Bounds{X: 0.1, Y: 0.1, W: 0.2, H: 0.1}
	tests := []struct {
		name    string
		action  UIAction
		wantErr bool
	}{
		{"tap with target", UIAction{Verb: VerbTap, Target: target}, false},
		{"tap without target", UIAction{Verb: VerbTap}, true},
		{"type needs text", UIAction{Verb: VerbType, Target: target}, true},
		{"type ok", UIAction{Verb: VerbType, Target: target, Text: "hello"}, false},
		{"swipe needs direction", UIAction{Verb: VerbSwipe}, true},
		{"scroll ok", UIAction{Verb: VerbScroll, Direction: SwipeDown}, false},
		{"back ok", UIAction{Verb: VerbBack}, false},
		{"unknown verb", UIAction{Verb: "fling"}, true},
		{"target out of range", UIAction{Verb: VerbTap, Target: &Bounds{X: 0.9, Y: 0.9, W: 0.5, H: 0.5}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBoundsGeometry(t *testing.T) {
	b := Bounds{X: 0.2, Y: 0.4, W: 0.2, H: 0.2}
	cx, cy := b.Center()
	assert.InDelta(t, 0.3, cx, 1e-9)
	assert.InDelta(t, 0.5, cy, 1e-9)
	assert.InDelta(t, 0.04, b.Area(), 1e-9)
	assert.Equal(t, 0.0, Bounds{W: -1, H: 1}.Area())
}

func TestActionKeyIsStable(t *testing.T) {
	a := UIAction{Verb: VerbTap, Target: &Bounds{X: 0.1, Y: 0.1, W: 0.2, H: 0.2}}
	assert.Equal(t, "tap@0.20,0.20", a.Key())
	assert.Equal(t, "swipe:left", UIAction{Verb: VerbSwipe, Direction: SwipeLeft}.Key())
	assert.Equal(t, "back", UIAction{Verb: VerbBack}.Key())
}

func TestVerbTapAccounting(t *testing.T) {
	for _, v := range AllVerbs() {
		assert.True(t, v.IsValid())
	}
	assert.True(t, VerbTap.CountsAsTap())
	assert.False(t, VerbBack.CountsAsTap())
}
