// internal/domain/counters.go
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Counters are per-run usage and progress metrics. No field ever decreases
// within a run; every mutator returns a new value.
type Counters struct {
	StepsTotal       int   `json:"steps_total"`
	ScreensNew       int   `json:"screens_new"`
	NoProgressCycles int   `json:"no_progress_cycles"`
	OutsideAppSteps  int   `json:"outside_app_steps"`
	RestartsUsed     int   `json:"restarts_used"`
	Errors           int   `json:"errors"`
	TapsTotal        int   `json:"taps_total"`
	LLMCalls         int   `json:"llm_calls"`
	CacheHits        int   `json:"cache_hits"`
	TokensUsed       int   `json:"tokens_used"`
	ElapsedMs        int64 `json:"elapsed_ms"`
}

// Max returns the element-wise maximum of two counter sets.
func (c Counters) Max(o Counters) Counters {
	return Counters{
		StepsTotal:       max(c.StepsTotal, o.StepsTotal),
		ScreensNew:       max(c.ScreensNew, o.ScreensNew),
		NoProgressCycles: max(c.NoProgressCycles, o.NoProgressCycles),
		OutsideAppSteps:  max(c.OutsideAppSteps, o.OutsideAppSteps),
		RestartsUsed:     max(c.RestartsUsed, o.RestartsUsed),
		Errors:           max(c.Errors, o.Errors),
		TapsTotal:        max(c.TapsTotal, o.TapsTotal),
		LLMCalls:         max(c.LLMCalls, o.LLMCalls),
		CacheHits:        max(c.CacheHits, o.CacheHits),
		TokensUsed:       max(c.TokensUsed, o.TokensUsed),
		ElapsedMs:        max(c.ElapsedMs, o.ElapsedMs),
	}
}

// Dominates reports whether every field of c is >= the matching field of prev.
func (c Counters) Dominates(prev Counters) bool {
	return c.Max(prev) == c
}

// WithElapsed advances ElapsedMs, never moving it backwards.
func (c Counters) WithElapsed(d time.Duration) Counters {
	if ms := d.Milliseconds(); ms > c.ElapsedMs {
		c.ElapsedMs = ms
	}
	return c
}

// Budgets are the immutable hard caps of a run.
type Budgets struct {
	MaxSteps         int           `json:"max_steps" mapstructure:"max_steps" yaml:"max_steps"`
	MaxTime          time.Duration `json:"max_time" mapstructure:"max_time" yaml:"max_time"`
	MaxTaps          int           `json:"max_taps" mapstructure:"max_taps" yaml:"max_taps"`
	OutsideAppLimit  int           `json:"outside_app_limit" mapstructure:"outside_app_limit" yaml:"outside_app_limit"`
	RestartLimit     int           `json:"restart_limit" mapstructure:"restart_limit" yaml:"restart_limit"`
	MaxTokens        int           `json:"max_tokens" mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxTokensPerCall int           `json:"max_tokens_per_call" mapstructure:"max_tokens_per_call" yaml:"max_tokens_per_call"`
}

// DefaultBudgets returns the stock caps.
func DefaultBudgets() Budgets {
	return Budgets{
		MaxSteps:         50,
		MaxTime:          10 * time.Minute,
		MaxTaps:          200,
		OutsideAppLimit:  3,
		RestartLimit:     2,
		MaxTokens:        100000,
		MaxTokensPerCall: 10000,
	}
}

// Validate checks every cap. Outside-app and restart limits may be zero.
func (b Budgets) Validate() error {
	var errs []error
	if b.MaxSteps <= 0 {
		errs = append(errs, fmt.Errorf("max_steps must be positive, got %d", b.MaxSteps))
	}
	if b.MaxTime <= 0 {
		errs = append(errs, fmt.Errorf("max_time must be positive, got %s", b.MaxTime))
	}
	if b.MaxTaps <= 0 {
		errs = append(errs, fmt.Errorf("max_taps must be positive, got %d", b.MaxTaps))
	}
	if b.OutsideAppLimit < 0 {
		errs = append(errs, fmt.Errorf("outside_app_limit must not be negative, got %d", b.OutsideAppLimit))
	}
	if b.RestartLimit < 0 {
		errs = append(errs, fmt.Errorf("restart_limit must not be negative, got %d", b.RestartLimit))
	}
	if b.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("max_tokens must be positive, got %d", b.MaxTokens))
	}
	if b.MaxTokensPerCall <= 0 {
		errs = append(errs, fmt.Errorf("max_tokens_per_call must be positive, got %d", b.MaxTokensPerCall))
	}
	return errors.Join(errs...)
}

// ExhaustedBy names the first resource cap reached by c, or "" when none is.
// Restart and outside-app limits are enforced by their own routes and are
// not resource caps.
func (b Budgets) ExhaustedBy(c Counters) string {
	switch {
	case c.StepsTotal >= b.MaxSteps:
		return "steps"
	case c.TapsTotal >= b.MaxTaps:
		return "taps"
	case c.TokensUsed >= b.MaxTokens:
		return "tokens"
	case c.ElapsedMs >= b.MaxTime.Milliseconds():
		return "time"
	}
	return ""
}

// Exhausted reports whether any resource cap is reached.
func (b Budgets) Exhausted(c Counters) bool { return b.ExhaustedBy(c) != "" }
