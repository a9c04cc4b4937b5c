// internal/domain/reasons.go
package domain

// StopReason is the closed set of terminal outcomes. The empty value means
// the run has not stopped.
type StopReason string

const (
	StopNone             StopReason = ""
	StopSuccess          StopReason = "success"
	StopBudgetExhausted  StopReason = "budget_exhausted"
	StopCrash            StopReason = "crash"
	StopNoProgress       StopReason = "no_progress"
	StopUserCancelled    StopReason = "user_cancelled"
	StopPolicyExhausted  StopReason = "policy_exhausted"
	StopDeviceOffline    StopReason = "device_offline"
	StopAppNotInstalled  StopReason = "app_not_installed"
	StopRestartExhausted StopReason = "restart_exhausted"
	// StopEscalated is set when the routing decision asked for a human.
	StopEscalated StopReason = "escalated"
)

// ReasonClass partitions stop reasons for reporting.
type ReasonClass string

const (
	ClassExpected ReasonClass = "expected"
	ClassError    ReasonClass = "error"
)

// AllStopReasons lists every terminal reason.
func AllStopReasons() []StopReason {
	return []StopReason{
		StopSuccess, StopBudgetExhausted, StopCrash, StopNoProgress,
		StopUserCancelled, StopPolicyExhausted, StopDeviceOffline,
		StopAppNotInstalled, StopRestartExhausted, StopEscalated,
	}
}

func (r StopReason) IsValid() bool {
	switch r {
	case StopSuccess, StopBudgetExhausted, StopCrash, StopNoProgress,
		StopUserCancelled, StopPolicyExhausted, StopDeviceOffline,
		StopAppNotInstalled, StopRestartExhausted, StopEscalated:
		return true
	case StopNone:
		return false
	}
	return false
}

// Class returns whether the reason is an error or an expected termination.
func (r StopReason) Class() ReasonClass {
	switch r {
	case StopCrash, StopDeviceOffline, StopAppNotInstalled, StopRestartExhausted:
		return ClassError
	case StopSuccess, StopBudgetExhausted, StopUserCancelled, StopNoProgress,
		StopPolicyExhausted, StopEscalated, StopNone:
		return ClassExpected
	}
	return ClassError
}

// IsError is shorthand for Class() == ClassError.
func (r StopReason) IsError() bool { return r.Class() == ClassError }

// ProgressFlag classifies the effect of the last iteration.
type ProgressFlag string

const (
	MadeProgress ProgressFlag = "MADE_PROGRESS"
	NoProgress   ProgressFlag = "NO_PROGRESS"
	Regressed    ProgressFlag = "REGRESSED"
	Unknown      ProgressFlag = "UNKNOWN"
)

func (f ProgressFlag) IsValid() bool {
	switch f {
	case MadeProgress, NoProgress, Regressed, Unknown:
		return true
	}
	return false
}
