// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the top level of the error taxonomy.
type ErrorKind string

const (
	KindDevice      ErrorKind = "device"
	KindAction      ErrorKind = "action"
	KindPerception  ErrorKind = "perception"
	KindBudget      ErrorKind = "budget"
	KindPersistence ErrorKind = "persistence"
	KindLLM         ErrorKind = "llm"
	KindProgress    ErrorKind = "progress"
	// KindInternal covers failures of the orchestrator itself, such as a node panic.
	KindInternal ErrorKind = "internal"
)

// ErrorCode identifies a leaf of the taxonomy.
type ErrorCode string

const (
	// -- Device --
	CodeDeviceOffline    ErrorCode = "DEVICE_OFFLINE"
	CodeAppNotInstalled  ErrorCode = "APP_NOT_INSTALLED"
	CodeAppCrashed       ErrorCode = "APP_CRASHED"
	CodeIdleTimeout      ErrorCode = "IDLE_TIMEOUT"
	CodeRestartExhausted ErrorCode = "RESTART_EXHAUSTED"
	// -- Action --
	CodeActionTimeout   ErrorCode = "ACTION_TIMEOUT"
	CodeActionFailed    ErrorCode = "ACTION_FAILED"
	CodeElementNotFound ErrorCode = "ELEMENT_NOT_FOUND"
	// -- Perception --
	CodeOCRFailed         ErrorCode = "OCR_FAILED"
	CodePageSourceTimeout ErrorCode = "PAGE_SOURCE_TIMEOUT"
	CodePageSourceInvalid ErrorCode = "PAGE_SOURCE_INVALID"
	// -- Budget --
	CodeTokenLimit ErrorCode = "TOKEN_LIMIT"
	CodeTimeLimit  ErrorCode = "TIME_LIMIT"
	CodeStepLimit  ErrorCode = "STEP_LIMIT"
	// -- Persistence --
	CodeDatabase ErrorCode = "DATABASE"
	CodeStorage  ErrorCode = "STORAGE"
	// -- LLM --
	CodeLLMTimeout    ErrorCode = "LLM_TIMEOUT"
	CodeInvalidOutput ErrorCode = "INVALID_OUTPUT"
	// -- Progress --
	CodeNoProgress ErrorCode = "NO_PROGRESS"
	CodeRegressed  ErrorCode = "REGRESSED"
	// -- Internal --
	CodeNodePanic ErrorCode = "NODE_PANIC"
)

var codeKinds = map[ErrorCode]ErrorKind{
	CodeDeviceOffline:     KindDevice,
	CodeAppNotInstalled:   KindDevice,
	CodeAppCrashed:        KindDevice,
	CodeIdleTimeout:       KindDevice,
	CodeRestartExhausted:  KindDevice,
	CodeActionTimeout:     KindAction,
	CodeActionFailed:      KindAction,
	CodeElementNotFound:   KindAction,
	CodeOCRFailed:         KindPerception,
	CodePageSourceTimeout: KindPerception,
	CodePageSourceInvalid: KindPerception,
	CodeTokenLimit:        KindBudget,
	CodeTimeLimit:         KindBudget,
	CodeStepLimit:         KindBudget,
	CodeDatabase:          KindPersistence,
	CodeStorage:           KindPersistence,
	CodeLLMTimeout:        KindLLM,
	CodeInvalidOutput:     KindLLM,
	CodeNoProgress:        KindProgress,
	CodeRegressed:         KindProgress,
	CodeNodePanic:         KindInternal,
}

// Kind returns the taxonomy branch of the code.
func (c ErrorCode) Kind() ErrorKind {
	if k, ok := codeKinds[c]; ok {
		return k
	}
	return KindInternal
}

// Error is a classified failure. Every port adapter and node reports through it.
type Error struct {
	Code ErrorCode
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so the Err* sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Op == "" && t.Err == nil
}

// Kind returns the taxonomy branch.
func (e *Error) Kind() ErrorKind { return e.Code.Kind() }

// Transient reports whether a bounded local retry may succeed.
func (e *Error) Transient() bool {
	switch e.Code {
	case CodeActionTimeout, CodeActionFailed, CodeElementNotFound,
		CodeOCRFailed, CodePageSourceTimeout, CodePageSourceInvalid, CodeIdleTimeout,
		CodeDatabase, CodeStorage, CodeLLMTimeout:
		return true
	}
	return false
}

// NewError builds a classified error.
func NewError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Sentinels for errors.Is matching.
var (
	ErrDeviceOffline     = &Error{Code: CodeDeviceOffline}
	ErrAppNotInstalled   = &Error{Code: CodeAppNotInstalled}
	ErrAppCrashed        = &Error{Code: CodeAppCrashed}
	ErrIdleTimeout       = &Error{Code: CodeIdleTimeout}
	ErrRestartExhausted  = &Error{Code: CodeRestartExhausted}
	ErrActionTimeout     = &Error{Code: CodeActionTimeout}
	ErrActionFailed      = &Error{Code: CodeActionFailed}
	ErrElementNotFound   = &Error{Code: CodeElementNotFound}
	ErrOCRFailed         = &Error{Code: CodeOCRFailed}
	ErrPageSourceTimeout = &Error{Code: CodePageSourceTimeout}
	ErrPageSourceInvalid = &Error{Code: CodePageSourceInvalid}
	ErrInvalidOutput     = &Error{Code: CodeInvalidOutput}
	ErrLLMTimeout        = &Error{Code: CodeLLMTimeout}
	ErrDatabase          = &Error{Code: CodeDatabase}
	ErrStorage           = &Error{Code: CodeStorage}
)

// Classify converts any error into a classified *Error. Unclassified errors
// become ACTION_FAILED under op, which is transient.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return NewError(CodeActionFailed, op, err)
}

// StopReasonFor maps a non-recoverable error to a terminal reason.
func StopReasonFor(err *Error) StopReason {
	if err == nil {
		return StopCrash
	}
	switch err.Code {
	case CodeDeviceOffline:
		return StopDeviceOffline
	case CodeAppNotInstalled:
		return StopAppNotInstalled
	case CodeRestartExhausted:
		return StopRestartExhausted
	case CodeTokenLimit, CodeTimeLimit, CodeStepLimit:
		return StopBudgetExhausted
	case CodeNoProgress:
		return StopNoProgress
	}
	return StopCrash
}
