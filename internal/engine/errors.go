package engine

import (
	"errors"
	"fmt"

	"github.com/xynehq/jaf-sub004/pkg/models"
)

// ErrCancelled is returned (wrapped in an *EngineError) when a run's context
// is cancelled. Distinguished from a tool-level timeout, which is recovered
// locally as a synthesized tool message instead.
var ErrCancelled = errors.New("engine: run cancelled")

// ErrMaxTurnsExceeded is returned (wrapped in an *EngineError) when a run's
// turnCount exceeds RuntimeOptions.MaxTurns before the next ModelCall (spec
// §4.6.1).
var ErrMaxTurnsExceeded = errors.New("engine: max turns exceeded")

// ErrorKind is the run-level error taxonomy of spec §7. These are the
// fatal-to-run classes; ToolNotFound/InvalidInput/ExecutionFailed are
// recovered locally as tool messages and never reach this type.
type ErrorKind string

const (
	ErrorKindModel         ErrorKind = "model_error"
	ErrorKindModelBehavior ErrorKind = "model_behavior"
	ErrorKindMaxTurns      ErrorKind = "max_turns_exceeded"
	ErrorKindCancelled     ErrorKind = "cancelled"
	ErrorKindStoreFailure  ErrorKind = "store_failure"
)

// EngineError is a run-terminating error carrying the §7 classification
// alongside the turn it occurred in, for logging and for outcome.error.
type EngineError struct {
	Kind      ErrorKind
	TurnCount int
	Message   string
	Cause     error
}

func (e *EngineError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("engine: %s at turn %d: %s", e.Kind, e.TurnCount, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("engine: %s at turn %d: %v", e.Kind, e.TurnCount, e.Cause)
	}
	return fmt.Sprintf("engine: %s at turn %d", e.Kind, e.TurnCount)
}

func (e *EngineError) Unwrap() error { return e.Cause }

func newEngineError(kind ErrorKind, turnCount int, cause error) *EngineError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &EngineError{Kind: kind, TurnCount: turnCount, Message: msg, Cause: cause}
}

// ClarificationRequiredError is a typed interrupt a tool's Execute may
// return to suspend the run pending a human answer (spec §4.6.1, §6.4).
// toolregistry.Runtime does not know about this type; the engine's tool
// phase type-switches on it the same way it type-switches on
// *toolauth.AuthRequiredError.
type ClarificationRequiredError struct {
	Question string
	Options  []string
}

func (e *ClarificationRequiredError) Error() string {
	return fmt.Sprintf("clarification required: %s", e.Question)
}

// SubRunInterruptedError is returned by a sub-agent tool's Execute
// (internal/subagent) when its nested Run Engine instance itself suspended.
// The tool phase propagates it as the parent's own interrupt rather than an
// EXECUTION_FAILED tool result (spec §4.8: "interrupted propagates outward
// as the parent's interrupt"). Only the first nested interruption is
// surfaced — a parent tool call has exactly one outstanding resumption
// point regardless of how many interruptions the nested run collected.
type SubRunInterruptedError struct {
	Interruptions []models.Interruption
}

func (e *SubRunInterruptedError) Error() string {
	return fmt.Sprintf("nested run interrupted (%d interruption(s))", len(e.Interruptions))
}

// toolResultError classifies a synthesized tool message produced when a
// tool call cannot run to completion without suspending the run (spec
// §4.6.4). Unlike EngineError, these never terminate the run — the
// classification exists so callers and tests can assert on which branch of
// §4.6.4's table produced a given tool message.
type toolResultErrorCode string

const (
	toolResultNotFound        toolResultErrorCode = "tool_not_found"
	toolResultInvalidInput    toolResultErrorCode = "INVALID_INPUT"
	toolResultExecutionFailed toolResultErrorCode = "EXECUTION_FAILED"
)
