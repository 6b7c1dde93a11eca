package models

import "time"

// Event is the Run Engine's unified streaming record (§4.7). It is a tagged
// union: exactly one payload field is populated for a given Type. Producers
// are single (the Run Engine owning a run); consumers are the many
// subscribers registered on its EventSink.
type Event struct {
	// Version allows additive, backward-compatible evolution of the payload set.
	Version int `json:"version"`

	Type EventType `json:"type"`
	Time time.Time `json:"time"`

	// Sequence is monotonic within a run, assigned by the emitter.
	Sequence uint64 `json:"seq"`

	RunID          string `json:"run_id"`
	TraceID        string `json:"trace_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`

	RunStart           *RunStartPayload           `json:"run_start,omitempty"`
	AssistantMessage   *AssistantMessagePayload   `json:"assistant_message,omitempty"`
	ToolCallsRequested *ToolCallsRequestedPayload `json:"tool_calls_requested,omitempty"`
	ToolPhase          *ToolPhasePayload          `json:"tool_phase,omitempty"`
	ApprovalRequired   *ApprovalRequiredPayload   `json:"approval_required,omitempty"`
	ApprovalDecision   *ApprovalDecisionPayload   `json:"approval_decision,omitempty"`
	ToolStream         *ToolStreamPayload         `json:"tool_stream,omitempty"`
	TokenUsage         *TokenUsagePayload         `json:"token_usage,omitempty"`
	RunEnd             *RunEndPayload             `json:"run_end,omitempty"`
	Error              *ErrorPayload              `json:"error,omitempty"`
}

// EventType enumerates the ten event kinds of §4.7, in the order listed there.
type EventType string

const (
	EventRunStart           EventType = "run_start"
	EventAssistantMessage   EventType = "assistant_message"
	EventToolCallsRequested EventType = "tool_calls_requested"
	EventToolPhase          EventType = "tool_phase"
	EventApprovalRequired   EventType = "approval_required"
	EventApprovalDecision   EventType = "approval_decision"
	EventToolStream         EventType = "tool_stream" // tool_partial_result | tool_streaming_output | tool_progress_update
	EventTokenUsage         EventType = "token_usage"
	EventRunEnd             EventType = "run_end"
	EventError              EventType = "error"
)

// RunStartPayload brackets the run (event 1).
type RunStartPayload struct {
	TraceID        string `json:"trace_id"`
	ConversationID string `json:"conversation_id"`
	AgentName      string `json:"agent_name"`
}

// AssistantMessagePayload carries a model turn's output (event 2).
type AssistantMessagePayload struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Thinking  string     `json:"thinking,omitempty"`
}

// ToolCallsRequestedPayload enumerates the calls routed for the ToolPhase (event 3).
type ToolCallsRequestedPayload struct {
	Calls []ToolCallSummary `json:"calls"`
}

// ToolCallSummary is the args-inclusive summary used in tool_calls_requested / approval_required.
type ToolCallSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolPhaseKind is the sub-phase of a single tool call's lifecycle (event 4).
type ToolPhaseKind string

const (
	ToolPhaseStarted   ToolPhaseKind = "started"
	ToolPhaseCompleted ToolPhaseKind = "completed"
	ToolPhaseFailed    ToolPhaseKind = "failed"
)

// ToolPhasePayload reports a transition in a tool call's execution (event 4).
// Ordering guarantee (§4.7): for a given toolCallId, started precedes any
// ToolStream events from that call, which precede completed|failed.
type ToolPhasePayload struct {
	ToolCallID string        `json:"tool_call_id"`
	ToolName   string        `json:"tool_name"`
	Phase      ToolPhaseKind `json:"phase"`
	Result     string        `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// ApprovalRequiredPayload signals a suspended tool call awaiting a decision (event 5).
type ApprovalRequiredPayload struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Arguments  string `json:"arguments"`
	Signature  string `json:"signature"`
}

// ApprovalDecisionPayload reports a decision being applied (event 6).
type ApprovalDecisionPayload struct {
	ToolCallID        string         `json:"tool_call_id"`
	Status            string         `json:"status"`
	AdditionalContext map[string]any `json:"additional_context,omitempty"`
}

// ToolStreamKind distinguishes the three pass-through tool-emitted kinds (event 7).
type ToolStreamKind string

const (
	ToolStreamPartialResult  ToolStreamKind = "tool_partial_result"
	ToolStreamOutput         ToolStreamKind = "tool_streaming_output"
	ToolStreamProgressUpdate ToolStreamKind = "tool_progress_update"
)

// ToolStreamPayload is a tool-emitted, pass-through progress event (event 7).
type ToolStreamPayload struct {
	ToolCallID string         `json:"tool_call_id"`
	Kind       ToolStreamKind `json:"kind"`
	Data       string         `json:"data"`
}

// TokenUsagePayload reports model token accounting (event 8).
type TokenUsagePayload struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// RunOutcomeStatus is the terminal status of a run (§4.6.1).
type RunOutcomeStatus string

const (
	OutcomeCompleted   RunOutcomeStatus = "completed"
	OutcomeError       RunOutcomeStatus = "error"
	OutcomeInterrupted RunOutcomeStatus = "interrupted"
)

// RunEndPayload brackets the run (event 9) and carries dropped-event counts
// accumulated by the emitter's backpressure sink (§5).
type RunEndPayload struct {
	Status        RunOutcomeStatus `json:"status"`
	Output        string           `json:"output,omitempty"`
	Error         string           `json:"error,omitempty"`
	Interruptions []Interruption   `json:"interruptions,omitempty"`
	TurnCount     int              `json:"turn_count"`
	DroppedEvents uint64           `json:"dropped_events"`
}

// ErrorPayload reports a run-terminating error (event 10).
type ErrorPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// InterruptionKind enumerates the reasons a run suspends (§4.6.1, GLOSSARY).
type InterruptionKind string

const (
	InterruptToolApproval          InterruptionKind = "tool_approval"
	InterruptToolAuth              InterruptionKind = "tool_auth"
	InterruptClarificationRequired InterruptionKind = "clarification_required"
)

// Interruption describes one reason a run returned status=interrupted.
type Interruption struct {
	Kind       InterruptionKind `json:"kind"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	SessionID  string           `json:"session_id,omitempty"`

	// tool_auth fields (§4.4)
	AuthKey          string   `json:"auth_key,omitempty"`
	AuthorizationURL string   `json:"authorization_url,omitempty"`
	Scopes           []string `json:"scopes,omitempty"`
	SchemeType       string   `json:"scheme_type,omitempty"`

	// clarification_required fields
	Question string   `json:"question,omitempty"`
	Options  []string `json:"options,omitempty"`
}
