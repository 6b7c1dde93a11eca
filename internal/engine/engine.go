// Package engine implements the Run Engine (spec §4.6): the turn-by-turn
// state machine that drives a model through ModelCall/Route/ToolPhase until
// it finishes, errors, or suspends on an interrupt.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xynehq/jaf-sub004/internal/toolauth"
	"github.com/xynehq/jaf-sub004/internal/toolregistry"
	"github.com/xynehq/jaf-sub004/pkg/models"
)

// RunOutcome is the terminal result of one Engine.Run invocation (spec
// §4.6.1's Finish/Interrupt/Error outcomes).
type RunOutcome struct {
	Status        models.RunOutcomeStatus
	Output        string
	Error         string
	ErrorKind     ErrorKind
	Interruptions []models.Interruption
	TurnCount     int
}

// Engine drives one agent's turn loop against a model provider and a tool
// registry. An Engine is stateless between calls; all run state lives in
// the models.RunState value passed to Run.
type Engine struct {
	Provider LLMProvider
	Registry *toolregistry.Registry
	Emitter  *Emitter

	// AuthRuntime, if set, is forwarded into each tool's ExecContext.Auth so
	// tools can call EnsureToken/HandleUnauthorized themselves (spec §6.4).
	AuthRuntime *toolauth.Runtime
}

// New returns an Engine. emitter may be nil, in which case events are
// discarded.
func New(provider LLMProvider, registry *toolregistry.Registry, emitter *Emitter) *Engine {
	if emitter == nil {
		emitter = NewEmitter("", "", "", NopSink{})
	}
	return &Engine{
		Provider: provider,
		Registry: registry,
		Emitter:  emitter,
	}
}

// Run executes RunState forward through the state machine until Finish,
// Error, or Interrupt (spec §4.6.1). The returned RunState reflects every
// message appended during this invocation, independent of the input value
// (no aliasing, per I5/RunState's immutability contract).
func (e *Engine) Run(ctx context.Context, state models.RunState, opts RuntimeOptions) (RunOutcome, models.RunState, error) {
	opts = opts.withDefaults()
	state = cloneRunState(state)

	e.Emitter.RunStart(ctx, state.CurrentAgentName)
	callHook(opts.Logger, func() {
		if opts.Hooks.OnRunStart != nil {
			opts.Hooks.OnRunStart(state.RunID, state.TraceID, state.ConversationID, state.CurrentAgentName)
		}
	})

	outcome, final, err := e.runLoop(ctx, state, opts)

	callHook(opts.Logger, func() {
		if opts.Hooks.OnRunEnd != nil {
			opts.Hooks.OnRunEnd(string(outcome.Status), outcome.TurnCount)
		}
	})
	var dropped uint64
	if bp, ok := e.Emitter.sink.(*BackpressureSink); ok {
		dropped = bp.DroppedCount()
	}
	e.Emitter.RunEnd(ctx, outcome, dropped)
	return outcome, final, err
}

func (e *Engine) runLoop(ctx context.Context, state models.RunState, opts RuntimeOptions) (RunOutcome, models.RunState, error) {
	for {
		if err := ctx.Err(); err != nil {
			return e.errorOutcome(ctx, state, ErrorKindCancelled, ErrCancelled, opts), state, newEngineError(ErrorKindCancelled, state.TurnCount, ErrCancelled)
		}
		if state.TurnCount >= opts.MaxTurns {
			return e.errorOutcome(ctx, state, ErrorKindMaxTurns, ErrMaxTurnsExceeded, opts), state, newEngineError(ErrorKindMaxTurns, state.TurnCount, ErrMaxTurnsExceeded)
		}

		assistant, usage, err := e.modelCall(ctx, state, opts)
		if err != nil {
			return e.errorOutcome(ctx, state, ErrorKindModel, err, opts), state, newEngineError(ErrorKindModel, state.TurnCount, err)
		}
		if assistant.Content == "" && len(assistant.ToolCalls) == 0 {
			behaviorErr := errors.New("model returned neither content nor tool_calls")
			return e.errorOutcome(ctx, state, ErrorKindModelBehavior, behaviorErr, opts), state, newEngineError(ErrorKindModelBehavior, state.TurnCount, behaviorErr)
		}

		state.Messages = append(state.Messages, assistant)
		e.Emitter.AssistantMessage(ctx, assistant.Content, "", assistant.ToolCalls)
		callHook(opts.Logger, func() {
			if opts.Hooks.OnAssistantMessage != nil {
				opts.Hooks.OnAssistantMessage(assistant.Content, len(assistant.ToolCalls))
			}
		})
		if usage != nil {
			e.Emitter.TokenUsage(ctx, usage.Prompt, usage.Completion, usage.Total)
			callHook(opts.Logger, func() {
				if opts.Hooks.OnTokenUsage != nil {
					opts.Hooks.OnTokenUsage(usage.Prompt, usage.Completion, usage.Total)
				}
			})
		}

		// Route
		if len(assistant.ToolCalls) == 0 {
			outcome := RunOutcome{Status: models.OutcomeCompleted, Output: assistant.Content, TurnCount: state.TurnCount}
			return outcome, state, nil
		}

		interruptions, toolErr := e.toolPhase(ctx, &state, assistant.ToolCalls, opts)
		if toolErr != nil {
			if errors.Is(toolErr, ErrCancelled) {
				return e.errorOutcome(ctx, state, ErrorKindCancelled, toolErr, opts), state, newEngineError(ErrorKindCancelled, state.TurnCount, toolErr)
			}
			return e.errorOutcome(ctx, state, ErrorKindModel, toolErr, opts), state, newEngineError(ErrorKindModel, state.TurnCount, toolErr)
		}
		if len(interruptions) > 0 {
			return RunOutcome{Status: models.OutcomeInterrupted, Interruptions: interruptions, TurnCount: state.TurnCount}, state, nil
		}

		state.TurnCount++
	}
}

type tokenUsage struct{ Prompt, Completion, Total int }

// modelCall drives one ModelCall state (spec §4.6.1): a single provider
// turn, streamed to completion or failure.
func (e *Engine) modelCall(ctx context.Context, state models.RunState, opts RuntimeOptions) (models.Message, *tokenUsage, error) {
	callCtx, cancel := context.WithTimeout(ctx, opts.ModelTimeout)
	defer cancel()

	chunks, err := e.Provider.Complete(callCtx, &CompletionRequest{
		Messages: state.Messages,
		Tools:    ToolSchemasFrom(e.Registry.List()),
	})
	if err != nil {
		return models.Message{}, nil, fmt.Errorf("model call: %w", err)
	}

	var content, thinking string
	var toolCalls []models.ToolCall
	var usage *tokenUsage
	for chunk := range chunks {
		if chunk.Err != nil {
			return models.Message{}, nil, fmt.Errorf("model call: %w", chunk.Err)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		content += chunk.Text
		thinking += chunk.Thinking
		if chunk.Done {
			if chunk.Content != "" {
				content = chunk.Content
			}
			if len(chunk.ToolCalls) > 0 {
				toolCalls = chunk.ToolCalls
			}
			if chunk.InputUsage > 0 || chunk.OutputUsed > 0 {
				usage = &tokenUsage{Prompt: chunk.InputUsage, Completion: chunk.OutputUsed, Total: chunk.InputUsage + chunk.OutputUsed}
			}
		}
	}

	msg := models.NewAssistantMessage(content, toolCalls)
	_ = thinking // thinking is reported via the event, not persisted on the message (spec §4.7 keeps it event-only)
	return msg, usage, nil
}

// toolPhase drives the ToolPhase state across one turn's tool calls (spec
// §4.6.1/§4.6.2): declaration-order execution, batched by
// Registry.GroupForExecution so contiguous independent=true calls run
// concurrently. Appends exactly one tool message per call to state.Messages
// (unless interrupted) and returns any interruptions collected this turn.
func (e *Engine) toolPhase(ctx context.Context, state *models.RunState, calls []models.ToolCall, opts RuntimeOptions) ([]models.Interruption, error) {
	e.Emitter.ToolCallsRequested(ctx, calls)
	callHook(opts.Logger, func() {
		if opts.Hooks.OnToolCalls != nil {
			opts.Hooks.OnToolCalls(len(calls))
		}
	})

	var interruptions []models.Interruption

	for _, batch := range e.Registry.GroupForExecution(calls) {
		type outcome struct {
			message     *models.Message
			interrupted *models.Interruption
			fatal       error
		}

		results := runBatch(batch, func(_ int, call models.ToolCall) outcome {
			msg, interrupt, fatal := e.executeOne(ctx, state, call, opts)
			return outcome{message: msg, interrupted: interrupt, fatal: fatal}
		})

		for _, r := range results {
			if r.fatal != nil {
				return nil, r.fatal
			}
			if r.interrupted != nil {
				interruptions = append(interruptions, *r.interrupted)
				continue
			}
			if r.message != nil {
				state.Messages = append(state.Messages, *r.message)
				e.Emitter.ToolPhase(ctx, r.message.ToolCallID, toolNameFor(calls, r.message.ToolCallID), phaseForMessage(*r.message), r.message.Content, errorOf(*r.message))
				isErr := phaseForMessage(*r.message) == models.ToolPhaseFailed
				callHook(opts.Logger, func() {
					if opts.Hooks.OnToolResult != nil {
						opts.Hooks.OnToolResult(r.message.ToolCallID, toolNameFor(calls, r.message.ToolCallID), isErr)
					}
				})
			}
		}

		if len(interruptions) > 0 {
			break // spec §4.6.1: an Interrupt halts further tool processing for this turn
		}
	}

	return interruptions, nil
}

// executeOne resolves, validates, approval-checks, and executes a single
// tool call (spec §4.6.1's per-call ToolPhase algorithm), returning exactly
// one of: a tool message to append, an interruption, or a fatal error
// (cancellation only — everything else is recovered locally).
func (e *Engine) executeOne(ctx context.Context, state *models.RunState, call models.ToolCall, opts RuntimeOptions) (*models.Message, *models.Interruption, error) {
	// I2: a tool call already answered in this run's message log is skipped
	// (idempotent resume).
	for _, m := range state.Messages {
		if m.Role == models.RoleTool && m.ToolCallID == call.ID {
			return nil, nil, nil
		}
	}

	execCtx := toolregistry.ExecContext{
		RunID:          state.RunID,
		TraceID:        state.TraceID,
		ConversationID: state.ConversationID,
		AgentName:      state.CurrentAgentName,
		Auth:           e.AuthRuntime,
		Emit:           func(ev models.Event) { e.Emitter.emit(ctx, ev) },
		UserContext:    state.Context,
	}

	tool, err := e.Registry.Resolve(call.Name)
	if err != nil {
		var notFound *toolregistry.NotFoundError
		if errors.As(err, &notFound) {
			return toolMessage(call.ID, `{"error":"tool_not_found"}`), nil, nil
		}
		return toolMessage(call.ID, fmt.Sprintf(`{"code":"EXECUTION_FAILED","message":%q}`, err.Error())), nil, nil
	}

	args := json.RawMessage(call.Arguments)
	if err := tool.ValidateArguments(args); err != nil {
		return toolMessage(call.ID, fmt.Sprintf(`{"code":"INVALID_INPUT","message":%q}`, err.Error())), nil, nil
	}

	if tool.NeedsApproval(args, execCtx) {
		entry, decided := state.Approvals[call.ID]
		switch {
		case !decided || entry.Status == models.ApprovalPending:
			return nil, &models.Interruption{Kind: models.InterruptToolApproval, ToolCallID: call.ID, SessionID: state.RunID}, nil
		case entry.Status == models.ApprovalRejected:
			reason, _ := entry.AdditionalContext["rejectionReason"].(string)
			return toolMessage(call.ID, fmt.Sprintf(`{"status":"approval_denied","rejection_reason":%q}`, reason)), nil, nil
		}
	}

	e.Emitter.ToolPhase(ctx, call.ID, call.Name, models.ToolPhaseStarted, "", "")

	toolCtx := ctx
	var cancel context.CancelFunc
	if opts.ToolTimeout > 0 {
		toolCtx, cancel = context.WithTimeout(ctx, opts.ToolTimeout)
		defer cancel()
	}

	type execResult struct {
		content string
		err     error
	}
	resultCh := make(chan execResult, 1)
	go func() {
		content, err := tool.Execute(toolCtx, args, execCtx)
		resultCh <- execResult{content: content, err: err}
	}()

	select {
	case res := <-resultCh:
		return e.classifyToolResult(call, res.content, res.err)
	case <-ctx.Done():
		select {
		case res := <-resultCh:
			return e.classifyToolResult(call, res.content, res.err)
		case <-time.After(opts.CancellationGrace):
			return toolMessage(call.ID, `{"error":"cancelled"}`), nil, ErrCancelled
		}
	}
}

func (e *Engine) classifyToolResult(call models.ToolCall, content string, err error) (*models.Message, *models.Interruption, error) {
	if err == nil {
		return toolMessage(call.ID, content), nil, nil
	}

	var authErr *toolauth.AuthRequiredError
	if errors.As(err, &authErr) {
		return nil, &models.Interruption{
			Kind:             models.InterruptToolAuth,
			ToolCallID:       call.ID,
			AuthKey:          authErr.AuthKey,
			AuthorizationURL: authErr.AuthorizationURL,
			Scopes:           authErr.Scopes,
			SchemeType:       authErr.SchemeType,
		}, nil
	}

	var clarifyErr *ClarificationRequiredError
	if errors.As(err, &clarifyErr) {
		return nil, &models.Interruption{
			Kind:     models.InterruptClarificationRequired,
			Question: clarifyErr.Question,
			Options:  clarifyErr.Options,
		}, nil
	}

	var subErr *SubRunInterruptedError
	if errors.As(err, &subErr) && len(subErr.Interruptions) > 0 {
		nested := subErr.Interruptions[0]
		nested.ToolCallID = call.ID
		return nil, &nested, nil
	}

	return toolMessage(call.ID, fmt.Sprintf(`{"code":"EXECUTION_FAILED","message":%q}`, err.Error())), nil, nil
}

func (e *Engine) errorOutcome(ctx context.Context, state models.RunState, kind ErrorKind, cause error, opts RuntimeOptions) RunOutcome {
	e.Emitter.Error(ctx, cause.Error(), string(kind))
	callHook(opts.Logger, func() {
		if opts.Hooks.OnError != nil {
			opts.Hooks.OnError(cause)
		}
	})
	return RunOutcome{Status: models.OutcomeError, Error: cause.Error(), ErrorKind: kind, TurnCount: state.TurnCount}
}

func toolMessage(toolCallID, content string) *models.Message {
	msg := models.NewToolMessage(toolCallID, content)
	return &msg
}

// toolResultFailureMarkers are the error-code fragments executeOne/
// classifyToolResult embed in a tool result's JSON payload (spec §4.6.4).
// A tool message is only otherwise distinguishable from a successful one by
// its content, since both share the same Role/ToolCallID shape.
var toolResultFailureMarkers = []string{`"error"`, `"code":"INVALID_INPUT"`, `"code":"EXECUTION_FAILED"`}

func phaseForMessage(msg models.Message) models.ToolPhaseKind {
	for _, marker := range toolResultFailureMarkers {
		if strings.Contains(msg.Content, marker) {
			return models.ToolPhaseFailed
		}
	}
	return models.ToolPhaseCompleted
}

func errorOf(msg models.Message) string {
	if phaseForMessage(msg) == models.ToolPhaseFailed {
		return msg.Content
	}
	return ""
}

func toolNameFor(calls []models.ToolCall, toolCallID string) string {
	for _, c := range calls {
		if c.ID == toolCallID {
			return c.Name
		}
	}
	return ""
}

func cloneRunState(state models.RunState) models.RunState {
	clone := state
	clone.Messages = append([]models.Message{}, state.Messages...)
	if state.Approvals != nil {
		clone.Approvals = make(map[string]models.ApprovalEntry, len(state.Approvals))
		for k, v := range state.Approvals {
			clone.Approvals[k] = v
		}
	}
	return clone
}

// callHook runs fn, recovering and logging any panic rather than letting it
// alter the run's outcome (spec §4.6.3: "exceptions inside hooks are caught
// and logged; they never alter run outcome").
func callHook(logger interface{ Error(msg string, args ...any) }, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("engine: run hook panicked", "recover", r)
		}
	}()
	fn()
}
