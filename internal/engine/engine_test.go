package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xynehq/jaf-sub004/internal/toolregistry"
	"github.com/xynehq/jaf-sub004/pkg/models"
)

// fakeProvider replays a fixed queue of assistant turns, one per Complete
// call, panicking if exhausted so a runaway test loop fails loudly.
type fakeProvider struct {
	turns []fakeTurn
	calls int
}

type fakeTurn struct {
	content   string
	toolCalls []models.ToolCall
	err       error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if p.calls >= len(p.turns) {
		return nil, fmt.Errorf("fakeProvider: no turn queued for call %d", p.calls)
	}
	turn := p.turns[p.calls]
	p.calls++

	ch := make(chan *CompletionChunk, 1)
	go func() {
		defer close(ch)
		if turn.err != nil {
			ch <- &CompletionChunk{Err: turn.err}
			return
		}
		ch <- &CompletionChunk{Done: true, Content: turn.content, ToolCalls: turn.toolCalls}
	}()
	return ch, nil
}

func approveTestRegistry(t *testing.T) *toolregistry.Registry {
	t.Helper()
	reg := toolregistry.NewRegistry()
	tool, err := toolregistry.NewTool(
		"approveTest",
		"echoes x back prefixed with ok:",
		func(ctx context.Context, args json.RawMessage, _ toolregistry.ExecContext) (string, error) {
			var parsed struct {
				X float64 `json:"x"`
			}
			if err := json.Unmarshal(args, &parsed); err != nil {
				return "", err
			}
			return fmt.Sprintf("ok:%g", parsed.X), nil
		},
		toolregistry.WithJSONSchema(json.RawMessage(`{"type":"object","properties":{"x":{"type":"number"}},"required":["x"]}`)),
		toolregistry.WithAlwaysNeedsApproval(),
	)
	require.NoError(t, err)
	require.NoError(t, reg.Register(tool))
	return reg
}

func baseState() models.RunState {
	return models.RunState{
		RunID:            "run-1",
		ConversationID:   "conv-1",
		CurrentAgentName: "MainAgent",
		Messages:         []models.Message{models.NewUserMessage("run tool")},
	}
}

// Seed test 1: approved tool runs once.
func TestRunApprovedToolRunsOnce(t *testing.T) {
	toolCall := models.ToolCall{ID: "tc-1", Name: "approveTest", Arguments: `{"x":42}`}
	provider := &fakeProvider{turns: []fakeTurn{
		{toolCalls: []models.ToolCall{toolCall}},
		{content: "done"},
	}}
	eng := New(provider, approveTestRegistry(t), nil)

	outcome, state, err := eng.Run(context.Background(), baseState(), RuntimeOptions{MaxTurns: 5})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeInterrupted, outcome.Status)
	require.Len(t, outcome.Interruptions, 1)
	require.Equal(t, models.InterruptToolApproval, outcome.Interruptions[0].Kind)

	state.Approvals = map[string]models.ApprovalEntry{
		"tc-1": {Status: models.ApprovalApproved, ToolName: "approveTest", Timestamp: time.Now()},
	}
	outcome2, state2, err := eng.Run(context.Background(), state, RuntimeOptions{MaxTurns: 5})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeCompleted, outcome2.Status)
	require.Equal(t, "done", outcome2.Output)

	var toolMsgs []models.Message
	for _, m := range state2.Messages {
		if m.Role == models.RoleTool {
			toolMsgs = append(toolMsgs, m)
		}
	}
	require.Len(t, toolMsgs, 1)
	require.Equal(t, "ok:42", toolMsgs[0].Content)
}

// Seed test 2: rejected approval.
func TestRunRejectedApprovalYieldsApprovalDenied(t *testing.T) {
	toolCall := models.ToolCall{ID: "tc-1", Name: "approveTest", Arguments: `{"x":42}`}
	provider := &fakeProvider{turns: []fakeTurn{
		{toolCalls: []models.ToolCall{toolCall}},
		{content: "done"},
	}}
	eng := New(provider, approveTestRegistry(t), nil)

	state := baseState()
	state.Approvals = map[string]models.ApprovalEntry{
		"tc-1": {
			Status:            models.ApprovalRejected,
			AdditionalContext: map[string]any{"rejectionReason": "nope"},
			Timestamp:         time.Now(),
		},
	}
	outcome, state2, err := eng.Run(context.Background(), state, RuntimeOptions{MaxTurns: 5})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeCompleted, outcome.Status)

	var toolMsg models.Message
	for _, m := range state2.Messages {
		if m.Role == models.RoleTool {
			toolMsg = m
		}
	}
	require.Contains(t, toolMsg.Content, `"status":"approval_denied"`)
	require.Contains(t, toolMsg.Content, `"rejection_reason":"nope"`)
}

// Seed test 3: pending approval is not a decision.
func TestRunPendingApprovalReInterrupts(t *testing.T) {
	toolCall := models.ToolCall{ID: "tc-1", Name: "approveTest", Arguments: `{"x":42}`}
	provider := &fakeProvider{turns: []fakeTurn{
		{toolCalls: []models.ToolCall{toolCall}},
	}}
	eng := New(provider, approveTestRegistry(t), nil)

	state := baseState()
	state.Approvals = map[string]models.ApprovalEntry{
		"tc-1": {Status: models.ApprovalPending, Timestamp: time.Now()},
	}
	outcome, _, err := eng.Run(context.Background(), state, RuntimeOptions{MaxTurns: 5})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeInterrupted, outcome.Status)
	require.Equal(t, models.InterruptToolApproval, outcome.Interruptions[0].Kind)
}

// Seed test 4: max turns exceeded.
func TestRunMaxTurnsExceeded(t *testing.T) {
	reg := toolregistry.NewRegistry()
	fastTool, err := toolregistry.NewTool(
		"fastTool",
		"always succeeds immediately",
		func(ctx context.Context, args json.RawMessage, _ toolregistry.ExecContext) (string, error) {
			return "ok", nil
		},
	)
	require.NoError(t, err)
	require.NoError(t, reg.Register(fastTool))

	var turns []fakeTurn
	for i := 0; i < 10; i++ {
		turns = append(turns, fakeTurn{toolCalls: []models.ToolCall{{ID: fmt.Sprintf("tc-%d", i), Name: "fastTool", Arguments: `{}`}}})
	}
	provider := &fakeProvider{turns: turns}
	eng := New(provider, reg, nil)

	outcome, _, err := eng.Run(context.Background(), baseState(), RuntimeOptions{MaxTurns: 3})
	require.Error(t, err)
	require.Equal(t, models.OutcomeError, outcome.Status)
	require.Equal(t, ErrorKindMaxTurns, outcome.ErrorKind)
}

func TestRunCompletesWithoutToolCalls(t *testing.T) {
	provider := &fakeProvider{turns: []fakeTurn{{content: "hello there"}}}
	eng := New(provider, toolregistry.NewRegistry(), nil)

	outcome, state, err := eng.Run(context.Background(), baseState(), RuntimeOptions{MaxTurns: 5})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeCompleted, outcome.Status)
	require.Equal(t, "hello there", outcome.Output)
	require.Len(t, state.Messages, 2) // user + assistant
}

func TestRunSkipsAlreadyAnsweredToolCallIdempotently(t *testing.T) {
	toolCall := models.ToolCall{ID: "tc-1", Name: "approveTest", Arguments: `{"x":1}`}
	provider := &fakeProvider{turns: []fakeTurn{
		{toolCalls: []models.ToolCall{toolCall}},
		{content: "done"},
	}}
	eng := New(provider, approveTestRegistry(t), nil)

	state := baseState()
	state.Messages = append(state.Messages,
		models.NewAssistantMessage("", []models.ToolCall{toolCall}),
		models.NewToolMessage("tc-1", "ok:1"),
	)

	outcome, finalState, err := eng.Run(context.Background(), state, RuntimeOptions{MaxTurns: 5})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeCompleted, outcome.Status)

	var toolMsgCount int
	for _, m := range finalState.Messages {
		if m.Role == models.RoleTool && m.ToolCallID == "tc-1" {
			toolMsgCount++
		}
	}
	require.Equal(t, 1, toolMsgCount, "P2: at most one tool message per tool_call id")
}

func TestRunModelErrorIsFatal(t *testing.T) {
	provider := &fakeProvider{turns: []fakeTurn{{err: fmt.Errorf("upstream unavailable")}}}
	eng := New(provider, toolregistry.NewRegistry(), nil)

	outcome, _, err := eng.Run(context.Background(), baseState(), RuntimeOptions{MaxTurns: 5})
	require.Error(t, err)
	require.Equal(t, models.OutcomeError, outcome.Status)
	require.Equal(t, ErrorKindModel, outcome.ErrorKind)
}

func TestRunToolNotFoundProducesToolResultNotRunError(t *testing.T) {
	toolCall := models.ToolCall{ID: "tc-1", Name: "doesNotExist", Arguments: `{}`}
	provider := &fakeProvider{turns: []fakeTurn{
		{toolCalls: []models.ToolCall{toolCall}},
		{content: "done"},
	}}
	eng := New(provider, toolregistry.NewRegistry(), nil)

	outcome, state, err := eng.Run(context.Background(), baseState(), RuntimeOptions{MaxTurns: 5})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeCompleted, outcome.Status)

	var toolMsg models.Message
	for _, m := range state.Messages {
		if m.Role == models.RoleTool {
			toolMsg = m
		}
	}
	require.Contains(t, toolMsg.Content, "tool_not_found")
}

func TestRunInvalidArgumentsProducesInvalidInput(t *testing.T) {
	toolCall := models.ToolCall{ID: "tc-1", Name: "approveTest", Arguments: `{"x":"not-a-number"}`}
	provider := &fakeProvider{turns: []fakeTurn{
		{toolCalls: []models.ToolCall{toolCall}},
		{content: "done"},
	}}
	eng := New(provider, approveTestRegistry(t), nil)

	outcome, state, err := eng.Run(context.Background(), baseState(), RuntimeOptions{MaxTurns: 5})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeCompleted, outcome.Status)

	var toolMsg models.Message
	for _, m := range state.Messages {
		if m.Role == models.RoleTool {
			toolMsg = m
		}
	}
	require.Contains(t, toolMsg.Content, "INVALID_INPUT")
}

func TestRunEmitsOrderedEvents(t *testing.T) {
	toolCall := models.ToolCall{ID: "tc-1", Name: "approveTest", Arguments: `{"x":7}`}
	provider := &fakeProvider{turns: []fakeTurn{
		{toolCalls: []models.ToolCall{toolCall}},
		{content: "done"},
	}}

	var eventTypes []models.EventType
	sink := NewCallbackSink(func(_ context.Context, e models.Event) {
		eventTypes = append(eventTypes, e.Type)
	})
	emitter := NewEmitter("run-1", "trace-1", "conv-1", sink)
	eng := New(provider, approveTestRegistry(t), emitter)

	state := baseState()
	state.Approvals = map[string]models.ApprovalEntry{
		"tc-1": {Status: models.ApprovalApproved, Timestamp: time.Now()},
	}
	_, _, err := eng.Run(context.Background(), state, RuntimeOptions{MaxTurns: 5})
	require.NoError(t, err)

	require.Equal(t, models.EventRunStart, eventTypes[0])
	require.Equal(t, models.EventRunEnd, eventTypes[len(eventTypes)-1])

	var startedIdx, completedIdx = -1, -1
	for i, typ := range eventTypes {
		if typ == models.EventToolPhase {
			if startedIdx == -1 {
				startedIdx = i
			} else {
				completedIdx = i
			}
		}
	}
	require.NotEqual(t, -1, startedIdx)
	require.NotEqual(t, -1, completedIdx)
	require.Less(t, startedIdx, completedIdx, "P7: started precedes completed for the same tool_call id")
}
