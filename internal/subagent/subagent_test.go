package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xynehq/jaf-sub004/internal/engine"
	"github.com/xynehq/jaf-sub004/internal/toolregistry"
	"github.com/xynehq/jaf-sub004/pkg/models"
)

// fakeProvider replays a fixed queue of assistant turns, one per Complete
// call, optionally deriving its content from the request (for the
// summarizer sub-agent, whose reply depends on its seeded input message).
type fakeProvider struct {
	name  string
	turns []func(req *engine.CompletionRequest) engine.CompletionChunk
	calls int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Complete(ctx context.Context, req *engine.CompletionRequest) (<-chan *engine.CompletionChunk, error) {
	if p.calls >= len(p.turns) {
		return nil, fmt.Errorf("fakeProvider %s: no turn queued for call %d", p.name, p.calls)
	}
	turn := p.turns[p.calls]
	p.calls++
	ch := make(chan *engine.CompletionChunk, 1)
	go func() {
		defer close(ch)
		chunk := turn(req)
		ch <- &chunk
	}()
	return ch, nil
}

func constantTurn(content string, toolCalls []models.ToolCall) func(*engine.CompletionRequest) engine.CompletionChunk {
	return func(*engine.CompletionRequest) engine.CompletionChunk {
		return engine.CompletionChunk{Done: true, Content: content, ToolCalls: toolCalls}
	}
}

// summarizerTurn answers with SUMMARY(<last user message content>), the
// behavior seed test 5 asserts on.
func summarizerTurn() func(*engine.CompletionRequest) engine.CompletionChunk {
	return func(req *engine.CompletionRequest) engine.CompletionChunk {
		var last string
		if n := len(req.Messages); n > 0 {
			last = req.Messages[n-1].Content
		}
		return engine.CompletionChunk{Done: true, Content: fmt.Sprintf("SUMMARY(%s)", last)}
	}
}

// Seed test 5: sub-agent propagation.
func TestSubAgentToolPropagatesSummary(t *testing.T) {
	summarizerProvider := &fakeProvider{name: "summarizer", turns: []func(*engine.CompletionRequest) engine.CompletionChunk{summarizerTurn()}}

	tool, err := NewTool(Definition{
		Name:        "summarize",
		Description: "delegates to the Summarizer sub-agent",
		AgentName:   "Summarizer",
		Provider:    summarizerProvider,
		Registry:    toolregistry.NewRegistry(),
	})
	require.NoError(t, err)

	parentRegistry := toolregistry.NewRegistry()
	require.NoError(t, parentRegistry.Register(tool))

	toolCall := models.ToolCall{ID: "tc-1", Name: "summarize", Arguments: `{"input":"Please summarize: Hello World"}`}
	parentProvider := &fakeProvider{name: "parent", turns: []func(*engine.CompletionRequest) engine.CompletionChunk{
		constantTurn("", []models.ToolCall{toolCall}),
		constantTurn("Done.", nil),
	}}

	parentEngine := engine.New(parentProvider, parentRegistry, nil)
	state := models.RunState{
		RunID:            "run-main",
		ConversationID:   "conv-1",
		CurrentAgentName: "MainAgent",
		Messages:         []models.Message{models.NewUserMessage("Please summarize: Hello World")},
	}

	outcome, final, err := parentEngine.Run(context.Background(), state, engine.RuntimeOptions{})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeCompleted, outcome.Status)
	require.Equal(t, "Done.", outcome.Output)

	var sawSummary bool
	for _, m := range final.Messages {
		if m.Role == models.RoleTool && strings.Contains(m.Content, "SUMMARY(") {
			sawSummary = true
		}
	}
	require.True(t, sawSummary, "expected a tool message containing SUMMARY(")
}

// A nested run that itself interrupts (here, on an approval gate) propagates
// outward as the parent's own interrupt, anchored to the parent's tool call
// id (spec §4.8).
func TestSubAgentToolPropagatesNestedInterrupt(t *testing.T) {
	subRegistry := toolregistry.NewRegistry()
	gated, err := toolregistry.NewTool(
		"dangerous",
		"needs approval",
		func(context.Context, json.RawMessage, toolregistry.ExecContext) (string, error) {
			return "ok", nil
		},
		toolregistry.WithAlwaysNeedsApproval(),
	)
	require.NoError(t, err)
	require.NoError(t, subRegistry.Register(gated))

	subProvider := &fakeProvider{name: "child", turns: []func(*engine.CompletionRequest) engine.CompletionChunk{
		constantTurn("", []models.ToolCall{{ID: "nested-tc-1", Name: "dangerous", Arguments: `{}`}}),
	}}

	tool, err := NewTool(Definition{
		Name:      "delegate",
		AgentName: "Gatekeeper",
		Provider:  subProvider,
		Registry:  subRegistry,
	})
	require.NoError(t, err)

	parentRegistry := toolregistry.NewRegistry()
	require.NoError(t, parentRegistry.Register(tool))

	parentCall := models.ToolCall{ID: "parent-tc-1", Name: "delegate", Arguments: `{"input":"go"}`}
	parentProvider := &fakeProvider{name: "parent", turns: []func(*engine.CompletionRequest) engine.CompletionChunk{
		constantTurn("", []models.ToolCall{parentCall}),
	}}

	parentEngine := engine.New(parentProvider, parentRegistry, nil)
	state := models.RunState{
		RunID:            "run-main",
		ConversationID:   "conv-1",
		CurrentAgentName: "MainAgent",
		Messages:         []models.Message{models.NewUserMessage("go")},
	}

	outcome, _, err := parentEngine.Run(context.Background(), state, engine.RuntimeOptions{})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeInterrupted, outcome.Status)
	require.Len(t, outcome.Interruptions, 1)
	require.Equal(t, models.InterruptToolApproval, outcome.Interruptions[0].Kind)
	require.Equal(t, parentCall.ID, outcome.Interruptions[0].ToolCallID)
}

// A nested run that errors out (here, via max turns) is recovered locally
// as an EXECUTION_FAILED tool result rather than a fatal parent error (spec
// §4.8).
func TestSubAgentToolMapsNestedErrorToExecutionFailed(t *testing.T) {
	loopingCall := models.ToolCall{ID: "loop-tc", Name: "noop", Arguments: `{}`}
	subRegistry := toolregistry.NewRegistry()
	noop, err := toolregistry.NewTool("noop", "", func(context.Context, json.RawMessage, toolregistry.ExecContext) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.NoError(t, subRegistry.Register(noop))

	subProvider := &fakeProvider{name: "child", turns: []func(*engine.CompletionRequest) engine.CompletionChunk{
		constantTurn("", []models.ToolCall{loopingCall}),
	}}

	tool, err := NewTool(Definition{
		Name:      "delegate",
		AgentName: "Looper",
		Provider:  subProvider,
		Registry:  subRegistry,
		MaxTurns:  1,
	})
	require.NoError(t, err)

	parentRegistry := toolregistry.NewRegistry()
	require.NoError(t, parentRegistry.Register(tool))

	parentCall := models.ToolCall{ID: "parent-tc-1", Name: "delegate", Arguments: `{"input":"go"}`}
	parentProvider := &fakeProvider{name: "parent", turns: []func(*engine.CompletionRequest) engine.CompletionChunk{
		constantTurn("", []models.ToolCall{parentCall}),
		constantTurn("recovered", nil),
	}}

	parentEngine := engine.New(parentProvider, parentRegistry, nil)
	state := models.RunState{
		RunID:            "run-main",
		ConversationID:   "conv-1",
		CurrentAgentName: "MainAgent",
		Messages:         []models.Message{models.NewUserMessage("go")},
	}

	outcome, final, err := parentEngine.Run(context.Background(), state, engine.RuntimeOptions{})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeCompleted, outcome.Status)

	var sawFailure bool
	for _, m := range final.Messages {
		if m.Role == models.RoleTool && m.ToolCallID == parentCall.ID && strings.Contains(m.Content, "EXECUTION_FAILED") {
			sawFailure = true
		}
	}
	require.True(t, sawFailure, "expected parent tool message to report EXECUTION_FAILED for the nested max-turns error")
}
