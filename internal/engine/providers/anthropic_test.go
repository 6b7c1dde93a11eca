package providers

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/require"

	"github.com/xynehq/jaf-sub004/internal/engine"
	"github.com/xynehq/jaf-sub004/pkg/models"
)

func TestNewAnthropicProvider(t *testing.T) {
	_, err := NewAnthropicProvider(AnthropicConfig{})
	require.Error(t, err, "missing API key should fail")

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	require.NoError(t, err)
	require.Equal(t, "claude-sonnet-4-20250514", p.defaultModel, "default model should be applied")
	require.Equal(t, 4096, p.maxTokens, "default max tokens should be applied")
	require.Equal(t, "anthropic", p.Name())
}

func TestConvertMessages(t *testing.T) {
	msgs := []models.Message{
		models.NewSystemMessage("ignored, system goes on CompletionRequest.System"),
		models.NewUserMessage("hello"),
		models.NewAssistantMessage("", []models.ToolCall{{ID: "tc-1", Name: "lookup", Arguments: `{"q":"x"}`}}),
		models.NewToolMessage("tc-1", "result"),
	}

	out, err := convertMessages(msgs)
	require.NoError(t, err)
	require.Len(t, out, 3, "system message dropped, other three kept")
}

func TestConvertMessagesRejectsInvalidToolArguments(t *testing.T) {
	msgs := []models.Message{
		models.NewAssistantMessage("", []models.ToolCall{{ID: "tc-1", Name: "lookup", Arguments: "not json"}}),
	}
	_, err := convertMessages(msgs)
	require.Error(t, err)
}

func TestConvertTools(t *testing.T) {
	tools := []engine.ToolSchema{
		{Name: "search", Description: "search the web", Parameters: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`)},
		{Name: "noop", Description: "does nothing"},
	}
	out, err := convertTools(tools)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestConvertToolsRejectsInvalidSchema(t *testing.T) {
	tools := []engine.ToolSchema{{Name: "broken", Parameters: json.RawMessage(`not json`)}}
	_, err := convertTools(tools)
	require.Error(t, err)
}

// fakeAnthropicStream replays a fixed queue of events built by unmarshaling
// the same raw SSE payload shapes the real SDK decodes (see
// anthropic-sdk-go's ssestream package), so processAnthropicStream is
// exercised without a network transport.
type fakeAnthropicStream struct {
	events []anthropic.MessageStreamEventUnion
	i      int
	err    error
}

func (s *fakeAnthropicStream) Next() bool {
	if s.i >= len(s.events) {
		return false
	}
	s.i++
	return true
}

func (s *fakeAnthropicStream) Current() anthropic.MessageStreamEventUnion { return s.events[s.i-1] }
func (s *fakeAnthropicStream) Err() error                                 { return s.err }

func mustAnthropicEvent(t *testing.T, raw string) anthropic.MessageStreamEventUnion {
	t.Helper()
	var ev anthropic.MessageStreamEventUnion
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	return ev
}

func TestProcessAnthropicStreamTextAndToolCall(t *testing.T) {
	stream := &fakeAnthropicStream{events: []anthropic.MessageStreamEventUnion{
		mustAnthropicEvent(t, `{"type":"message_start","message":{"usage":{"input_tokens":5}}}`),
		mustAnthropicEvent(t, `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"t1","name":"search"}}`),
		mustAnthropicEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"q\":\"x\"}"}}`),
		mustAnthropicEvent(t, `{"type":"content_block_stop","index":0}`),
		mustAnthropicEvent(t, `{"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}`),
		mustAnthropicEvent(t, `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"hi"}}`),
		mustAnthropicEvent(t, `{"type":"content_block_stop","index":1}`),
		mustAnthropicEvent(t, `{"type":"message_delta","usage":{"output_tokens":7}}`),
		mustAnthropicEvent(t, `{"type":"message_stop"}`),
	}}

	chunks := make(chan *engine.CompletionChunk, 16)
	processAnthropicStream(stream, chunks, "claude-sonnet-4-20250514")

	var sawText, sawTool, sawDone bool
	for chunk := range chunks {
		switch {
		case chunk.ToolCall != nil:
			sawTool = true
			require.Equal(t, "search", chunk.ToolCall.Name)
			require.JSONEq(t, `{"q":"x"}`, chunk.ToolCall.Arguments)
		case chunk.Done:
			sawDone = true
			require.Equal(t, 5, chunk.InputUsage)
			require.Equal(t, 7, chunk.OutputUsed)
			require.Len(t, chunk.ToolCalls, 1)
		case chunk.Text != "":
			sawText = true
		}
	}
	require.True(t, sawText)
	require.True(t, sawTool)
	require.True(t, sawDone)
}

func TestProcessAnthropicStreamError(t *testing.T) {
	stream := &fakeAnthropicStream{err: errors.New("connection reset")}
	chunks := make(chan *engine.CompletionChunk, 1)
	processAnthropicStream(stream, chunks, "claude-sonnet-4-20250514")

	chunk := <-chunks
	require.Error(t, chunk.Err)
	var provErr *ProviderError
	require.ErrorAs(t, chunk.Err, &provErr)
	require.Equal(t, "anthropic", provErr.Provider)
}
