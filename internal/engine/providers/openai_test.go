package providers

import (
	"encoding/json"
	"errors"
	"io"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/xynehq/jaf-sub004/internal/engine"
	"github.com/xynehq/jaf-sub004/pkg/models"
)

func TestNewOpenAIProvider(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{})
	require.Error(t, err, "missing API key should fail")

	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key"})
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", p.defaultModel)
	require.Equal(t, 4096, p.maxTokens)
	require.Equal(t, "openai", p.Name())
}

func TestConvertOpenAIMessages(t *testing.T) {
	msgs := []models.Message{
		models.NewUserMessage("hello"),
		models.NewAssistantMessage("", []models.ToolCall{{ID: "tc-1", Name: "lookup", Arguments: `{"q":"x"}`}}),
		models.NewToolMessage("tc-1", "result"),
	}

	out := convertOpenAIMessages(msgs, "be helpful")
	require.Len(t, out, 4, "system prompt prepended plus the three messages")
	require.Equal(t, openai.ChatMessageRoleSystem, out[0].Role)
	require.Equal(t, openai.ChatMessageRoleTool, out[3].Role)
	require.Equal(t, "tc-1", out[3].ToolCallID)
}

func TestConvertOpenAITools(t *testing.T) {
	tools := []engine.ToolSchema{
		{Name: "search", Description: "search the web", Parameters: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`)},
		{Name: "noop"},
	}
	out, err := convertOpenAITools(tools)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "search", out[0].Function.Name)
}

func TestConvertOpenAIToolsRejectsInvalidSchema(t *testing.T) {
	_, err := convertOpenAITools([]engine.ToolSchema{{Name: "broken", Parameters: json.RawMessage(`not json`)}})
	require.Error(t, err)
}

// fakeOpenAIStream replays a fixed queue of chat completion stream
// responses, mirroring *openai.ChatCompletionStream's Recv/Close contract.
type fakeOpenAIStream struct {
	responses []openai.ChatCompletionStreamResponse
	i         int
	closed    bool
}

func (s *fakeOpenAIStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if s.i >= len(s.responses) {
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	resp := s.responses[s.i]
	s.i++
	return resp, nil
}

func (s *fakeOpenAIStream) Close() { s.closed = true }

func intPtr(i int) *int { return &i }

func TestProcessOpenAIStreamTextAndToolCall(t *testing.T) {
	stream := &fakeOpenAIStream{responses: []openai.ChatCompletionStreamResponse{
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: "hi "}}}},
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{{Index: intPtr(0), ID: "tc-1", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "search"}}},
		}}}},
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `{"q":"x"}`}}},
		}}}},
	}}

	chunks := make(chan *engine.CompletionChunk, 16)
	processOpenAIStream(stream, chunks, "gpt-4o")

	var sawText, sawTool, sawDone bool
	for chunk := range chunks {
		switch {
		case chunk.ToolCall != nil:
			sawTool = true
			require.Equal(t, "search", chunk.ToolCall.Name)
			require.JSONEq(t, `{"q":"x"}`, chunk.ToolCall.Arguments)
		case chunk.Done:
			sawDone = true
			require.Equal(t, "hi ", chunk.Content)
			require.Len(t, chunk.ToolCalls, 1)
		case chunk.Text != "":
			sawText = true
		}
	}
	require.True(t, sawText)
	require.True(t, sawTool)
	require.True(t, sawDone)
	require.True(t, stream.closed)
}

func TestProcessOpenAIStreamError(t *testing.T) {
	errStream := &erroringOpenAIStream{err: errors.New("connection reset")}
	chunks := make(chan *engine.CompletionChunk, 1)
	processOpenAIStream(errStream, chunks, "gpt-4o")

	chunk := <-chunks
	require.Error(t, chunk.Err)
	var provErr *ProviderError
	require.ErrorAs(t, chunk.Err, &provErr)
	require.Equal(t, "openai", provErr.Provider)
}

type erroringOpenAIStream struct{ err error }

func (s *erroringOpenAIStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	return openai.ChatCompletionStreamResponse{}, s.err
}
func (s *erroringOpenAIStream) Close() {}
