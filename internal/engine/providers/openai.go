package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/xynehq/jaf-sub004/internal/engine"
	"github.com/xynehq/jaf-sub004/pkg/models"
)

// OpenAIProvider implements engine.LLMProvider against OpenAI's chat
// completions API, streamed over SSE.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	maxTokens    int
}

// OpenAIConfig configures NewOpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
}

// NewOpenAIProvider validates config and returns a ready provider.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gpt-4o"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: config.DefaultModel,
		maxTokens:    config.MaxTokens,
	}, nil
}

// Name identifies this provider for cmd/'s wiring and logging.
func (p *OpenAIProvider) Name() string { return "openai" }

// Complete sends one model turn and streams the response (spec §4.6.1's
// ModelCall state).
func (p *OpenAIProvider) Complete(ctx context.Context, req *engine.CompletionRequest) (<-chan *engine.CompletionChunk, error) {
	messages := convertOpenAIMessages(req.Messages, req.System)

	chatReq := openai.ChatCompletionRequest{
		Model:     p.model(req.Model),
		Messages:  messages,
		Stream:    true,
		MaxTokens: p.tokens(req.MaxTokens),
	}
	if len(req.Tools) > 0 {
		tools, err := convertOpenAITools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("openai: convert tools: %w", err)
		}
		chatReq.Tools = tools
	}

	model := p.model(req.Model)
	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, NewProviderError("openai", model, err)
	}

	chunks := make(chan *engine.CompletionChunk)
	go processOpenAIStream(stream, chunks, model)
	return chunks, nil
}

func (p *OpenAIProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

func (p *OpenAIProvider) tokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return p.maxTokens
}

// openaiStream is the subset of *openai.ChatCompletionStream
// processOpenAIStream needs, so it can be exercised against a fake in tests
// without the SDK's network transport.
type openaiStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close()
}

func processOpenAIStream(stream openaiStream, chunks chan<- *engine.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	var content []byte
	pending := make(map[int]*models.ToolCall)
	var order []int

	flushToolCalls := func() []models.ToolCall {
		out := make([]models.ToolCall, 0, len(order))
		for _, idx := range order {
			if tc := pending[idx]; tc != nil && tc.ID != "" && tc.Name != "" {
				out = append(out, *tc)
			}
		}
		return out
	}

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				toolCalls := flushToolCalls()
				for i := range toolCalls {
					chunks <- &engine.CompletionChunk{ToolCall: &toolCalls[i]}
				}
				chunks <- &engine.CompletionChunk{Done: true, Content: string(content), ToolCalls: toolCalls}
				return
			}
			chunks <- &engine.CompletionChunk{Err: NewProviderError("openai", model, err)}
			return
		}

		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			content = append(content, delta.Content...)
			chunks <- &engine.CompletionChunk{Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if pending[idx] == nil {
				pending[idx] = &models.ToolCall{}
				order = append(order, idx)
			}
			if tc.ID != "" {
				pending[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pending[idx].Arguments += tc.Function.Arguments
			}
		}
	}
}

func convertOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})

		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: models.GetTextContent(msg),
			}
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					}
				}
			}
			result = append(result, oaiMsg)

		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: models.GetTextContent(msg)})

		default:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: models.GetTextContent(msg)})
		}
	}

	return result
}

func convertOpenAITools(tools []engine.ToolSchema) ([]openai.Tool, error) {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		schema := map[string]any{"type": "object", "properties": map[string]any{}}
		if len(tool.Parameters) > 0 {
			if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("tool %s: invalid parameter schema: %w", tool.Name, err)
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result, nil
}
