// Package providers supplies engine.LLMProvider adapters for the two
// external model collaborators SPEC_FULL.md's domain stack names
// (anthropic-sdk-go, go-openai). Neither the Run Engine core nor any
// SPEC_FULL.md component imports this package directly — only cmd/'s
// wiring selects and constructs one.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/xynehq/jaf-sub004/internal/engine"
	"github.com/xynehq/jaf-sub004/pkg/models"
)

// AnthropicProvider implements engine.LLMProvider against Claude's Messages
// API, streamed over SSE.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
}

// AnthropicConfig configures NewAnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
}

// NewAnthropicProvider validates config and returns a ready provider.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: config.DefaultModel,
		maxTokens:    config.MaxTokens,
	}, nil
}

// Name identifies this provider for cmd/'s wiring and logging.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete sends one model turn and streams the response (spec §4.6.1's
// ModelCall state).
func (p *AnthropicProvider) Complete(ctx context.Context, req *engine.CompletionRequest) (<-chan *engine.CompletionChunk, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(p.tokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	model := p.model(req.Model)

	chunks := make(chan *engine.CompletionChunk)
	go processAnthropicStream(stream, chunks, model)
	return chunks, nil
}

func (p *AnthropicProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

func (p *AnthropicProvider) tokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return p.maxTokens
}

// anthropicStream is the subset of *ssestream.Stream[T] processAnthropicStream
// needs, so it can be exercised against a fake in tests without the SDK's
// network transport.
type anthropicStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}

func processAnthropicStream(stream anthropicStream, chunks chan<- *engine.CompletionChunk, model string) {
	defer close(chunks)

	var content strings.Builder
	var toolCalls []models.ToolCall
	var currentTool *models.ToolCall
	var currentArgs strings.Builder
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			inputTokens = int(start.Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentTool = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentArgs.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				content.WriteString(delta.Text)
				if delta.Text != "" {
					chunks <- &engine.CompletionChunk{Text: delta.Text}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					chunks <- &engine.CompletionChunk{Thinking: delta.Thinking}
				}
			case "input_json_delta":
				currentArgs.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentTool != nil {
				currentTool.Arguments = currentArgs.String()
				toolCalls = append(toolCalls, *currentTool)
				chunks <- &engine.CompletionChunk{ToolCall: currentTool}
				currentTool = nil
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				outputTokens = int(delta.Usage.OutputTokens)
			}

		case "message_stop":
			chunks <- &engine.CompletionChunk{
				Done:       true,
				Content:    content.String(),
				ToolCalls:  toolCalls,
				InputUsage: inputTokens,
				OutputUsed: outputTokens,
			}
			return

		case "error":
			chunks <- &engine.CompletionChunk{Err: NewProviderError("anthropic", model, errors.New("anthropic stream error"))}
			return
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &engine.CompletionChunk{Err: NewProviderError("anthropic", model, err)}
	}
}

func convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		if text := models.GetTextContent(msg); text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(text))
		}
		if msg.Role == models.RoleTool {
			blocks = append(blocks, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		}
		for _, call := range msg.ToolCalls {
			var input map[string]any
			if call.Arguments != "" {
				if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
					return nil, fmt.Errorf("tool call %s: invalid arguments: %w", call.ID, err)
				}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}
		if len(blocks) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		} else {
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}
	return result, nil
}

func convertTools(tools []engine.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(tool.Parameters) > 0 {
			if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("tool %s: invalid parameter schema: %w", tool.Name, err)
			}
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(tool.Description)
		}
		result = append(result, param)
	}
	return result, nil
}
