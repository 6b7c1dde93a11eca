package engine

import (
	"context"

	"github.com/xynehq/jaf-sub004/internal/toolregistry"
	"github.com/xynehq/jaf-sub004/pkg/models"
)

// LLMProvider is the model transport the engine's ModelCall state drives
// (spec §4.6.1). Implementations live outside the Run Engine itself —
// internal/engine/providers holds two concrete adapters — and are supplied
// by the caller; the engine never selects a provider by name.
//
// Thread safety: implementations must support concurrent Complete calls,
// since different runs progress concurrently (spec §5).
type LLMProvider interface {
	// Complete sends one model turn and streams the response. The channel is
	// closed after a chunk with Done=true or Err set is delivered.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	Name() string
}

// CompletionRequest is a single ModelCall invocation: the full message
// history plus the tool schemas currently registered.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []models.Message
	Tools     []ToolSchema
	MaxTokens int
}

// ToolSchema is the provider-facing projection of a registered tool —
// everything a model needs to decide whether and how to call it.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  []byte // raw JSON Schema
}

// ToolSchemasFrom projects a tool registry's tools into the provider-facing
// shape, preserving registration order.
func ToolSchemasFrom(tools []*toolregistry.Tool) []ToolSchema {
	out := make([]ToolSchema, len(tools))
	for i, t := range tools {
		out[i] = ToolSchema{Name: t.Name(), Description: t.Description()}
	}
	return out
}

// CompletionChunk is one piece of a streamed model turn. Exactly one of
// Text/ToolCall/Done/Err is meaningful per chunk, mirroring
// CompletionRequest's single-turn-per-call contract.
type CompletionChunk struct {
	Text     string
	Thinking string

	// ToolCall is populated when the model has finished emitting a single
	// tool call; providers may emit several chunks, one per call.
	ToolCall *models.ToolCall

	// Done is set on the final chunk of a successful turn, carrying
	// whatever was accumulated plus token accounting.
	Done       bool
	Content    string
	ToolCalls  []models.ToolCall
	InputUsage int
	OutputUsed int

	Err error
}
