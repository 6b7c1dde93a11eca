// Package subagent implements the Sub-agent as Tool component (spec §4.8):
// a child agent B exposed on a parent agent A as a callable tool T whose
// executor is itself a complete, synchronous nested Run Engine instance.
// The parent's tool execution blocks until the nested run terminates (spec
// §5's reentrancy note).
package subagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/xynehq/jaf-sub004/internal/engine"
	"github.com/xynehq/jaf-sub004/internal/toolregistry"
	"github.com/xynehq/jaf-sub004/pkg/models"
)

// DefaultMaxTurns bounds a nested run when Definition.MaxTurns is unset.
const DefaultMaxTurns = 10

// defaultSchema is T.parameterSchema's default shape (spec §4.8).
var defaultSchema = json.RawMessage(`{"type":"object","properties":{"input":{"type":"string"}},"required":["input"]}`)

// OutputExtractor derives the tool result string from a finished nested run,
// overriding the default "use the run's final output" behavior (spec §4.8:
// "a caller-supplied customOutputExtractor").
type OutputExtractor func(outcome engine.RunOutcome, final models.RunState) (string, error)

// Definition describes a child agent B exposed as tool T on a parent agent's
// registry (spec §4.8).
type Definition struct {
	// Name is T, the tool name registered on the parent's registry.
	Name string
	// Description surfaces T's purpose to the model.
	Description string
	// AgentName seeds the nested run's currentAgentName (B.name).
	AgentName string

	// Provider and Registry belong to B, not the parent agent.
	Provider engine.LLMProvider
	Registry *toolregistry.Registry

	// MaxTurns bounds the nested run (T.maxTurns). DefaultMaxTurns if <= 0.
	MaxTurns int

	// Schema overrides the default {input: string} parameterSchema.
	Schema json.RawMessage

	// Extractor overrides the default final-output extraction.
	Extractor OutputExtractor

	// Emitter, if set, is reused for every nested run built from this
	// definition, so nested events interleave into the same stream as the
	// parent's. Nil discards nested-run events.
	Emitter *engine.Emitter

	// Runtime configures the nested Engine.Run call; MaxTurns is always
	// overridden by the resolved value above.
	Runtime engine.RuntimeOptions
}

type inputArgs struct {
	Input string `json:"input"`
}

// NewTool builds the toolregistry.Tool for def. Each call starts an
// independent nested run: a fresh runId, a fresh messages log seeded with
// one user message carrying args.input, B's agent name, and the parent's
// opaque context value carried through unchanged (spec §3, §4.8).
func NewTool(def Definition) (*toolregistry.Tool, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("subagent: definition name must not be empty")
	}
	if def.Provider == nil {
		return nil, fmt.Errorf("subagent: definition %q: provider must not be nil", def.Name)
	}
	if def.Registry == nil {
		return nil, fmt.Errorf("subagent: definition %q: registry must not be nil", def.Name)
	}
	if def.AgentName == "" {
		return nil, fmt.Errorf("subagent: definition %q: agent name must not be empty", def.Name)
	}

	schema := def.Schema
	if schema == nil {
		schema = defaultSchema
	}
	maxTurns := def.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	return toolregistry.NewTool(
		def.Name,
		def.Description,
		def.execute(maxTurns),
		toolregistry.WithJSONSchema(schema),
	)
}

func (def Definition) execute(maxTurns int) toolregistry.ExecuteFunc {
	return func(ctx context.Context, args json.RawMessage, execCtx toolregistry.ExecContext) (string, error) {
		var in inputArgs
		if len(args) > 0 {
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("subagent: %s: invalid arguments: %w", def.Name, err)
			}
		}

		nested := models.RunState{
			RunID:            uuid.NewString(),
			TraceID:          execCtx.TraceID,
			ConversationID:   execCtx.ConversationID,
			CurrentAgentName: def.AgentName,
			Messages:         []models.Message{models.NewUserMessage(in.Input)},
			Context:          execCtx.UserContext,
		}

		opts := def.Runtime
		opts.MaxTurns = maxTurns

		nestedEngine := engine.New(def.Provider, def.Registry, def.Emitter)
		outcome, final, err := nestedEngine.Run(ctx, nested, opts)
		if err != nil {
			// error|max_turns_exceeded -> EXECUTION_FAILED tool result (spec
			// §4.8). engine.toolPhase's classifyToolResult wraps this as the
			// EXECUTION_FAILED result since it matches no typed interrupt.
			return "", fmt.Errorf("nested run %s: %w", outcome.ErrorKind, err)
		}

		if outcome.Status == models.OutcomeInterrupted {
			return "", &engine.SubRunInterruptedError{Interruptions: outcome.Interruptions}
		}

		if def.Extractor != nil {
			return def.Extractor(outcome, final)
		}
		return outcome.Output, nil
	}
}
