package engine

import (
	"log/slog"
	"time"
)

// RuntimeOptions configures one Engine's turn loop, tool execution, and
// backpressure behavior (spec §4.6, §5).
type RuntimeOptions struct {
	// MaxTurns bounds turnCount before Route->ModelCall is refused with
	// ErrorKindMaxTurns (spec §4.6.1, I3).
	MaxTurns int

	// ModelTimeout bounds a single ModelCall (spec §5, default 30s).
	ModelTimeout time.Duration

	// ToolTimeout bounds a single tool execution. Spec §5 notes there is no
	// default for tools; zero means unbounded.
	ToolTimeout time.Duration

	// CancellationGrace is how long an in-flight tool is given to return
	// after the run's context is cancelled before its result is discarded
	// (spec §5, default 500ms).
	CancellationGrace time.Duration

	// EventBufferSize bounds each event subscriber's buffer before events
	// are dropped (spec §5, default 256).
	EventBufferSize int

	// Hooks are advisory lifecycle callbacks (spec §4.6.3).
	Hooks RunHooks

	Logger *slog.Logger
}

// DefaultRuntimeOptions returns the baseline options spec §5's defaults
// describe.
func DefaultRuntimeOptions() RuntimeOptions {
	return RuntimeOptions{
		MaxTurns:          10,
		ModelTimeout:      30 * time.Second,
		CancellationGrace: 500 * time.Millisecond,
		EventBufferSize:   256,
		Logger:            slog.Default(),
	}
}

func (o RuntimeOptions) withDefaults() RuntimeOptions {
	d := DefaultRuntimeOptions()
	if o.MaxTurns <= 0 {
		o.MaxTurns = d.MaxTurns
	}
	if o.ModelTimeout <= 0 {
		o.ModelTimeout = d.ModelTimeout
	}
	if o.CancellationGrace <= 0 {
		o.CancellationGrace = d.CancellationGrace
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	return o
}

// RunHooks are the named hooks spec §4.6.3 describes, given a typed shape
// (SPEC_FULL.md's supplemented-features decision). Any hook left nil is
// skipped. Hook panics/errors are caught and logged, never surfaced (spec
// §4.6.3): see engine.go's callHook.
type RunHooks struct {
	OnRunStart         func(runID, traceID, conversationID, agentName string)
	OnAssistantMessage func(content string, toolCalls int)
	OnToolCalls        func(count int)
	OnToolResult       func(toolCallID, toolName string, isError bool)
	OnTokenUsage       func(prompt, completion, total int)
	OnError            func(err error)
	OnRunEnd           func(status string, turnCount int)
}
