package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/xynehq/jaf-sub004/pkg/models"
)

// Emitter assigns monotonic sequence numbers and dispatches events to a
// sink for a single run (spec §4.7: "totally-ordered sequence of events for
// each run"). A run owns exactly one Emitter; concurrent calls from the
// run's own goroutines (e.g. a tool streaming progress while the engine
// waits on it) are safe via the atomic sequence counter.
type Emitter struct {
	runID          string
	traceID        string
	conversationID string
	sequence       uint64
	sink           EventSink
}

// NewEmitter returns an emitter for runID dispatching to sink. A nil sink
// is replaced with NopSink.
func NewEmitter(runID, traceID, conversationID string, sink EventSink) *Emitter {
	if sink == nil {
		sink = NopSink{}
	}
	return &Emitter{runID: runID, traceID: traceID, conversationID: conversationID, sink: sink}
}

func (e *Emitter) next() uint64 { return atomic.AddUint64(&e.sequence, 1) }

func (e *Emitter) base(t models.EventType) models.Event {
	return models.Event{
		Version:        1,
		Type:           t,
		Time:           time.Now(),
		Sequence:       e.next(),
		RunID:          e.runID,
		TraceID:        e.traceID,
		ConversationID: e.conversationID,
	}
}

func (e *Emitter) emit(ctx context.Context, ev models.Event) {
	e.sink.Emit(ctx, ev)
}

// RunStart emits event 1, bracketing the run.
func (e *Emitter) RunStart(ctx context.Context, agentName string) {
	ev := e.base(models.EventRunStart)
	ev.RunStart = &models.RunStartPayload{TraceID: e.traceID, ConversationID: e.conversationID, AgentName: agentName}
	e.emit(ctx, ev)
}

// AssistantMessage emits event 2.
func (e *Emitter) AssistantMessage(ctx context.Context, content, thinking string, toolCalls []models.ToolCall) {
	ev := e.base(models.EventAssistantMessage)
	ev.AssistantMessage = &models.AssistantMessagePayload{Content: content, ToolCalls: toolCalls, Thinking: thinking}
	e.emit(ctx, ev)
}

// ToolCallsRequested emits event 3.
func (e *Emitter) ToolCallsRequested(ctx context.Context, calls []models.ToolCall) {
	summaries := make([]models.ToolCallSummary, len(calls))
	for i, c := range calls {
		summaries[i] = models.ToolCallSummary{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	ev := e.base(models.EventToolCallsRequested)
	ev.ToolCallsRequested = &models.ToolCallsRequestedPayload{Calls: summaries}
	e.emit(ctx, ev)
}

// ToolPhase emits event 4. Ordering guarantee (spec §4.7): callers must
// emit ToolPhaseStarted before any ToolStream events for the same
// toolCallID, which must precede ToolPhaseCompleted/Failed.
func (e *Emitter) ToolPhase(ctx context.Context, toolCallID, toolName string, phase models.ToolPhaseKind, result, errMsg string) {
	ev := e.base(models.EventToolPhase)
	ev.ToolPhase = &models.ToolPhasePayload{ToolCallID: toolCallID, ToolName: toolName, Phase: phase, Result: result, Error: errMsg}
	e.emit(ctx, ev)
}

// ApprovalRequired emits event 5.
func (e *Emitter) ApprovalRequired(ctx context.Context, toolCallID, toolName, arguments, signature string) {
	ev := e.base(models.EventApprovalRequired)
	ev.ApprovalRequired = &models.ApprovalRequiredPayload{ToolCallID: toolCallID, ToolName: toolName, Arguments: arguments, Signature: signature}
	e.emit(ctx, ev)
}

// ApprovalDecision emits event 6.
func (e *Emitter) ApprovalDecision(ctx context.Context, toolCallID, status string, additionalContext map[string]any) {
	ev := e.base(models.EventApprovalDecision)
	ev.ApprovalDecision = &models.ApprovalDecisionPayload{ToolCallID: toolCallID, Status: status, AdditionalContext: additionalContext}
	e.emit(ctx, ev)
}

// ToolStream emits event 7, the pass-through kind tools push while running.
func (e *Emitter) ToolStream(ctx context.Context, toolCallID string, kind models.ToolStreamKind, data string) {
	ev := e.base(models.EventToolStream)
	ev.ToolStream = &models.ToolStreamPayload{ToolCallID: toolCallID, Kind: kind, Data: data}
	e.emit(ctx, ev)
}

// TokenUsage emits event 8.
func (e *Emitter) TokenUsage(ctx context.Context, prompt, completion, total int) {
	ev := e.base(models.EventTokenUsage)
	ev.TokenUsage = &models.TokenUsagePayload{Prompt: prompt, Completion: completion, Total: total}
	e.emit(ctx, ev)
}

// RunEnd emits event 9, bracketing the run. droppedEvents should come from
// the sink's own counter when it tracks one (spec §5).
func (e *Emitter) RunEnd(ctx context.Context, outcome RunOutcome, droppedEvents uint64) {
	ev := e.base(models.EventRunEnd)
	ev.RunEnd = &models.RunEndPayload{
		Status:        outcome.Status,
		Output:        outcome.Output,
		Error:         outcome.Error,
		Interruptions: outcome.Interruptions,
		TurnCount:     outcome.TurnCount,
		DroppedEvents: droppedEvents,
	}
	e.emit(ctx, ev)
}

// Error emits event 10.
func (e *Emitter) Error(ctx context.Context, message, kind string) {
	ev := e.base(models.EventError)
	ev.Error = &models.ErrorPayload{Message: message, Kind: kind}
	e.emit(ctx, ev)
}

// RunStats is derived, read-only observability over a run's event stream
// (SPEC_FULL.md's supplemented StatsCollector) — additive to the engine's
// control flow, never consulted by it.
type RunStats struct {
	RunID         string
	TurnCount     int
	ToolCalls     int
	ToolWallTime  time.Duration
	PromptTokens  int
	OutputTokens  int
	DroppedEvents uint64
	StartedAt     time.Time
	FinishedAt    time.Time
}

// StatsCollector accumulates RunStats by observing the same event stream a
// Stream Provider would, entirely out-of-band from engine control flow.
type StatsCollector struct {
	stats      RunStats
	toolStarts map[string]time.Time
}

// NewStatsCollector returns a collector for runID.
func NewStatsCollector(runID string) *StatsCollector {
	return &StatsCollector{
		stats:      RunStats{RunID: runID, StartedAt: time.Now()},
		toolStarts: make(map[string]time.Time),
	}
}

// OnEvent feeds one event into the collector. Intended to be wired as (or
// alongside) an EventSink.
func (c *StatsCollector) OnEvent(e models.Event) {
	switch e.Type {
	case models.EventRunStart:
		c.stats.StartedAt = e.Time
	case models.EventToolCallsRequested:
		if e.ToolCallsRequested != nil {
			c.stats.ToolCalls += len(e.ToolCallsRequested.Calls)
		}
	case models.EventToolPhase:
		if e.ToolPhase == nil {
			return
		}
		switch e.ToolPhase.Phase {
		case models.ToolPhaseStarted:
			c.toolStarts[e.ToolPhase.ToolCallID] = e.Time
		case models.ToolPhaseCompleted, models.ToolPhaseFailed:
			if start, ok := c.toolStarts[e.ToolPhase.ToolCallID]; ok {
				c.stats.ToolWallTime += e.Time.Sub(start)
				delete(c.toolStarts, e.ToolPhase.ToolCallID)
			}
		}
	case models.EventTokenUsage:
		if e.TokenUsage != nil {
			c.stats.PromptTokens += e.TokenUsage.Prompt
			c.stats.OutputTokens += e.TokenUsage.Completion
		}
	case models.EventRunEnd:
		if e.RunEnd != nil {
			c.stats.TurnCount = e.RunEnd.TurnCount
			c.stats.DroppedEvents = e.RunEnd.DroppedEvents
		}
		c.stats.FinishedAt = e.Time
	}
}

// Stats returns a snapshot of the accumulated statistics.
func (c *StatsCollector) Stats() RunStats {
	stats := c.stats
	if stats.FinishedAt.IsZero() {
		stats.FinishedAt = time.Now()
	}
	return stats
}
