package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/xynehq/jaf-sub004/internal/approval"
	"github.com/xynehq/jaf-sub004/internal/engine"
	"github.com/xynehq/jaf-sub004/pkg/models"
)

// memoryOptions mirrors spec §6.1's optional "memory" block on /chat.
type memoryOptions struct {
	AutoStore            *bool `json:"autoStore,omitempty"`
	MaxMessages          int   `json:"maxMessages,omitempty"`
	CompressionThreshold int   `json:"compressionThreshold,omitempty"`
	StoreOnCompletion    *bool `json:"storeOnCompletion,omitempty"`
}

// approvalSubmission is one element of /chat's "approvals" array (spec
// §6.1, §6.2: approvals arrive inside a /chat body, not their own POST).
type approvalSubmission struct {
	ToolCallID        string         `json:"toolCallId"`
	SessionID         string         `json:"sessionId"`
	Approved          bool           `json:"approved"`
	AdditionalContext map[string]any `json:"additionalContext,omitempty"`
}

type chatRequest struct {
	AgentName      string               `json:"agentName"`
	Messages       []models.Message     `json:"messages"`
	Context        any                  `json:"context,omitempty"`
	MaxTurns       int                  `json:"maxTurns,omitempty"`
	Stream         bool                 `json:"stream,omitempty"`
	ConversationID string               `json:"conversationId,omitempty"`
	Memory         *memoryOptions       `json:"memory,omitempty"`
	Approvals      []approvalSubmission `json:"approvals,omitempty"`
}

type chatOutcome struct {
	Status        models.RunOutcomeStatus `json:"status"`
	Output        string                  `json:"output,omitempty"`
	Error         string                  `json:"error,omitempty"`
	Interruptions []models.Interruption   `json:"interruptions,omitempty"`
}

type chatData struct {
	RunID          string          `json:"runId"`
	TraceID        string          `json:"traceId"`
	ConversationID string          `json:"conversationId"`
	Messages       []models.Message `json:"messages"`
	Outcome        chatOutcome     `json:"outcome"`
	TurnCount      int             `json:"turnCount"`
	ExecutionTimeMs int64          `json:"executionTimeMs"`
}

type chatResponse struct {
	Success bool     `json:"success"`
	Data    chatData `json:"data"`
}

// handleChat implements POST /chat (spec §6.1).
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "method not allowed")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AgentName == "" {
		writeError(w, http.StatusBadRequest, "agentName is required")
		return
	}

	agentDef, ok := s.Agents[req.AgentName]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown agentName: "+req.AgentName)
		return
	}
	if s.Memory == nil || s.Approvals == nil {
		writeError(w, http.StatusServiceUnavailable, "memory or approval provider is not configured")
		return
	}

	ctx := r.Context()
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	messages, metadata, err := s.loadConversation(ctx, conversationID, req.Messages)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load conversation: "+err.Error())
		return
	}

	if err := s.applyApprovals(ctx, conversationID, messages, req.Approvals); err != nil {
		writeError(w, http.StatusInternalServerError, "record approvals: "+err.Error())
		return
	}
	approvals, err := s.rehydrateApprovals(ctx, conversationID, messages)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "rehydrate approvals: "+err.Error())
		return
	}

	runID := uuid.NewString()
	traceID := uuid.NewString()
	state := models.RunState{
		RunID:            runID,
		TraceID:          traceID,
		ConversationID:   conversationID,
		CurrentAgentName: req.AgentName,
		Messages:         messages,
		Context:          req.Context,
		Approvals:        approvals,
	}

	opts := s.DefaultRuntime
	if req.MaxTurns > 0 {
		opts.MaxTurns = req.MaxTurns
	}
	opts.Hooks = s.runHooks(req.AgentName)

	sink := engine.NewCallbackSink(func(_ context.Context, e models.Event) {
		s.broker.publish(conversationID, e)
		if s.Metrics != nil && e.Type == models.EventApprovalRequired && e.ApprovalRequired != nil {
			s.Metrics.RecordApprovalRequested(e.ApprovalRequired.ToolName)
		}
	})
	emitter := engine.NewEmitter(runID, traceID, conversationID, sink)
	eng := engine.New(agentDef.Provider, agentDef.Registry, emitter)
	eng.AuthRuntime = s.AuthRuntime

	started := time.Now()

	if s.Tracer != nil {
		var span trace.Span
		ctx, span = s.Tracer.TraceRun(ctx, req.AgentName, conversationID)
		defer span.End()
	}

	if req.Stream {
		s.streamChat(w, ctx, eng, state, opts, conversationID, metadata, started)
		return
	}

	outcome, final, runErr := eng.Run(ctx, state, opts)
	elapsed := time.Since(started).Milliseconds()
	if runErr != nil && outcome.Status == "" {
		writeError(w, http.StatusInternalServerError, runErr.Error())
		return
	}
	s.recordAuthInterruptions(outcome.Interruptions)

	if err := s.persistRun(ctx, conversationID, req.AgentName, final, metadata, req.Memory); err != nil {
		s.Logger.Warn("persist conversation failed", "conversationId", conversationID, "error", err)
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Success: true,
		Data: chatData{
			RunID:           runID,
			TraceID:         traceID,
			ConversationID:  conversationID,
			Messages:        final.Messages,
			Outcome:         chatOutcomeFrom(outcome),
			TurnCount:       outcome.TurnCount,
			ExecutionTimeMs: elapsed,
		},
	})
}

// recordAuthInterruptions feeds any tool-auth interruption into
// s.Metrics.RecordAuthRequired, keyed by the tool call ID since
// models.Interruption carries no tool name.
func (s *Server) recordAuthInterruptions(interruptions []models.Interruption) {
	if s.Metrics == nil {
		return
	}
	for _, in := range interruptions {
		if in.Kind == models.InterruptToolAuth {
			s.Metrics.RecordAuthRequired(in.ToolCallID, in.SchemeType)
		}
	}
}

func chatOutcomeFrom(outcome engine.RunOutcome) chatOutcome {
	return chatOutcome{
		Status:        outcome.Status,
		Output:        outcome.Output,
		Error:         outcome.Error,
		Interruptions: outcome.Interruptions,
	}
}

// streamChat runs the engine while relaying every event as an SSE frame,
// finishing with a stream_end frame (spec §6.1).
func (s *Server) streamChat(w http.ResponseWriter, ctx context.Context, eng *engine.Engine, state models.RunState, opts engine.RuntimeOptions, conversationID string, metadata map[string]any, started time.Time) {
	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported by this response writer")
		return
	}

	events, unsubscribe := s.broker.subscribe(conversationID)
	defer unsubscribe()

	done := make(chan struct{})
	var outcome engine.RunOutcome
	var final models.RunState
	var runErr error
	go func() {
		defer close(done)
		outcome, final, runErr = eng.Run(ctx, state, opts)
	}()

relay:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				continue
			}
			_ = sse.writeEvent(string(ev.Type), ev)
			if ev.Type == models.EventRunEnd {
				break relay
			}
		case <-done:
			break relay
		case <-ctx.Done():
			return
		}
	}

	<-done
	_ = runErr
	s.recordAuthInterruptions(outcome.Interruptions)
	if state.CurrentAgentName != "" {
		_ = s.persistRun(ctx, conversationID, state.CurrentAgentName, final, metadata, nil)
	}
	_ = sse.writeEvent("stream_end", chatData{
		RunID:           state.RunID,
		TraceID:         state.TraceID,
		ConversationID:  conversationID,
		Messages:        final.Messages,
		Outcome:         chatOutcomeFrom(outcome),
		TurnCount:       outcome.TurnCount,
		ExecutionTimeMs: time.Since(started).Milliseconds(),
	})
}

// loadConversation merges any stored history for conversationID with the
// caller-supplied messages, which are appended after it (spec §6.1).
func (s *Server) loadConversation(ctx context.Context, conversationID string, incoming []models.Message) ([]models.Message, map[string]any, error) {
	record, found, err := s.Memory.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return incoming, map[string]any{}, nil
	}
	merged := make([]models.Message, 0, len(record.Messages)+len(incoming))
	merged = append(merged, record.Messages...)
	merged = append(merged, incoming...)
	return merged, record.Metadata, nil
}

func (s *Server) applyApprovals(ctx context.Context, conversationID string, messages []models.Message, submissions []approvalSubmission) error {
	toolNames := make(map[string]string, len(submissions))
	for _, call := range approval.LastAssistantToolCalls(messages) {
		toolNames[call.ID] = call.Name
	}

	for _, sub := range submissions {
		status := models.ApprovalRejected
		decision := "rejected"
		if sub.Approved {
			status = models.ApprovalApproved
			decision = "approved"
		}
		entry := models.ApprovalEntry{
			Status:            status,
			AdditionalContext: sub.AdditionalContext,
			Timestamp:         time.Now(),
		}
		if err := s.Approvals.Record(ctx, conversationID, sub.ToolCallID, entry); err != nil {
			return err
		}
		if s.Metrics != nil {
			toolName := toolNames[sub.ToolCallID]
			if toolName == "" {
				toolName = "unknown"
			}
			s.Metrics.RecordApprovalDecision(toolName, decision)
		}
	}
	return nil
}

func (s *Server) rehydrateApprovals(ctx context.Context, conversationID string, messages []models.Message) (map[string]models.ApprovalEntry, error) {
	persisted, err := s.Approvals.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	lastCalls := approval.LastAssistantToolCalls(messages)
	return approval.Rehydrate(lastCalls, persisted), nil
}

func (s *Server) persistRun(ctx context.Context, conversationID, agentName string, final models.RunState, metadata map[string]any, memOpts *memoryOptions) error {
	if memOpts != nil && memOpts.AutoStore != nil && !*memOpts.AutoStore {
		return nil
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["agentName"] = agentName
	return s.Memory.StoreMessages(ctx, conversationID, final.Messages, metadata)
}
