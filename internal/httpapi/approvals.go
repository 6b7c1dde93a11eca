package httpapi

import (
	"net/http"

	"github.com/xynehq/jaf-sub004/internal/approval"
	"github.com/xynehq/jaf-sub004/pkg/models"
)

type pendingApproval struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Args       string `json:"args"`
	Signature  string `json:"signature"`
	Status     string `json:"status"`
}

type pendingApprovalsResponse struct {
	Pending []pendingApproval `json:"pending"`
}

// handleApprovalsPending implements GET /approvals/pending (spec §6.2):
// the set derived from the last assistant message's tool calls that have
// neither a tool result nor a recorded approval decision.
func (s *Server) handleApprovalsPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "method not allowed")
		return
	}
	conversationID := r.URL.Query().Get("conversationId")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "conversationId is required")
		return
	}

	record, found, err := s.Memory.GetConversation(r.Context(), conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load conversation: "+err.Error())
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, pendingApprovalsResponse{Pending: []pendingApproval{}})
		return
	}

	lastCalls := approval.LastAssistantToolCalls(record.Messages)
	resultIDs := make(map[string]bool, len(record.Messages))
	for _, m := range record.Messages {
		if m.Role == models.RoleTool {
			resultIDs[m.ToolCallID] = true
		}
	}

	persisted, err := s.Approvals.Get(r.Context(), conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load approvals: "+err.Error())
		return
	}
	rehydrated := approval.Rehydrate(lastCalls, persisted)

	pending := make([]pendingApproval, 0, len(lastCalls))
	for _, call := range lastCalls {
		if resultIDs[call.ID] {
			continue
		}
		if entry, ok := rehydrated[call.ID]; ok && entry.Status != models.ApprovalPending {
			continue
		}
		pending = append(pending, pendingApproval{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Args:       call.Arguments,
			Signature:  call.Signature(),
			Status:     string(models.ApprovalPending),
		})
	}

	writeJSON(w, http.StatusOK, pendingApprovalsResponse{Pending: pending})
}

// handleApprovalsStream implements GET /approvals/stream (spec §6.2): an
// SSE feed of approval_required/approval_decision events for one
// conversation, fed by the broker every /chat run publishes into.
func (s *Server) handleApprovalsStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "method not allowed")
		return
	}
	conversationID := r.URL.Query().Get("conversationId")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "conversationId is required")
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported by this response writer")
		return
	}

	events, unsubscribe := s.broker.subscribe(conversationID)
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case models.EventApprovalRequired, models.EventApprovalDecision:
				if err := sse.writeEvent(string(ev.Type), ev); err != nil {
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
