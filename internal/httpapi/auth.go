package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/xynehq/jaf-sub004/internal/toolauth"
)

type authSubmitRequest struct {
	ConversationID  string `json:"conversationId"`
	SessionID       string `json:"sessionId"`
	ToolCallID      string `json:"toolCallId"`
	AuthResponseURI string `json:"authResponseUri"`
	RedirectURI     string `json:"redirectUri"`
}

// handleAuthSubmit implements POST /auth/submit (spec §6.3): deposits a
// one-shot authResponse under the authKey resolved from the
// (sessionId, toolCallId) pending registration left by the interrupted
// run. The next /chat call for the same conversation (with no new user
// message) resumes by consuming it.
func (s *Server) handleAuthSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "method not allowed")
		return
	}
	if s.AuthStore == nil {
		writeError(w, http.StatusServiceUnavailable, "auth provider is not configured")
		return
	}

	var req authSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SessionID == "" || req.ToolCallID == "" || req.AuthResponseURI == "" {
		writeError(w, http.StatusBadRequest, "sessionId, toolCallId, and authResponseUri are required")
		return
	}

	ctx := r.Context()
	authKey, err := s.AuthStore.ResolvePending(ctx, req.SessionID, req.ToolCallID)
	if err != nil {
		writeError(w, http.StatusNotFound, "no pending auth for session/toolCall: "+err.Error())
		return
	}

	resp := &toolauth.AuthResponse{
		AuthResponseURI: req.AuthResponseURI,
		RedirectURI:     req.RedirectURI,
		DepositedAt:     time.Now(),
	}
	if err := s.AuthStore.PutAuthResponse(ctx, authKey, resp); err != nil {
		writeError(w, http.StatusInternalServerError, "deposit auth response: "+err.Error())
		return
	}

	if s.Metrics != nil {
		s.Metrics.RecordAuthResolved()
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
