package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xynehq/jaf-sub004/internal/approval"
	"github.com/xynehq/jaf-sub004/internal/engine"
	"github.com/xynehq/jaf-sub004/internal/memory"
	"github.com/xynehq/jaf-sub004/internal/toolregistry"
	"github.com/xynehq/jaf-sub004/pkg/models"
)

// echoProvider always returns a single completed turn with fixed content,
// enough to exercise the HTTP boundary without a real model.
type echoProvider struct{ content string }

func (p *echoProvider) Name() string { return "echo" }

func (p *echoProvider) Complete(_ context.Context, _ *engine.CompletionRequest) (<-chan *engine.CompletionChunk, error) {
	ch := make(chan *engine.CompletionChunk, 1)
	ch <- &engine.CompletionChunk{Done: true, Content: p.content}
	close(ch)
	return ch, nil
}

func newTestServer() *Server {
	agents := map[string]AgentDefinition{
		"EchoAgent": {Name: "EchoAgent", Provider: &echoProvider{content: "hello back"}, Registry: toolregistry.NewRegistry()},
	}
	return NewServer(
		agents,
		memory.NewMemoryStore(memory.RetentionPolicy{}),
		approval.NewMemoryStore(),
		nil, nil, nil,
		engine.RuntimeOptions{MaxTurns: 5},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		nil, nil,
	)
}

func TestHandleChatUnknownAgent(t *testing.T) {
	s := newTestServer()
	body := strings.NewReader(`{"agentName":"NoSuchAgent","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/chat", body)
	rec := httptest.NewRecorder()

	s.handleChat(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleChatMissingAgentName(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()

	s.handleChat(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatCompletesRun(t *testing.T) {
	s := newTestServer()
	payload := `{"agentName":"EchoAgent","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	s.handleChat(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, models.OutcomeCompleted, resp.Data.Outcome.Status)
	require.Equal(t, "hello back", resp.Data.Outcome.Output)
	require.NotEmpty(t, resp.Data.ConversationID)

	record, found, err := s.Memory.GetConversation(context.Background(), resp.Data.ConversationID)
	require.NoError(t, err)
	require.True(t, found)
	require.NotEmpty(t, record.Messages)
}

func TestHandleChatRejectsWhenMemoryUnconfigured(t *testing.T) {
	s := newTestServer()
	s.Memory = nil
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"agentName":"EchoAgent","messages":[]}`))
	rec := httptest.NewRecorder()

	s.handleChat(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleChatAppliesSubmittedApprovals(t *testing.T) {
	s := newTestServer()
	payload := `{"agentName":"EchoAgent","messages":[{"role":"user","content":"hi"}],"approvals":[{"toolCallId":"tc-1","sessionId":"sess-1","approved":true}]}`
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	s.handleChat(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	entries, err := s.Approvals.Get(context.Background(), resp.Data.ConversationID)
	require.NoError(t, err)
	require.Equal(t, models.ApprovalApproved, entries["tc-1"].Status)
}
