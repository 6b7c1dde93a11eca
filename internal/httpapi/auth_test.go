package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xynehq/jaf-sub004/internal/toolauth"
)

func TestHandleAuthSubmitUnconfigured(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/auth/submit", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	s.handleAuthSubmit(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleAuthSubmitNoPending(t *testing.T) {
	s := newTestServer()
	s.AuthStore = toolauth.NewMemoryStore()
	payload := `{"sessionId":"sess-1","toolCallId":"tc-1","authResponseUri":"https://example/callback?code=abc"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/submit", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	s.handleAuthSubmit(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleAuthSubmitDepositsResponse(t *testing.T) {
	s := newTestServer()
	store := toolauth.NewMemoryStore()
	s.AuthStore = store
	require.NoError(t, store.PutPending(context.Background(), "sess-1", "tc-1", "auth-key-1"))

	payload := `{"sessionId":"sess-1","toolCallId":"tc-1","authResponseUri":"https://example/callback?code=abc","redirectUri":"https://example/done"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/submit", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	s.handleAuthSubmit(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	resp, err := store.ConsumeAuthResponse(context.Background(), "auth-key-1")
	require.NoError(t, err)
	require.Equal(t, "https://example/callback?code=abc", resp.AuthResponseURI)
}
