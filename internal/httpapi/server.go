// Package httpapi implements the HTTP boundary (spec §6): /chat,
// /approvals/pending, /approvals/stream, and /auth/submit, wired against
// the already-assembled engine, memory, approval, and toolauth components.
// Routing follows the teacher's plain net/http.ServeMux style rather than a
// framework — this module's surface is four endpoints, not a gateway.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xynehq/jaf-sub004/internal/approval"
	"github.com/xynehq/jaf-sub004/internal/engine"
	"github.com/xynehq/jaf-sub004/internal/memory"
	"github.com/xynehq/jaf-sub004/internal/observability"
	"github.com/xynehq/jaf-sub004/internal/toolauth"
	"github.com/xynehq/jaf-sub004/internal/toolregistry"
)

// AgentDefinition is one entry in the Server's agent registry, resolved by
// ChatRequest.agentName (spec §6.1: "404 when agentName is unknown").
type AgentDefinition struct {
	Name     string
	Provider engine.LLMProvider
	Registry *toolregistry.Registry
}

// Server holds every dependency the HTTP boundary needs: the agent
// registry, the shared stores, and the defaults new runs start from.
type Server struct {
	Agents      map[string]AgentDefinition
	Memory      memory.Store
	Approvals   approval.Store
	AuthStore   toolauth.Store
	AuthRuntime *toolauth.Runtime
	JWT         *toolauth.JWTService

	DefaultRuntime engine.RuntimeOptions

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	broker *broker
}

// NewServer wires a Server. Logger defaults to slog.Default() when nil.
// Metrics and Tracer are optional; when nil, the corresponding
// instrumentation is skipped rather than panicking, since not every
// deployment (e.g. unit tests) wants a full observability stack wired.
func NewServer(agents map[string]AgentDefinition, mem memory.Store, approvals approval.Store, authStore toolauth.Store, authRuntime *toolauth.Runtime, jwt *toolauth.JWTService, defaultRuntime engine.RuntimeOptions, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Agents:         agents,
		Memory:         mem,
		Approvals:      approvals,
		AuthStore:      authStore,
		AuthRuntime:    authRuntime,
		JWT:            jwt,
		DefaultRuntime: defaultRuntime,
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         tracer,
		broker:         newBroker(),
	}
}

// Handler builds the routed mux (spec §6's four endpoints plus /metrics and
// /healthz, following the teacher's http_server.go layout). /metrics serves
// the default Prometheus registry, which is exactly where
// observability.NewMetrics registers s.Metrics's collectors.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/chat", s.metricsMiddleware("/chat", s.handleChat))
	mux.HandleFunc("/approvals/pending", s.metricsMiddleware("/approvals/pending", s.handleApprovalsPending))
	mux.HandleFunc("/approvals/stream", s.metricsMiddleware("/approvals/stream", s.handleApprovalsStream))
	mux.HandleFunc("/auth/submit", s.metricsMiddleware("/auth/submit", s.handleAuthSubmit))
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.Memory.HealthCheck(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "memory provider unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ListenAndServe runs the HTTP boundary on addr until ctx is cancelled,
// then shuts down gracefully (teacher's cmd/nexus/handlers_serve.go
// pattern: listen in a goroutine, select on ctx.Done() vs. the serve
// error, then Shutdown with a bounded timeout).
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
