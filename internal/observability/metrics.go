package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting Run Engine
// metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Run outcomes and durations (spec §4.1's RunOutcomeStatus)
//   - Model request performance and token consumption (spec §4.2)
//   - Tool execution patterns and latencies (spec §4.3)
//   - Approval and tool-auth interruption flow (spec §4.4, §4.5)
//   - HTTP boundary and SQL store latency (spec §6)
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RunStarted("DefaultAgent")
//	defer metrics.ModelRequestDuration("anthropic", "claude-3-opus").Observe(time.Since(start).Seconds())
type Metrics struct {
	// RunCounter tracks runs by agent and outcome.
	// Labels: agent_name, status (completed|error|interrupted)
	RunCounter *prometheus.CounterVec

	// RunDuration measures run wall-clock time in seconds.
	// Labels: agent_name
	// Buckets: 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s, 300s
	RunDuration *prometheus.HistogramVec

	// RunTurns measures the number of turns a run took to reach an outcome.
	// Labels: agent_name
	RunTurns *prometheus.HistogramVec

	// ActiveRuns is a gauge tracking runs currently executing.
	// Labels: agent_name
	ActiveRuns *prometheus.GaugeVec

	// ModelRequestDuration measures model-provider call latency in seconds.
	// Labels: provider (anthropic|openai), model
	ModelRequestDuration *prometheus.HistogramVec

	// ModelRequestCounter counts model requests by provider, model, and status.
	ModelRequestCounter *prometheus.CounterVec

	// ModelTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	ModelTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and error kind.
	// Labels: component (engine|toolregistry|httpapi|memory), error_kind
	ErrorCounter *prometheus.CounterVec

	// ApprovalRequested counts tool calls that required approval.
	// Labels: tool_name
	ApprovalRequested *prometheus.CounterVec

	// ApprovalDecided counts approval decisions.
	// Labels: tool_name, decision (approved|rejected)
	ApprovalDecided *prometheus.CounterVec

	// AuthRequired counts tool calls that required out-of-band tool auth.
	// Labels: tool_name, scheme_type
	AuthRequired *prometheus.CounterVec

	// AuthResolved counts auth responses deposited via /auth/submit.
	AuthResolved *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP boundary request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	HTTPRequestCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures SQL store query latency.
	// Labels: operation (select|insert|update|delete), table
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts SQL store queries.
	DatabaseQueryCounter *prometheus.CounterVec

	// PrunedEntries counts rows removed by periodic approval/auth pruning.
	// Labels: store (approval|toolauth)
	PrunedEntries *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and are served at the /metrics endpoint via promhttp.Handler (internal/httpapi).
func NewMetrics() *Metrics {
	return &Metrics{
		RunCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_runs_total",
				Help: "Total number of runs by agent name and outcome status",
			},
			[]string{"agent_name", "status"},
		),

		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runengine_run_duration_seconds",
				Help:    "Wall-clock duration of runs in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"agent_name"},
		),

		RunTurns: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runengine_run_turns",
				Help:    "Number of turns a run took to reach its outcome",
				Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20},
			},
			[]string{"agent_name"},
		),

		ActiveRuns: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "runengine_active_runs",
				Help: "Current number of runs in progress by agent name",
			},
			[]string{"agent_name"},
		),

		ModelRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runengine_model_request_duration_seconds",
				Help:    "Duration of model provider requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ModelRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_model_requests_total",
				Help: "Total number of model requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ModelTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_model_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runengine_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_errors_total",
				Help: "Total number of errors by component and error kind",
			},
			[]string{"component", "error_kind"},
		),

		ApprovalRequested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_approval_requested_total",
				Help: "Total number of tool calls that required approval",
			},
			[]string{"tool_name"},
		),

		ApprovalDecided: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_approval_decided_total",
				Help: "Total number of approval decisions by tool name and decision",
			},
			[]string{"tool_name", "decision"},
		),

		AuthRequired: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_auth_required_total",
				Help: "Total number of tool calls that required out-of-band tool auth",
			},
			[]string{"tool_name", "scheme_type"},
		),

		AuthResolved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_auth_resolved_total",
				Help: "Total number of auth responses deposited via /auth/submit",
			},
			[]string{},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runengine_http_request_duration_seconds",
				Help:    "Duration of HTTP boundary requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_http_requests_total",
				Help: "Total number of HTTP boundary requests",
			},
			[]string{"method", "path", "status_code"},
		),

		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "runengine_database_query_duration_seconds",
				Help:    "Duration of SQL store queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		DatabaseQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_database_queries_total",
				Help: "Total number of SQL store queries",
			},
			[]string{"operation", "table", "status"},
		),

		PrunedEntries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "runengine_pruned_entries_total",
				Help: "Total number of expired rows removed by periodic pruning",
			},
			[]string{"store"},
		),
	}
}

// RunStarted increments the active-runs gauge for agentName.
func (m *Metrics) RunStarted(agentName string) {
	m.ActiveRuns.WithLabelValues(agentName).Inc()
}

// RunFinished records a run's terminal outcome: decrements the active-runs
// gauge and records its status, duration, and turn count.
func (m *Metrics) RunFinished(agentName, status string, durationSeconds float64, turnCount int) {
	m.ActiveRuns.WithLabelValues(agentName).Dec()
	m.RunCounter.WithLabelValues(agentName, status).Inc()
	m.RunDuration.WithLabelValues(agentName).Observe(durationSeconds)
	m.RunTurns.WithLabelValues(agentName).Observe(float64(turnCount))
}

// RecordModelRequest records metrics for a model provider request.
func (m *Metrics) RecordModelRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.ModelRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ModelRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error kind.
func (m *Metrics) RecordError(component, errorKind string) {
	m.ErrorCounter.WithLabelValues(component, errorKind).Inc()
}

// RecordApprovalRequested records that a tool call required approval.
func (m *Metrics) RecordApprovalRequested(toolName string) {
	m.ApprovalRequested.WithLabelValues(toolName).Inc()
}

// RecordApprovalDecision records an approval decision ("approved" or "rejected").
func (m *Metrics) RecordApprovalDecision(toolName, decision string) {
	m.ApprovalDecided.WithLabelValues(toolName, decision).Inc()
}

// RecordAuthRequired records that a tool call required out-of-band tool auth.
func (m *Metrics) RecordAuthRequired(toolName, schemeType string) {
	m.AuthRequired.WithLabelValues(toolName, schemeType).Inc()
}

// RecordAuthResolved records a deposited auth response.
func (m *Metrics) RecordAuthResolved() {
	m.AuthResolved.WithLabelValues().Inc()
}

// RecordHTTPRequest records metrics for an HTTP boundary request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordDatabaseQuery records metrics for a SQL store query.
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}

// RecordPruned records rows removed by a periodic prune pass.
func (m *Metrics) RecordPruned(store string, count int) {
	if count <= 0 {
		return
	}
	m.PrunedEntries.WithLabelValues(store).Add(float64(count))
}
