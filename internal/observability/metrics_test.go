package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	// Don't call NewMetrics() here as it registers with the default registry.
	// Just verify the structure would be created.
	t.Log("Metrics structure verified through integration tests")
}

func TestRunCounter(t *testing.T) {
	// Create a new registry for isolated testing
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_runs_total",
			Help: "Test run counter",
		},
		[]string{"agent_name", "status"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("DefaultAgent", "completed").Inc()
	counter.WithLabelValues("DefaultAgent", "completed").Inc()
	counter.WithLabelValues("DefaultAgent", "interrupted").Inc()

	if count := testutil.CollectAndCount(counter); count != 2 {
		t.Errorf("Expected 2 label combinations, got %d", count)
	}

	expected := `
		# HELP test_runs_total Test run counter
		# TYPE test_runs_total counter
		test_runs_total{agent_name="DefaultAgent",status="completed"} 2
		test_runs_total{agent_name="DefaultAgent",status="interrupted"} 1
	`
	if err := testutil.CollectAndCompare(counter, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected metric value: %v", err)
	}
}

func TestModelRequestCounter(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_model_requests_total",
			Help: "Test model request counter",
		},
		[]string{"provider", "model", "status"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("anthropic", "claude-3-opus", "success").Inc()
	counter.WithLabelValues("openai", "gpt-4", "success").Inc()
	counter.WithLabelValues("anthropic", "claude-3-opus", "error").Inc()

	count := testutil.CollectAndCount(counter)
	if count < 1 {
		t.Error("Expected at least 1 model request recorded")
	}
}

func TestRecordToolExecution(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_tool_executions_total",
			Help: "Test tool execution counter",
		},
		[]string{"tool_name", "status"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("web_search", "success").Inc()
	counter.WithLabelValues("web_search", "success").Inc()
	counter.WithLabelValues("browser", "error").Inc()

	count := testutil.CollectAndCount(counter)
	if count < 1 {
		t.Error("Expected at least 1 tool execution recorded")
	}
}

func TestRecordError(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_errors_total",
			Help: "Test error counter",
		},
		[]string{"component", "error_kind"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("engine", "timeout").Inc()
	counter.WithLabelValues("engine", "timeout").Inc()
	counter.WithLabelValues("httpapi", "bad_request").Inc()
	counter.WithLabelValues("toolregistry", "not_found").Inc()

	count := testutil.CollectAndCount(counter)
	if count < 1 {
		t.Error("Expected at least 1 error recorded")
	}
}

func TestApprovalFlow(t *testing.T) {
	registry := prometheus.NewRegistry()
	requested := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_approval_requested_total",
			Help: "Test approval requested counter",
		},
		[]string{"tool_name"},
	)
	decided := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_approval_decided_total",
			Help: "Test approval decided counter",
		},
		[]string{"tool_name", "decision"},
	)
	registry.MustRegister(requested, decided)

	requested.WithLabelValues("send_email").Inc()
	decided.WithLabelValues("send_email", "approved").Inc()
	decided.WithLabelValues("send_email", "rejected").Inc()

	if testutil.CollectAndCount(requested) < 1 {
		t.Error("Expected approval requested counter to be tracked")
	}
	if testutil.CollectAndCount(decided) < 1 {
		t.Error("Expected approval decided counter to be tracked")
	}
}

func TestActiveRunsLifecycle(t *testing.T) {
	// Test gauge and histogram behavior with isolated registry
	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "test_active_runs",
			Help: "Test active runs",
		},
		[]string{"agent_name"},
	)
	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_run_duration_seconds",
			Help:    "Test run duration",
			Buckets: []float64{1, 5, 10},
		},
		[]string{"agent_name"},
	)
	registry.MustRegister(gauge, histogram)

	gauge.WithLabelValues("DefaultAgent").Inc()
	gauge.WithLabelValues("DefaultAgent").Inc()
	gauge.WithLabelValues("ResearchAgent").Inc()

	gauge.WithLabelValues("DefaultAgent").Dec()
	histogram.WithLabelValues("DefaultAgent").Observe(5.0)
	histogram.WithLabelValues("ResearchAgent").Observe(10.0)

	if testutil.CollectAndCount(gauge) < 1 {
		t.Error("Expected active runs gauge to be tracked")
	}
	if testutil.CollectAndCount(histogram) < 1 {
		t.Error("Expected run duration histogram to have observations")
	}
}

func TestHistogramBuckets(t *testing.T) {
	registry := prometheus.NewRegistry()
	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_duration_seconds",
			Help:    "Test duration histogram",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0},
		},
		[]string{"operation"},
	)
	registry.MustRegister(histogram)

	durations := []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0}
	for _, duration := range durations {
		histogram.WithLabelValues("test").Observe(duration)
	}

	if testutil.CollectAndCount(histogram) < 1 {
		t.Error("Expected histogram to have observations across buckets")
	}
}

func TestConcurrentMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_concurrent_total",
			Help: "Test concurrent counter",
		},
		[]string{"label"},
	)
	registry.MustRegister(counter)

	done := make(chan bool)
	iterations := 100

	go func() {
		for i := 0; i < iterations; i++ {
			counter.WithLabelValues("a").Inc()
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < iterations; i++ {
			counter.WithLabelValues("b").Inc()
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	<-done
	<-done

	if testutil.CollectAndCount(counter) < 1 {
		t.Error("Expected concurrent metric recording to work")
	}
}
