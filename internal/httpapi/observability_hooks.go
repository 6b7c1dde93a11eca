package httpapi

import (
	"time"

	"github.com/xynehq/jaf-sub004/internal/engine"
)

// runHooks builds the engine.RunHooks that feed a single run's lifecycle
// into s.Metrics, scoped to agentName so RunFinished's agent_name label is
// correct for this run regardless of what else is running concurrently.
// Returns a zero-value RunHooks (every field nil) when s.Metrics is unset.
func (s *Server) runHooks(agentName string) engine.RunHooks {
	if s.Metrics == nil {
		return engine.RunHooks{}
	}

	s.Metrics.RunStarted(agentName)
	started := time.Now()

	return engine.RunHooks{
		OnToolResult: func(_, toolName string, isError bool) {
			status := "success"
			if isError {
				status = "error"
			}
			s.Metrics.RecordToolExecution(toolName, status, 0)
		},
		OnError: func(err error) {
			s.Metrics.RecordError("engine", "run_error")
		},
		OnRunEnd: func(status string, turnCount int) {
			s.Metrics.RunFinished(agentName, status, time.Since(started).Seconds(), turnCount)
		},
	}
}
