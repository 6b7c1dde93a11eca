package httpapi

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xynehq/jaf-sub004/internal/engine"
	"github.com/xynehq/jaf-sub004/internal/observability"
)

// meteredProvider wraps an engine.LLMProvider so every Complete call feeds
// observability.Metrics's model-request counters/histogram/token totals,
// without the engine or the provider packages themselves depending on
// internal/observability.
type meteredProvider struct {
	engine.LLMProvider
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewMeteredProvider wraps p so Complete calls feed metrics's model-request
// instrumentation and tracer's model-request spans. Returns p unchanged when
// both metrics and tracer are nil.
func NewMeteredProvider(p engine.LLMProvider, metrics *observability.Metrics, tracer *observability.Tracer) engine.LLMProvider {
	if metrics == nil && tracer == nil {
		return p
	}
	return &meteredProvider{LLMProvider: p, metrics: metrics, tracer: tracer}
}

func (m *meteredProvider) Complete(ctx context.Context, req *engine.CompletionRequest) (<-chan *engine.CompletionChunk, error) {
	var span trace.Span
	if m.tracer != nil {
		ctx, span = m.tracer.TraceModelRequest(ctx, m.Name(), req.Model)
	}

	started := time.Now()
	upstream, err := m.LLMProvider.Complete(ctx, req)
	if err != nil {
		if span != nil {
			m.tracer.RecordError(span, err)
			span.End()
		}
		if m.metrics != nil {
			m.metrics.RecordModelRequest(m.Name(), req.Model, "error", time.Since(started).Seconds(), 0, 0)
		}
		return nil, err
	}

	out := make(chan *engine.CompletionChunk)
	go func() {
		defer close(out)
		if span != nil {
			defer span.End()
		}
		for chunk := range upstream {
			out <- chunk
			switch {
			case chunk.Err != nil:
				if span != nil {
					m.tracer.RecordError(span, chunk.Err)
				}
				if m.metrics != nil {
					m.metrics.RecordModelRequest(m.Name(), req.Model, "error", time.Since(started).Seconds(), 0, 0)
				}
			case chunk.Done:
				if m.metrics != nil {
					m.metrics.RecordModelRequest(m.Name(), req.Model, "success", time.Since(started).Seconds(), chunk.InputUsage, chunk.OutputUsed)
				}
			}
		}
	}()
	return out, nil
}
