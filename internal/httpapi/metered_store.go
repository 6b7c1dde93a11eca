package httpapi

import (
	"context"
	"time"

	"github.com/xynehq/jaf-sub004/internal/memory"
	"github.com/xynehq/jaf-sub004/internal/observability"
	"github.com/xynehq/jaf-sub004/pkg/models"
)

// meteredMemoryStore wraps a memory.Store so every call feeds
// observability.Metrics's database-query instrumentation and
// observability.Tracer's database-query spans, the same decorator shape as
// meteredProvider above.
type meteredMemoryStore struct {
	memory.Store
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewMeteredMemoryStore wraps store so its calls record query duration and
// outcome against metrics and tracer. Returns store unchanged when both are
// nil.
func NewMeteredMemoryStore(store memory.Store, metrics *observability.Metrics, tracer *observability.Tracer) memory.Store {
	if metrics == nil && tracer == nil {
		return store
	}
	return &meteredMemoryStore{Store: store, metrics: metrics, tracer: tracer}
}

func (m *meteredMemoryStore) observe(operation string, started time.Time, err error) {
	if m.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		m.metrics.RecordDatabaseQuery(operation, "conversations", status, time.Since(started).Seconds())
	}
}

func (m *meteredMemoryStore) span(ctx context.Context, operation string) (context.Context, func(err error)) {
	if m.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := m.tracer.TraceDatabaseQuery(ctx, operation, "conversations")
	return ctx, func(err error) {
		if err != nil {
			m.tracer.RecordError(span, err)
		}
		span.End()
	}
}

func (m *meteredMemoryStore) GetConversation(ctx context.Context, id string) (*models.ConversationRecord, bool, error) {
	started := time.Now()
	ctx, end := m.span(ctx, "select")
	record, found, err := m.Store.GetConversation(ctx, id)
	end(err)
	m.observe("select", started, err)
	return record, found, err
}

func (m *meteredMemoryStore) AppendMessages(ctx context.Context, id string, messages []models.Message, metadataPatch map[string]any) error {
	started := time.Now()
	ctx, end := m.span(ctx, "update")
	err := m.Store.AppendMessages(ctx, id, messages, metadataPatch)
	end(err)
	m.observe("update", started, err)
	return err
}

func (m *meteredMemoryStore) StoreMessages(ctx context.Context, id string, messages []models.Message, metadata map[string]any) error {
	started := time.Now()
	ctx, end := m.span(ctx, "upsert")
	err := m.Store.StoreMessages(ctx, id, messages, metadata)
	end(err)
	m.observe("upsert", started, err)
	return err
}

func (m *meteredMemoryStore) DeleteConversation(ctx context.Context, id string) (bool, error) {
	started := time.Now()
	ctx, end := m.span(ctx, "delete")
	deleted, err := m.Store.DeleteConversation(ctx, id)
	end(err)
	m.observe("delete", started, err)
	return deleted, err
}
