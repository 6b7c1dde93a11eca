package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xynehq/jaf-sub004/pkg/models"
)

// ErrStoreFailure marks a failure on a read path or on message persistence
// itself — spec §7's StoreFailure classification, which always surfaces
// rather than being swallowed. Metadata-merge write-path failures are
// swallowed per SPEC_FULL.md's Open Question Decision #1 and therefore
// never wrapped in ErrStoreFailure.
var ErrStoreFailure = errors.New("memory: store failure")

type conversationEntry struct {
	messages []models.Message
	metadata map[string]any
}

// MemoryStore is an in-memory Store, suitable for tests and local runs.
// Every read and write deep-clones message/metadata slices and maps so
// callers can never observe or corrupt another caller's view — grounded on
// the teacher's cloneSession/cloneMessage discipline.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*conversationEntry
	retention     RetentionPolicy
}

// NewMemoryStore returns an empty in-memory conversation store. A zero-value
// RetentionPolicy disables eviction.
func NewMemoryStore(retention RetentionPolicy) *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*conversationEntry),
		retention:     retention,
	}
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (*models.ConversationRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.conversations[id]
	if !ok {
		return nil, false, nil
	}
	return &models.ConversationRecord{
		ID:       id,
		Messages: cloneMessages(entry.messages),
		Metadata: deepCloneMap(entry.metadata),
	}, true, nil
}

func (m *MemoryStore) AppendMessages(_ context.Context, id string, messages []models.Message, metadataPatch map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.conversations[id]
	if !ok {
		entry = &conversationEntry{metadata: map[string]any{}}
		m.conversations[id] = entry
	}
	entry.messages = append(entry.messages, cloneMessages(messages)...)
	entry.messages = applyRetention(entry.messages, m.retention)
	// Metadata merge is the write path SPEC_FULL.md's Open Question
	// Decision #1 scopes the storeFailure-swallow policy to; mergeMetadata
	// cannot itself fail against an in-memory map, so there is nothing to
	// swallow here, but a SQL-backed Store's equivalent step is where a
	// failure would be logged and ignored rather than surfaced.
	entry.metadata = mergeMetadata(entry.metadata, metadataPatch)
	return nil
}

func (m *MemoryStore) StoreMessages(_ context.Context, id string, messages []models.Message, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[id] = &conversationEntry{
		messages: applyRetention(cloneMessages(messages), m.retention),
		metadata: deepCloneMap(metadata),
	}
	return nil
}

func (m *MemoryStore) DeleteConversation(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.conversations[id]
	delete(m.conversations, id)
	return existed, nil
}

func (m *MemoryStore) HealthCheck(_ context.Context) error { return nil }

// mergeMetadata shallow-merges patch onto base, except for
// models.ToolApprovalsMetadataKey, which spec §4.5 singles out as a
// declared nested map merged one level deeper instead of replaced wholesale.
func mergeMetadata(base, patch map[string]any) map[string]any {
	if base == nil && patch == nil {
		return nil
	}
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if k == models.ToolApprovalsMetadataKey {
			out[k] = mergeNestedMap(asMap(out[k]), asMap(v))
			continue
		}
		out[k] = v
	}
	return out
}

func mergeNestedMap(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func deepCloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = deepCloneValue(v)
	}
	return clone
}

func deepCloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCloneMap(val)
	case []any:
		cloned := make([]any, len(val))
		for i, item := range val {
			cloned[i] = deepCloneValue(item)
		}
		return cloned
	case []string:
		cloned := make([]string, len(val))
		copy(cloned, val)
		return cloned
	default:
		return v
	}
}

func cloneMessages(messages []models.Message) []models.Message {
	if messages == nil {
		return nil
	}
	out := make([]models.Message, len(messages))
	for i, msg := range messages {
		out[i] = cloneMessage(msg)
	}
	return out
}

func cloneMessage(msg models.Message) models.Message {
	clone := msg
	if len(msg.Parts) > 0 {
		clone.Parts = append([]models.ContentPart{}, msg.Parts...)
	}
	if len(msg.ToolCalls) > 0 {
		clone.ToolCalls = append([]models.ToolCall{}, msg.ToolCalls...)
	}
	if len(msg.Attachments) > 0 {
		clone.Attachments = append([]models.Attachment{}, msg.Attachments...)
	}
	if msg.Metadata != nil {
		clone.Metadata = deepCloneMap(msg.Metadata)
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	return clone
}
