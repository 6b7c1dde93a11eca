package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xynehq/jaf-sub004/pkg/models"
)

// SQLStore is a Store backed by a database/sql connection (github.com/lib/pq
// for Postgres, or modernc.org/sqlite). Conversation messages and metadata
// are stored as JSON blobs under a single-row-per-conversation table;
// atomicity per conversationId comes from the backend's own transaction
// rather than an in-process mutex, so SQLStore needs no LockingStore wrapper.
type SQLStore struct {
	db        *sql.DB
	retention RetentionPolicy
}

// NewSQLStore wraps an already-open *sql.DB. retention is applied on every
// write, same as MemoryStore.
func NewSQLStore(db *sql.DB, retention RetentionPolicy) *SQLStore {
	return &SQLStore{db: db, retention: retention}
}

// Schema is the DDL required by SQLStore. Applied by cmd's migrate command.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
	conversation_id TEXT PRIMARY KEY,
	messages        TEXT NOT NULL DEFAULT '[]',
	metadata        TEXT NOT NULL DEFAULT '{}',
	updated_at      TIMESTAMP NOT NULL
);
`

func (s *SQLStore) GetConversation(ctx context.Context, id string) (*models.ConversationRecord, bool, error) {
	var messagesJSON, metadataJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages, metadata FROM conversations WHERE conversation_id = $1`, id,
	).Scan(&messagesJSON, &metadataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memory: get conversation %s: %w", id, err)
	}

	var messages []models.Message
	if err := json.Unmarshal([]byte(messagesJSON), &messages); err != nil {
		return nil, false, fmt.Errorf("memory: get conversation %s: decode messages: %w", id, err)
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
		return nil, false, fmt.Errorf("memory: get conversation %s: decode metadata: %w", id, err)
	}
	return &models.ConversationRecord{ID: id, Messages: messages, Metadata: metadata}, true, nil
}

// AppendMessages reads-merges-writes inside a transaction: the row lock the
// backend takes on SELECT ... FOR UPDATE (Postgres) or the implicit
// transaction isolation (SQLite) is what makes this atomic per conversation,
// same contract the in-memory LockingStore provides via an explicit mutex.
func (s *SQLStore) AppendMessages(ctx context.Context, id string, messages []models.Message, metadataPatch map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: append %s: begin: %w", id, err)
	}
	defer tx.Rollback() //nolint:errcheck

	existingMessages, existingMetadata, err := selectForUpdate(ctx, tx, id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("memory: append %s: lookup: %w", id, err)
	}

	merged := append(existingMessages, messages...)
	merged = applyRetention(merged, s.retention)
	mergedMetadata := mergeMetadata(existingMetadata, metadataPatch)

	if err := upsertConversation(ctx, tx, id, merged, mergedMetadata); err != nil {
		return fmt.Errorf("memory: append %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLStore) StoreMessages(ctx context.Context, id string, messages []models.Message, metadata map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: store %s: begin: %w", id, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := upsertConversation(ctx, tx, id, applyRetention(messages, s.retention), metadata); err != nil {
		return fmt.Errorf("memory: store %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLStore) DeleteConversation(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE conversation_id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("memory: delete %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("memory: delete %s: %w", id, err)
	}
	return affected > 0, nil
}

func (s *SQLStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func selectForUpdate(ctx context.Context, tx *sql.Tx, id string) ([]models.Message, map[string]any, error) {
	var messagesJSON, metadataJSON string
	err := tx.QueryRowContext(ctx,
		`SELECT messages, metadata FROM conversations WHERE conversation_id = $1`, id,
	).Scan(&messagesJSON, &metadataJSON)
	if err != nil {
		return nil, nil, err
	}
	var messages []models.Message
	if err := json.Unmarshal([]byte(messagesJSON), &messages); err != nil {
		return nil, nil, err
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
		return nil, nil, err
	}
	return messages, metadata, nil
}

func upsertConversation(ctx context.Context, tx *sql.Tx, id string, messages []models.Message, metadata map[string]any) error {
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, messages, metadata, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id) DO UPDATE SET
			messages = excluded.messages,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, id, string(messagesJSON), string(metadataJSON), time.Now())
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}
