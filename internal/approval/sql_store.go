package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xynehq/jaf-sub004/pkg/models"
)

// SQLStore is a Store backed by a database/sql connection. It works
// against both github.com/lib/pq (Postgres) and modernc.org/sqlite,
// selected by the caller's driver/DSN; the schema is deliberately
// portable (no Postgres- or SQLite-specific types).
//
// Atomicity is per-key (conversationId, toolCallId) via the schema's
// primary key plus a single-statement upsert — no in-process mutex is
// needed because the backend provides the transaction.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an already-open *sql.DB. Callers are responsible for
// opening it with the appropriate driver ("postgres" via lib/pq, or
// "sqlite" via modernc.org/sqlite).
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Schema is the DDL required by SQLStore. Applied by cmd's migrate command.
const Schema = `
CREATE TABLE IF NOT EXISTS approval_entries (
	conversation_id TEXT NOT NULL,
	tool_call_id    TEXT NOT NULL,
	status          TEXT NOT NULL,
	tool_name       TEXT NOT NULL DEFAULT '',
	signature       TEXT NOT NULL DEFAULT '',
	additional_ctx  TEXT NOT NULL DEFAULT '{}',
	recorded_at     TIMESTAMP NOT NULL,
	PRIMARY KEY (conversation_id, tool_call_id)
);
CREATE INDEX IF NOT EXISTS idx_approval_entries_signature ON approval_entries (conversation_id, signature);
`

func (s *SQLStore) Get(ctx context.Context, conversationID string) (map[string]models.ApprovalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_call_id, status, tool_name, signature, additional_ctx, recorded_at
		 FROM approval_entries WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("approval: get %s: %w", conversationID, err)
	}
	defer rows.Close()

	out := make(map[string]models.ApprovalEntry)
	for rows.Next() {
		var id string
		var entry models.ApprovalEntry
		var ctxJSON string
		if err := rows.Scan(&id, &entry.Status, &entry.ToolName, &entry.Signature, &ctxJSON, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("approval: scan %s: %w", conversationID, err)
		}
		if ctxJSON != "" && ctxJSON != "{}" {
			_ = json.Unmarshal([]byte(ctxJSON), &entry.AdditionalContext)
		}
		out[id] = entry
	}
	return out, rows.Err()
}

func (s *SQLStore) Record(ctx context.Context, conversationID, toolCallID string, entry models.ApprovalEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("approval: record %s/%s: begin: %w", conversationID, toolCallID, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existingStatus, existingCtxJSON string
	var existingTime time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT status, additional_ctx, recorded_at FROM approval_entries
		 WHERE conversation_id = $1 AND tool_call_id = $2`, conversationID, toolCallID,
	).Scan(&existingStatus, &existingCtxJSON, &existingTime)

	var existingCtx map[string]any
	if err == nil {
		if existingCtxJSON != "" {
			_ = json.Unmarshal([]byte(existingCtxJSON), &existingCtx)
		}
		if models.ApprovalStatus(existingStatus) == entry.Status && contextEqual(existingCtx, entry.AdditionalContext) {
			entry.Timestamp = existingTime
		}
		entry.AdditionalContext = mergeContext(existingCtx, entry.AdditionalContext)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("approval: record %s/%s: lookup: %w", conversationID, toolCallID, err)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	ctxJSON, err := json.Marshal(entry.AdditionalContext)
	if err != nil {
		return fmt.Errorf("approval: record %s/%s: marshal context: %w", conversationID, toolCallID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO approval_entries (conversation_id, tool_call_id, status, tool_name, signature, additional_ctx, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (conversation_id, tool_call_id) DO UPDATE SET
			status = excluded.status,
			tool_name = excluded.tool_name,
			signature = excluded.signature,
			additional_ctx = excluded.additional_ctx,
			recorded_at = excluded.recorded_at
	`, conversationID, toolCallID, string(entry.Status), entry.ToolName, entry.Signature, string(ctxJSON), entry.Timestamp)
	if err != nil {
		return fmt.Errorf("approval: record %s/%s: upsert: %w", conversationID, toolCallID, err)
	}
	return tx.Commit()
}

func (s *SQLStore) SignatureIndex(ctx context.Context, conversationID string) (map[string]models.ApprovalEntry, error) {
	all, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	index := make(map[string]models.ApprovalEntry, len(all))
	for _, entry := range all {
		if entry.Signature != "" {
			index[entry.Signature] = entry
		}
	}
	return index, nil
}

func (s *SQLStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM approval_entries WHERE status = $1 AND recorded_at < $2`,
		string(models.ApprovalPending), cutoff)
	if err != nil {
		return 0, fmt.Errorf("approval: prune: %w", err)
	}
	return res.RowsAffected()
}
