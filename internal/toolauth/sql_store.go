package toolauth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLStore is a Store backed by database/sql, portable across
// github.com/lib/pq (Postgres) and modernc.org/sqlite, matching
// internal/approval.SQLStore's approach: one schema, driver chosen by the
// caller's DSN.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an already-open *sql.DB.
func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

// Schema is the DDL required by SQLStore. Applied by cmd's migrate command.
const Schema = `
CREATE TABLE IF NOT EXISTS auth_configs (
	auth_key      TEXT PRIMARY KEY,
	scheme        TEXT NOT NULL,
	raw           TEXT NOT NULL DEFAULT '',
	pkce_verifier TEXT NOT NULL DEFAULT '',
	csrf_state    TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS auth_tokens (
	auth_key      TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type    TEXT NOT NULL DEFAULT '',
	expires_at    TIMESTAMP
);
CREATE TABLE IF NOT EXISTS auth_responses (
	auth_key          TEXT PRIMARY KEY,
	auth_response_uri TEXT NOT NULL,
	redirect_uri      TEXT NOT NULL DEFAULT '',
	deposited_at      TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS auth_pending (
	session_id    TEXT NOT NULL,
	tool_call_id  TEXT NOT NULL,
	auth_key      TEXT NOT NULL,
	put_at        TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, tool_call_id)
);
`

func (s *SQLStore) GetConfig(ctx context.Context, authKey string) (*CredentialConfig, error) {
	var cfg CredentialConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT scheme, raw, pkce_verifier, csrf_state FROM auth_configs WHERE auth_key = $1`, authKey,
	).Scan(&cfg.Scheme, &cfg.Raw, &cfg.PKCEVerifier, &cfg.CSRFState)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("toolauth: get config %s: %w", authKey, err)
	}
	return &cfg, nil
}

func (s *SQLStore) PutConfig(ctx context.Context, authKey string, cfg *CredentialConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_configs (auth_key, scheme, raw, pkce_verifier, csrf_state)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (auth_key) DO UPDATE SET
			scheme = excluded.scheme, raw = excluded.raw,
			pkce_verifier = excluded.pkce_verifier, csrf_state = excluded.csrf_state
	`, authKey, cfg.Scheme, cfg.Raw, cfg.PKCEVerifier, cfg.CSRFState)
	if err != nil {
		return fmt.Errorf("toolauth: put config %s: %w", authKey, err)
	}
	return nil
}

func (s *SQLStore) GetTokens(ctx context.Context, authKey string) (*ExchangedCredential, error) {
	var tok ExchangedCredential
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, token_type, expires_at FROM auth_tokens WHERE auth_key = $1`, authKey,
	).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("toolauth: get tokens %s: %w", authKey, err)
	}
	if expiresAt.Valid {
		tok.ExpiresAt = expiresAt.Time
	}
	return &tok, nil
}

func (s *SQLStore) PutTokens(ctx context.Context, authKey string, tok *ExchangedCredential) error {
	var expiresAt any
	if !tok.ExpiresAt.IsZero() {
		expiresAt = tok.ExpiresAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_tokens (auth_key, access_token, refresh_token, token_type, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (auth_key) DO UPDATE SET
			access_token = excluded.access_token, refresh_token = excluded.refresh_token,
			token_type = excluded.token_type, expires_at = excluded.expires_at
	`, authKey, tok.AccessToken, tok.RefreshToken, tok.TokenType, expiresAt)
	if err != nil {
		return fmt.Errorf("toolauth: put tokens %s: %w", authKey, err)
	}
	return nil
}

func (s *SQLStore) ClearTokens(ctx context.Context, authKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE auth_key = $1`, authKey)
	if err != nil {
		return fmt.Errorf("toolauth: clear tokens %s: %w", authKey, err)
	}
	return nil
}

func (s *SQLStore) ConsumeAuthResponse(ctx context.Context, authKey string) (*AuthResponse, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("toolauth: consume auth response %s: %w", authKey, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var resp AuthResponse
	err = tx.QueryRowContext(ctx,
		`SELECT auth_response_uri, redirect_uri, deposited_at FROM auth_responses WHERE auth_key = $1`, authKey,
	).Scan(&resp.AuthResponseURI, &resp.RedirectURI, &resp.DepositedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("toolauth: consume auth response %s: %w", authKey, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM auth_responses WHERE auth_key = $1`, authKey); err != nil {
		return nil, fmt.Errorf("toolauth: consume auth response %s: %w", authKey, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("toolauth: consume auth response %s: %w", authKey, err)
	}
	return &resp, nil
}

func (s *SQLStore) PutAuthResponse(ctx context.Context, authKey string, resp *AuthResponse) error {
	if resp.DepositedAt.IsZero() {
		resp.DepositedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_responses (auth_key, auth_response_uri, redirect_uri, deposited_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (auth_key) DO UPDATE SET
			auth_response_uri = excluded.auth_response_uri,
			redirect_uri = excluded.redirect_uri,
			deposited_at = excluded.deposited_at
	`, authKey, resp.AuthResponseURI, resp.RedirectURI, resp.DepositedAt)
	if err != nil {
		return fmt.Errorf("toolauth: put auth response %s: %w", authKey, err)
	}
	return nil
}

func (s *SQLStore) PutPending(ctx context.Context, sessionID, toolCallID, authKey string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_pending (session_id, tool_call_id, auth_key, put_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, tool_call_id) DO UPDATE SET auth_key = excluded.auth_key, put_at = excluded.put_at
	`, sessionID, toolCallID, authKey, time.Now())
	if err != nil {
		return fmt.Errorf("toolauth: put pending %s/%s: %w", sessionID, toolCallID, err)
	}
	return nil
}

func (s *SQLStore) ResolvePending(ctx context.Context, sessionID, toolCallID string) (string, error) {
	var authKey string
	err := s.db.QueryRowContext(ctx,
		`SELECT auth_key FROM auth_pending WHERE session_id = $1 AND tool_call_id = $2`, sessionID, toolCallID,
	).Scan(&authKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("toolauth: resolve pending %s/%s: %w", sessionID, toolCallID, err)
	}
	return authKey, nil
}

func (s *SQLStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	var pruned int64
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_responses WHERE deposited_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("toolauth: prune auth responses: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		pruned += n
	}
	res, err = s.db.ExecContext(ctx, `DELETE FROM auth_pending WHERE put_at < $1`, cutoff)
	if err != nil {
		return pruned, fmt.Errorf("toolauth: prune pending: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		pruned += n
	}
	return pruned, nil
}
