// Package pgstore implements store.Store on PostgreSQL. It issues
// plain SQL through database/sql with the lib/pq driver; the compound
// operations run inside explicit transactions.
//
// The purge path also deletes from the product tables that reference
// an account (saved_hooks, collections, scrape_history, ...). Those
// tables belong to the wider application schema and are expected to
// exist; EnsureSchema only creates the tables this package owns.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hookscraper/auth/store"
)

// Schema creates the tables this package owns.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id                 UUID PRIMARY KEY,
    full_name          TEXT NOT NULL DEFAULT '',
    username           TEXT NOT NULL UNIQUE,
    email              TEXT NOT NULL UNIQUE,
    password_hash      TEXT NOT NULL,
    email_verified     BOOLEAN NOT NULL DEFAULT FALSE,
    verification_token TEXT NOT NULL DEFAULT '',
    two_factor_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    two_factor_secret  TEXT NOT NULL DEFAULT '',
    pending_two_factor TEXT NOT NULL DEFAULT '',
    backup_code_hashes TEXT[] NOT NULL DEFAULT '{}',
    locked             BOOLEAN NOT NULL DEFAULT FALSE,
    role               TEXT NOT NULL,
    plan_type          TEXT NOT NULL,
    last_login_at      TIMESTAMPTZ,
    last_login_ip      TEXT NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ NOT NULL,
    updated_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    id          UUID PRIMARY KEY,
    account_id  UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    ip          TEXT NOT NULL DEFAULT '',
    user_agent  TEXT NOT NULL DEFAULT '',
    location    TEXT NOT NULL DEFAULT '',
    last_active TIMESTAMPTZ NOT NULL,
    expires_at  TIMESTAMPTZ NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_account_idx ON sessions (account_id);

CREATE TABLE IF NOT EXISTS refresh_tokens (
    id          UUID PRIMARY KEY,
    account_id  UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    session_id  UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    secret_hash BYTEA NOT NULL UNIQUE,
    expires_at  TIMESTAMPTZ NOT NULL,
    revoked     BOOLEAN NOT NULL DEFAULT FALSE,
    last_used_at TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS refresh_tokens_account_idx ON refresh_tokens (account_id);
CREATE INDEX IF NOT EXISTS refresh_tokens_session_idx ON refresh_tokens (session_id);

CREATE TABLE IF NOT EXISTS password_reset_tokens (
    id          UUID PRIMARY KEY,
    account_id  UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    secret_hash BYTEA NOT NULL,
    expires_at  TIMESTAMPTZ NOT NULL,
    used        BOOLEAN NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS password_reset_tokens_account_idx ON password_reset_tokens (account_id);
`

// purgeStatements is the deletion order PurgeAccount follows:
// dependents first, the account row last.
var purgeStatements = []string{
	`DELETE FROM saved_hooks WHERE user_id = $1`,
	`DELETE FROM collection_hooks WHERE collection_id IN (SELECT id FROM collections WHERE user_id = $1)`,
	`DELETE FROM collections WHERE user_id = $1`,
	`DELETE FROM scrape_history WHERE user_id = $1`,
	`DELETE FROM activity_logs WHERE user_id = $1`,
	`DELETE FROM sessions WHERE account_id = $1`,
	`DELETE FROM refresh_tokens WHERE account_id = $1`,
	`DELETE FROM connected_accounts WHERE user_id = $1`,
	`DELETE FROM api_keys WHERE user_id = $1`,
	`DELETE FROM password_reset_tokens WHERE account_id = $1`,
	`DELETE FROM accounts WHERE id = $1`,
}

// Store implements store.Store on a *sql.DB.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the auth-owned tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("pgstore: ensure schema: %w", err)
	}
	return nil
}

func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch {
		case strings.Contains(pqErr.Constraint, "email"):
			return store.ErrEmailTaken
		case strings.Contains(pqErr.Constraint, "username"):
			return store.ErrUsernameTaken
		}
	}
	return err
}

const accountColumns = `id, full_name, username, email, password_hash, email_verified,
	verification_token, two_factor_enabled, two_factor_secret, pending_two_factor,
	backup_code_hashes, locked, role, plan_type, last_login_at, last_login_ip,
	created_at, updated_at`

// CreateAccount inserts a new account row.
func (s *Store) CreateAccount(ctx context.Context, a *store.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		a.ID, a.FullName, a.Username, a.Email, a.PasswordHash, a.EmailVerified,
		a.VerificationToken, a.TwoFactorEnabled, a.TwoFactorSecret, a.PendingTwoFactor,
		pq.Array(a.BackupCodeHashes), a.Locked, a.Role, a.PlanType,
		nullTime(a.LastLoginAt), a.LastLoginIP, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("pgstore: create account: %w", mapUniqueViolation(err))
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*store.Account, error) {
	var a store.Account
	var lastLogin sql.NullTime
	err := row.Scan(
		&a.ID, &a.FullName, &a.Username, &a.Email, &a.PasswordHash, &a.EmailVerified,
		&a.VerificationToken, &a.TwoFactorEnabled, &a.TwoFactorSecret, &a.PendingTwoFactor,
		pq.Array(&a.BackupCodeHashes), &a.Locked, &a.Role, &a.PlanType,
		&lastLogin, &a.LastLoginIP, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: scan account: %w", err)
	}
	if lastLogin.Valid {
		a.LastLoginAt = lastLogin.Time
	}
	return &a, nil
}

// AccountByID looks an account up by primary key.
func (s *Store) AccountByID(ctx context.Context, id string) (*store.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// AccountByIdentifier resolves a lowercased email or username.
func (s *Store) AccountByIdentifier(ctx context.Context, identifier string) (*store.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1 OR username = $1`, identifier))
}

// AccountByEmail resolves a lowercased email.
func (s *Store) AccountByEmail(ctx context.Context, email string) (*store.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
}

// AccountByVerificationToken resolves an account by its outstanding
// verification token.
func (s *Store) AccountByVerificationToken(ctx context.Context, token string) (*store.Account, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE verification_token = $1`, token))
}

func (s *Store) execRow(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("pgstore: %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pgstore: %s: %w", op, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdatePasswordHash replaces the stored password hash.
func (s *Store) UpdatePasswordHash(ctx context.Context, accountID, hash string) error {
	return s.execRow(ctx, "update password hash",
		`UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1`,
		accountID, hash)
}

// MarkEmailVerified sets the verified flag and drops the token.
func (s *Store) MarkEmailVerified(ctx context.Context, accountID string) error {
	return s.execRow(ctx, "mark email verified",
		`UPDATE accounts SET email_verified = TRUE, verification_token = '', updated_at = NOW() WHERE id = $1`,
		accountID)
}

// SetVerificationToken replaces the outstanding verification token.
func (s *Store) SetVerificationToken(ctx context.Context, accountID, token string) error {
	return s.execRow(ctx, "set verification token",
		`UPDATE accounts SET verification_token = $2, updated_at = NOW() WHERE id = $1`,
		accountID, token)
}

// RecordLogin stamps the last successful sign-in.
func (s *Store) RecordLogin(ctx context.Context, accountID string, at time.Time, ip string) error {
	return s.execRow(ctx, "record login",
		`UPDATE accounts SET last_login_at = $2, last_login_ip = $3, updated_at = NOW() WHERE id = $1`,
		accountID, at, ip)
}

// StageTwoFactor stores a candidate TOTP secret without enabling it.
func (s *Store) StageTwoFactor(ctx context.Context, accountID, secret string) error {
	return s.execRow(ctx, "stage two-factor",
		`UPDATE accounts SET pending_two_factor = $2, updated_at = NOW() WHERE id = $1`,
		accountID, secret)
}

// PromoteTwoFactor flips the staged secret live in one statement.
func (s *Store) PromoteTwoFactor(ctx context.Context, accountID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET two_factor_secret = pending_two_factor,
		    pending_two_factor = '',
		    two_factor_enabled = TRUE,
		    updated_at = NOW()
		WHERE id = $1 AND pending_two_factor <> ''`, accountID)
	if err != nil {
		return fmt.Errorf("pgstore: promote two-factor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pgstore: promote two-factor: %w", err)
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

// DisableTwoFactor clears every two-factor artifact on the account.
func (s *Store) DisableTwoFactor(ctx context.Context, accountID string) error {
	return s.execRow(ctx, "disable two-factor", `
		UPDATE accounts
		SET two_factor_enabled = FALSE,
		    two_factor_secret = '',
		    pending_two_factor = '',
		    backup_code_hashes = '{}',
		    updated_at = NOW()
		WHERE id = $1`, accountID)
}

// ReplaceBackupCodes swaps the full backup code set.
func (s *Store) ReplaceBackupCodes(ctx context.Context, accountID string, hashes []string) error {
	return s.execRow(ctx, "replace backup codes",
		`UPDATE accounts SET backup_code_hashes = $2, updated_at = NOW() WHERE id = $1`,
		accountID, pq.Array(hashes))
}

// ConsumeBackupCode removes the matching hash, reporting whether one
// matched. array_remove makes the removal race-free.
func (s *Store) ConsumeBackupCode(ctx context.Context, accountID, hash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET backup_code_hashes = array_remove(backup_code_hashes, $2),
		    updated_at = NOW()
		WHERE id = $1 AND $2 = ANY(backup_code_hashes)`, accountID, hash)
	if err != nil {
		return false, fmt.Errorf("pgstore: consume backup code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("pgstore: consume backup code: %w", err)
	}
	return n > 0, nil
}

// CreateSession inserts a session row.
func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, account_id, ip, user_agent, location, last_active, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		sess.ID, sess.AccountID, sess.IP, sess.UserAgent, sess.Location,
		sess.LastActive, sess.ExpiresAt, sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: create session: %w", err)
	}
	return nil
}

func scanSession(row rowScanner) (*store.Session, error) {
	var sess store.Session
	err := row.Scan(&sess.ID, &sess.AccountID, &sess.IP, &sess.UserAgent, &sess.Location,
		&sess.LastActive, &sess.ExpiresAt, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: scan session: %w", err)
	}
	return &sess, nil
}

// SessionByID fetches one session.
func (s *Store) SessionByID(ctx context.Context, id string) (*store.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, account_id, ip, user_agent, location, last_active, expires_at, created_at
		FROM sessions WHERE id = $1`, id))
}

// TouchSession bumps LastActive, leaving expiry alone.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	return s.execRow(ctx, "touch session",
		`UPDATE sessions SET last_active = $2 WHERE id = $1`, id, at)
}

// DeleteSession removes the session; its refresh tokens go with it via
// the foreign key cascade.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.execRow(ctx, "delete session",
		`DELETE FROM sessions WHERE id = $1`, id)
}

// DeleteAccountSessions removes every session of the account.
func (s *Store) DeleteAccountSessions(ctx context.Context, accountID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("pgstore: delete account sessions: %w", err)
	}
	return nil
}

// ActiveSessions lists unexpired sessions, most recently active first.
func (s *Store) ActiveSessions(ctx context.Context, accountID string, now time.Time) ([]*store.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, ip, user_agent, location, last_active, expires_at, created_at
		FROM sessions
		WHERE account_id = $1 AND expires_at > $2
		ORDER BY last_active DESC`, accountID, now)
	if err != nil {
		return nil, fmt.Errorf("pgstore: active sessions: %w", err)
	}
	defer rows.Close()

	var out []*store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: active sessions: %w", err)
	}
	return out, nil
}

// CreateRefreshToken inserts a refresh token row.
func (s *Store) CreateRefreshToken(ctx context.Context, t *store.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, account_id, session_id, secret_hash, expires_at, revoked, last_used_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.AccountID, t.SessionID, t.SecretHash[:], t.ExpiresAt, t.Revoked,
		nullTime(t.LastUsedAt), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: create refresh token: %w", err)
	}
	return nil
}

// RefreshTokenBySecretHash resolves a token by the digest of its
// secret.
func (s *Store) RefreshTokenBySecretHash(ctx context.Context, hash [32]byte) (*store.RefreshToken, error) {
	var t store.RefreshToken
	var raw []byte
	var lastUsed sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, session_id, secret_hash, expires_at, revoked, last_used_at, created_at
		FROM refresh_tokens WHERE secret_hash = $1`, hash[:]).
		Scan(&t.ID, &t.AccountID, &t.SessionID, &raw, &t.ExpiresAt, &t.Revoked, &lastUsed, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: refresh token by hash: %w", err)
	}
	copy(t.SecretHash[:], raw)
	if lastUsed.Valid {
		t.LastUsedAt = lastUsed.Time
	}
	return &t, nil
}

// MarkRefreshTokenUsed stamps the last redemption time.
func (s *Store) MarkRefreshTokenUsed(ctx context.Context, id string, at time.Time) error {
	return s.execRow(ctx, "mark refresh token used",
		`UPDATE refresh_tokens SET last_used_at = $2 WHERE id = $1`, id, at)
}

// RevokeSessionRefreshTokens marks every token of the session revoked.
func (s *Store) RevokeSessionRefreshTokens(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("pgstore: revoke session tokens: %w", err)
	}
	return nil
}

// DeleteAccountRefreshTokens removes every token of the account.
func (s *Store) DeleteAccountRefreshTokens(ctx context.Context, accountID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("pgstore: delete account tokens: %w", err)
	}
	return nil
}

// ReplaceResetToken drops prior tokens for the account and inserts the
// new one inside a transaction.
func (s *Store) ReplaceResetToken(ctx context.Context, t *store.PasswordResetToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM password_reset_tokens WHERE account_id = $1`, t.AccountID); err != nil {
		return fmt.Errorf("pgstore: drop prior reset tokens: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO password_reset_tokens (id, account_id, secret_hash, expires_at, used, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		t.ID, t.AccountID, t.SecretHash[:], t.ExpiresAt, t.Used, t.CreatedAt); err != nil {
		return fmt.Errorf("pgstore: insert reset token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgstore: commit: %w", err)
	}
	return nil
}

// OutstandingResetTokens lists unused, unexpired tokens.
func (s *Store) OutstandingResetTokens(ctx context.Context, now time.Time) ([]*store.PasswordResetToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, secret_hash, expires_at, used, created_at
		FROM password_reset_tokens
		WHERE used = FALSE AND expires_at > $1`, now)
	if err != nil {
		return nil, fmt.Errorf("pgstore: outstanding reset tokens: %w", err)
	}
	defer rows.Close()

	var out []*store.PasswordResetToken
	for rows.Next() {
		var t store.PasswordResetToken
		var raw []byte
		if err := rows.Scan(&t.ID, &t.AccountID, &raw, &t.ExpiresAt, &t.Used, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan reset token: %w", err)
		}
		copy(t.SecretHash[:], raw)
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: outstanding reset tokens: %w", err)
	}
	return out, nil
}

// ConfirmPasswordReset swaps the hash, burns the token and wipes the
// account's sessions and refresh tokens in one transaction.
func (s *Store) ConfirmPasswordReset(ctx context.Context, accountID, tokenID, newHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE password_reset_tokens SET used = TRUE
		WHERE id = $1 AND account_id = $2 AND used = FALSE`, tokenID, accountID)
	if err != nil {
		return fmt.Errorf("pgstore: burn reset token: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("pgstore: burn reset token: %w", err)
	} else if n == 0 {
		return store.ErrConflict
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1`, accountID, newHash)
	if err != nil {
		return fmt.Errorf("pgstore: update password hash: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("pgstore: update password hash: %w", err)
	} else if n == 0 {
		return store.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("pgstore: delete sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("pgstore: delete refresh tokens: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgstore: commit: %w", err)
	}
	return nil
}

// PurgeAccount deletes every row the account owns, dependents first,
// in one transaction. Any failure rolls the whole cascade back.
func (s *Store) PurgeAccount(ctx context.Context, accountID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range purgeStatements[:len(purgeStatements)-1] {
		if _, err := tx.ExecContext(ctx, stmt, accountID); err != nil {
			return fmt.Errorf("pgstore: purge account: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, purgeStatements[len(purgeStatements)-1], accountID)
	if err != nil {
		return fmt.Errorf("pgstore: purge account: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("pgstore: purge account: %w", err)
	} else if n == 0 {
		return store.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgstore: commit: %w", err)
	}
	return nil
}
