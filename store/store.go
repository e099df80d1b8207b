// Package store defines the persistence contract the engine runs on:
// the durable records for accounts, sessions, refresh tokens and
// password reset tokens, and the interfaces a backend implements.
// Backends live in the subpackages memstore, redisstore and pgstore.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports a lookup that matched no row.
	ErrNotFound = errors.New("store: not found")
	// ErrEmailTaken reports an insert that collided on email.
	ErrEmailTaken = errors.New("store: email taken")
	// ErrUsernameTaken reports an insert that collided on username.
	ErrUsernameTaken = errors.New("store: username taken")
	// ErrConflict reports an update whose precondition no longer held,
	// such as promoting a two-factor secret that was never staged.
	ErrConflict = errors.New("store: conflict")
)

// Account is the durable account row. Username and Email are stored
// lowercased; callers fold before lookups.
type Account struct {
	ID                string
	FullName          string
	Username          string
	Email             string
	PasswordHash      string
	EmailVerified     bool
	VerificationToken string // cleared on verification
	TwoFactorEnabled  bool
	TwoFactorSecret   string // base32, set only once confirmed
	PendingTwoFactor  string // base32, staged during setup
	BackupCodeHashes  []string
	Locked            bool
	Role              string
	PlanType          string
	LastLoginAt       time.Time
	LastLoginIP       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Session is one signed-in device. Expiry is a hard bound fixed at
// creation; activity updates never extend it.
type Session struct {
	ID         string
	AccountID  string
	IP         string
	UserAgent  string
	Location   string
	LastActive time.Time
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// RefreshToken is the durable record of an opaque refresh secret,
// bound to exactly one session. Only the digest of the secret is
// stored.
type RefreshToken struct {
	ID         string
	AccountID  string
	SessionID  string
	SecretHash [32]byte
	ExpiresAt  time.Time
	Revoked    bool
	LastUsedAt time.Time
	CreatedAt  time.Time
}

// PasswordResetToken holds the digest of an outstanding reset secret.
// At most one unexpired token exists per account.
type PasswordResetToken struct {
	ID         string
	AccountID  string
	SecretHash [32]byte
	ExpiresAt  time.Time
	Used       bool
	CreatedAt  time.Time
}

// AccountStore persists account rows. Mutations are atomic per call.
type AccountStore interface {
	// CreateAccount inserts a new account, failing with ErrEmailTaken
	// or ErrUsernameTaken on a uniqueness collision.
	CreateAccount(ctx context.Context, a *Account) error
	AccountByID(ctx context.Context, id string) (*Account, error)
	// AccountByIdentifier resolves a lowercased email or username.
	AccountByIdentifier(ctx context.Context, identifier string) (*Account, error)
	AccountByEmail(ctx context.Context, email string) (*Account, error)
	AccountByVerificationToken(ctx context.Context, token string) (*Account, error)

	UpdatePasswordHash(ctx context.Context, accountID, hash string) error
	// MarkEmailVerified sets the verified flag and clears the token.
	MarkEmailVerified(ctx context.Context, accountID string) error
	SetVerificationToken(ctx context.Context, accountID, token string) error
	RecordLogin(ctx context.Context, accountID string, at time.Time, ip string) error

	// StageTwoFactor stores a candidate secret without enabling it.
	StageTwoFactor(ctx context.Context, accountID, secret string) error
	// PromoteTwoFactor flips the staged secret live in one step:
	// secret becomes active, the staged copy is cleared and the
	// enabled flag is set. ErrConflict if nothing was staged.
	PromoteTwoFactor(ctx context.Context, accountID string) error
	// DisableTwoFactor clears active and staged secrets, the enabled
	// flag and all backup codes.
	DisableTwoFactor(ctx context.Context, accountID string) error
	ReplaceBackupCodes(ctx context.Context, accountID string, hashes []string) error
	// ConsumeBackupCode removes the matching hash. The second return
	// is false when no code matched.
	ConsumeBackupCode(ctx context.Context, accountID, hash string) (bool, error)
}

// SessionStore persists session rows. Deleting a session also removes
// the refresh tokens bound to it, in the same logical operation.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	SessionByID(ctx context.Context, id string) (*Session, error)
	// TouchSession bumps LastActive without moving ExpiresAt.
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteAccountSessions(ctx context.Context, accountID string) error
	// ActiveSessions lists unexpired sessions, most recently active
	// first.
	ActiveSessions(ctx context.Context, accountID string, now time.Time) ([]*Session, error)
}

// RefreshTokenStore persists refresh token rows.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, t *RefreshToken) error
	RefreshTokenBySecretHash(ctx context.Context, hash [32]byte) (*RefreshToken, error)
	MarkRefreshTokenUsed(ctx context.Context, id string, at time.Time) error
	RevokeSessionRefreshTokens(ctx context.Context, sessionID string) error
	DeleteAccountRefreshTokens(ctx context.Context, accountID string) error
}

// ResetTokenStore persists password reset tokens.
type ResetTokenStore interface {
	// ReplaceResetToken removes any prior tokens for the account and
	// inserts t, as one operation.
	ReplaceResetToken(ctx context.Context, t *PasswordResetToken) error
	// OutstandingResetTokens lists unused, unexpired tokens across all
	// accounts. Matching against a presented secret happens in the
	// engine so the comparison can be constant time.
	OutstandingResetTokens(ctx context.Context, now time.Time) ([]*PasswordResetToken, error)
}

// Store is the full contract. The two compound operations exist
// because their steps must commit or fail as a unit.
type Store interface {
	AccountStore
	SessionStore
	RefreshTokenStore
	ResetTokenStore

	// ConfirmPasswordReset replaces the password hash, marks the reset
	// token used and destroys every session and refresh token of the
	// account, atomically.
	ConfirmPasswordReset(ctx context.Context, accountID, tokenID, newHash string) error

	// PurgeAccount deletes the account row and every row owned by the
	// account, in dependency order, atomically. A failure partway
	// leaves everything in place.
	PurgeAccount(ctx context.Context, accountID string) error
}
