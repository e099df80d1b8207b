package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hookscraper/auth/internal/secrets"
	"github.com/hookscraper/auth/mail"
	"github.com/hookscraper/auth/password"
	"github.com/hookscraper/auth/store"
	"github.com/hookscraper/auth/token"
)

// Engine is the authentication façade. Construct it with a Builder;
// all methods are safe for concurrent use.
type Engine struct {
	cfg   Config
	store store.Store

	// sessions and refresh default to the primary store but can be a
	// separate backend (see Builder.WithSessionBackend).
	sessions     store.SessionStore
	refresh      store.RefreshTokenStore
	splitBackend bool

	codec    *token.Codec
	hasher   *password.Hasher
	totp     *totp
	mailer   mail.Sender
	attempts LoginAttemptRecorder
	log      *zap.Logger
	now      func() time.Time
	validate *validator.Validate
}

func projectUser(a *store.Account) User {
	return User{
		ID:               a.ID,
		Username:         a.Username,
		Email:            a.Email,
		EmailVerified:    a.EmailVerified,
		Role:             a.Role,
		PlanType:         a.PlanType,
		TwoFactorEnabled: a.TwoFactorEnabled,
	}
}

// account loads an account row, translating a miss to
// ErrAccountNotFound.
func (e *Engine) account(ctx context.Context, id string) (*store.Account, error) {
	a, err := e.store.AccountByID(ctx, id)
	if err == store.ErrNotFound {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load account: %w", err)
	}
	return a, nil
}

// startSession creates the session row, the refresh token bound to it
// and a fresh access token.
func (e *Engine) startSession(ctx context.Context, a *store.Account, meta ClientMeta, remember bool) (string, TokenPair, error) {
	now := e.now()
	ttl := e.cfg.Session.TTL
	if remember {
		ttl = e.cfg.Session.RememberMeTTL
	}

	sess := &store.Session{
		ID:         uuid.NewString(),
		AccountID:  a.ID,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		Location:   meta.Location,
		LastActive: now,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	if err := e.sessions.CreateSession(ctx, sess); err != nil {
		return "", TokenPair{}, fmt.Errorf("auth: create session: %w", err)
	}

	secret, err := secrets.NewToken()
	if err != nil {
		return "", TokenPair{}, err
	}
	rt := &store.RefreshToken{
		ID:         uuid.NewString(),
		AccountID:  a.ID,
		SessionID:  sess.ID,
		SecretHash: secrets.Hash(secret),
		ExpiresAt:  now.Add(e.cfg.Refresh.TTL),
		CreatedAt:  now,
	}
	if err := e.refresh.CreateRefreshToken(ctx, rt); err != nil {
		return "", TokenPair{}, fmt.Errorf("auth: create refresh token: %w", err)
	}

	access, _, err := e.codec.Issue(a.ID, token.KindAccess)
	if err != nil {
		return "", TokenPair{}, err
	}

	e.log.Info("session started",
		zap.String("account_id", a.ID),
		zap.String("session_id", sess.ID),
		zap.Bool("remember_me", remember))

	return sess.ID, TokenPair{
		AccessToken:  access,
		RefreshToken: secret,
		TokenType:    "bearer",
		ExpiresIn:    int(e.cfg.Token.AccessTTL.Seconds()),
	}, nil
}

// wipeSessionBackend clears the split session backend after a primary
// store commit that already destroyed the account's sessions there.
func (e *Engine) wipeSessionBackend(ctx context.Context, accountID string) {
	if !e.splitBackend {
		return
	}
	if err := e.sessions.DeleteAccountSessions(ctx, accountID); err != nil {
		e.log.Error("wipe sessions on split backend", zap.String("account_id", accountID), zap.Error(err))
	}
	if err := e.refresh.DeleteAccountRefreshTokens(ctx, accountID); err != nil {
		e.log.Error("wipe refresh tokens on split backend", zap.String("account_id", accountID), zap.Error(err))
	}
}

// sendMail delivers best-effort: a failed notification is logged,
// never surfaced to the caller.
func (e *Engine) sendMail(kind string, send func() error) {
	if err := send(); err != nil {
		e.log.Error("send mail", zap.String("kind", kind), zap.Error(err))
	}
}

// VerifyAccessToken checks a bearer token and returns the account id
// it was issued to. Token failures map to the engine's taxonomy.
func (e *Engine) VerifyAccessToken(tokenString string) (string, error) {
	return e.verifyToken(tokenString, token.KindAccess)
}

func (e *Engine) verifyToken(tokenString string, want token.Kind) (string, error) {
	subject, err := e.codec.Verify(tokenString, want)
	switch err {
	case nil:
		return subject, nil
	case token.ErrExpired:
		if want == token.KindTemp {
			return "", ErrTempTokenExpired
		}
		return "", ErrTokenExpired
	case token.ErrWrongKind:
		return "", ErrWrongTokenType
	default:
		return "", ErrTokenMalformed
	}
}
