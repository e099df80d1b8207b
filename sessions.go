package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hookscraper/auth/password"
	"github.com/hookscraper/auth/store"
)

// uaDeviceLimit truncates user agent strings for the devices page.
const uaDeviceLimit = 50

// SignOut destroys exactly the current session and the refresh tokens
// bound to it. Other devices stay signed in.
func (e *Engine) SignOut(ctx context.Context, sessionID string) error {
	err := e.sessions.DeleteSession(ctx, sessionID)
	if err == store.ErrNotFound {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("auth: delete session: %w", err)
	}
	e.log.Info("signed out", zap.String("session_id", sessionID))
	return nil
}

// SignOutAll destroys every session and refresh token of the account.
// It re-authenticates with the password first.
func (e *Engine) SignOutAll(ctx context.Context, accountID, currentPassword string) error {
	acct, err := e.account(ctx, accountID)
	if err != nil {
		return err
	}
	if err := e.hasher.Verify(currentPassword, acct.PasswordHash); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("auth: verify password: %w", err)
	}

	if err := e.sessions.DeleteAccountSessions(ctx, accountID); err != nil {
		return fmt.Errorf("auth: delete sessions: %w", err)
	}
	if err := e.refresh.DeleteAccountRefreshTokens(ctx, accountID); err != nil {
		return fmt.Errorf("auth: delete refresh tokens: %w", err)
	}
	e.log.Info("signed out everywhere", zap.String("account_id", accountID))
	return nil
}

// Sessions lists the account's active sessions, most recently active
// first, flagging the one the caller is on.
func (e *Engine) Sessions(ctx context.Context, accountID, currentSessionID string) ([]SessionInfo, error) {
	rows, err := e.sessions.ActiveSessions(ctx, accountID, e.now())
	if err != nil {
		return nil, fmt.Errorf("auth: list sessions: %w", err)
	}

	out := make([]SessionInfo, 0, len(rows))
	for _, s := range rows {
		device := truncateDevice(s.UserAgent)
		out = append(out, SessionInfo{
			ID:         s.ID,
			Device:     device,
			IP:         s.IP,
			Location:   s.Location,
			LastActive: s.LastActive,
			CreatedAt:  s.CreatedAt,
			IsCurrent:  s.ID == currentSessionID,
		})
	}
	return out, nil
}

// truncateDevice caps a user agent string at uaDeviceLimit runes,
// cutting on a rune boundary so the result stays valid UTF-8.
func truncateDevice(ua string) string {
	n := 0
	for i := range ua {
		if n == uaDeviceLimit {
			return ua[:i]
		}
		n++
	}
	return ua
}

// RevokeSession destroys one session of the account, for the "sign out
// that device" button. A session owned by someone else reads as not
// found.
func (e *Engine) RevokeSession(ctx context.Context, accountID, sessionID string) error {
	sess, err := e.sessions.SessionByID(ctx, sessionID)
	if err == store.ErrNotFound {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("auth: look up session: %w", err)
	}
	if sess.AccountID != accountID {
		return ErrSessionNotFound
	}

	if err := e.sessions.DeleteSession(ctx, sessionID); err != nil && err != store.ErrNotFound {
		return fmt.Errorf("auth: delete session: %w", err)
	}
	e.log.Info("session revoked", zap.String("account_id", accountID), zap.String("session_id", sessionID))
	return nil
}

// TouchSession records activity on the session. It is best effort:
// failures are logged and swallowed so request handling never stalls
// on bookkeeping. Expiry is never extended.
func (e *Engine) TouchSession(ctx context.Context, sessionID string) {
	if err := e.sessions.TouchSession(ctx, sessionID, e.now()); err != nil && err != store.ErrNotFound {
		e.log.Warn("touch session", zap.String("session_id", sessionID), zap.Error(err))
	}
}
