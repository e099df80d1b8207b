package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hookscraper/auth/internal/secrets"
	"github.com/hookscraper/auth/store"
	"github.com/hookscraper/auth/token"
)

// Refresh redeems an opaque refresh token for a new access token. The
// refresh token itself is not rotated: the same secret stays valid
// until its own expiry or until its session goes away. A token whose
// session has been revoked or destroyed is unusable even if the token
// row itself survived.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, *User, error) {
	if refreshToken == "" {
		return nil, nil, ErrRefreshNotFound
	}

	rt, err := e.refresh.RefreshTokenBySecretHash(ctx, secrets.Hash(refreshToken))
	if err == store.ErrNotFound {
		return nil, nil, ErrRefreshNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("auth: look up refresh token: %w", err)
	}

	now := e.now()
	if rt.Revoked {
		return nil, nil, ErrRefreshRevoked
	}
	if !rt.ExpiresAt.After(now) {
		return nil, nil, ErrRefreshExpired
	}

	// The session is the anchor: no live session, no redemption.
	sess, err := e.sessions.SessionByID(ctx, rt.SessionID)
	if err == store.ErrNotFound {
		return nil, nil, ErrRefreshRevoked
	}
	if err != nil {
		return nil, nil, fmt.Errorf("auth: look up session: %w", err)
	}
	if !sess.ExpiresAt.After(now) {
		return nil, nil, ErrRefreshRevoked
	}

	acct, err := e.account(ctx, rt.AccountID)
	if err != nil {
		return nil, nil, err
	}

	if err := e.refresh.MarkRefreshTokenUsed(ctx, rt.ID, now); err != nil {
		e.log.Warn("mark refresh token used", zap.String("token_id", rt.ID), zap.Error(err))
	}

	access, _, err := e.codec.Issue(acct.ID, token.KindAccess)
	if err != nil {
		return nil, nil, err
	}

	user := projectUser(acct)
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int(e.cfg.Token.AccessTTL.Seconds()),
	}, &user, nil
}
