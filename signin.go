package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hookscraper/auth/password"
	"github.com/hookscraper/auth/store"
	"github.com/hookscraper/auth/token"
)

// SignIn authenticates with an email or username plus password. An
// unknown identifier and a wrong password both come back as
// ErrInvalidCredentials. The password is always checked before the
// lock flag, so a locked account cannot be told apart from a wrong
// password without knowing the password.
//
// When the account has two-factor enabled, no session is created:
// the result carries a short-lived temp token to be redeemed by
// CompleteTwoFactorSignIn.
func (e *Engine) SignIn(ctx context.Context, in SignInInput, meta ClientMeta) (*SignInResult, error) {
	identifier := strings.ToLower(strings.TrimSpace(in.Identifier))
	if identifier == "" || in.Password == "" {
		return nil, ErrInvalidCredentials
	}

	acct, err := e.store.AccountByIdentifier(ctx, identifier)
	if err == store.ErrNotFound {
		e.attempts.RecordFailure(ctx, identifier, meta.IP)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("auth: resolve identifier: %w", err)
	}

	if err := e.hasher.Verify(in.Password, acct.PasswordHash); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			e.attempts.RecordFailure(ctx, identifier, meta.IP)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: verify password: %w", err)
	}

	if acct.Locked {
		e.log.Warn("sign-in on locked account", zap.String("account_id", acct.ID))
		return nil, ErrAccountLocked
	}

	if acct.TwoFactorEnabled {
		temp, _, err := e.codec.Issue(acct.ID, token.KindTemp)
		if err != nil {
			return nil, err
		}
		e.log.Info("sign-in deferred to second factor", zap.String("account_id", acct.ID))
		return &SignInResult{Requires2FA: true, TempToken: temp}, nil
	}

	return e.completeSignIn(ctx, acct, meta, in.RememberMe, identifier)
}

// CompleteTwoFactorSignIn finishes a deferred sign-in. code is either
// a current TOTP code or one of the account's unused backup codes;
// a backup code is burned on use.
func (e *Engine) CompleteTwoFactorSignIn(ctx context.Context, tempToken, code string, meta ClientMeta) (*SignInResult, error) {
	accountID, err := e.verifyToken(tempToken, token.KindTemp)
	if err != nil {
		return nil, err
	}

	acct, err := e.account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !acct.TwoFactorEnabled || acct.TwoFactorSecret == "" {
		return nil, ErrInvalid2FACode
	}

	if !e.totp.verify(acct.TwoFactorSecret, code, e.now()) {
		consumed, err := e.store.ConsumeBackupCode(ctx, acct.ID, hashBackupCode(code))
		if err != nil {
			return nil, fmt.Errorf("auth: consume backup code: %w", err)
		}
		if !consumed {
			e.attempts.RecordFailure(ctx, acct.Username, meta.IP)
			return nil, ErrInvalid2FACode
		}
		e.log.Info("backup code used", zap.String("account_id", acct.ID))
	}

	return e.completeSignIn(ctx, acct, meta, false, acct.Username)
}

func (e *Engine) completeSignIn(ctx context.Context, acct *store.Account, meta ClientMeta, remember bool, identifier string) (*SignInResult, error) {
	now := e.now()
	if err := e.store.RecordLogin(ctx, acct.ID, now, meta.IP); err != nil {
		e.log.Warn("record login", zap.String("account_id", acct.ID), zap.Error(err))
	}
	e.attempts.Reset(ctx, identifier, meta.IP)

	sessionID, tokens, err := e.startSession(ctx, acct, meta, remember)
	if err != nil {
		return nil, err
	}

	user := projectUser(acct)
	return &SignInResult{
		Tokens:    &tokens,
		User:      &user,
		SessionID: sessionID,
	}, nil
}
