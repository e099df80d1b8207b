package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hookscraper/auth/internal/secrets"
	"github.com/hookscraper/auth/store"
)

// RequestPasswordReset issues a reset token and mails it. It succeeds
// whether or not the address is registered, so the endpoint cannot be
// used to enumerate accounts. Requesting again replaces any earlier
// token, leaving at most one outstanding per account.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	acct, err := e.store.AccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("auth: resolve email: %w", err)
	}

	secret, err := secrets.NewToken()
	if err != nil {
		return err
	}
	now := e.now()
	tok := &store.PasswordResetToken{
		ID:         uuid.NewString(),
		AccountID:  acct.ID,
		SecretHash: secrets.Hash(secret),
		ExpiresAt:  now.Add(e.cfg.Reset.TTL),
		CreatedAt:  now,
	}
	if err := e.store.ReplaceResetToken(ctx, tok); err != nil {
		return fmt.Errorf("auth: store reset token: %w", err)
	}

	e.log.Info("password reset requested", zap.String("account_id", acct.ID))
	e.sendMail("password_reset", func() error {
		return e.mailer.SendPasswordReset(ctx, acct.Email, acct.Username, secret)
	})
	return nil
}

// ConfirmPasswordReset redeems a reset secret for a new password. The
// token is single use, and every session and refresh token of the
// account dies with the old password. Already-issued access tokens
// keep verifying until their own expiry; they are stateless.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, secret, newPassword, confirmPassword string) error {
	if err := e.checkPassword(newPassword); err != nil {
		return err
	}
	if newPassword != confirmPassword {
		return validationErr("passwords do not match")
	}
	if secret == "" {
		return ErrResetInvalid
	}

	outstanding, err := e.store.OutstandingResetTokens(ctx, e.now())
	if err != nil {
		return fmt.Errorf("auth: list reset tokens: %w", err)
	}

	// Every outstanding token is compared so the scan takes the same
	// time whether or not the secret matches.
	presented := secrets.Hash(secret)
	var match *store.PasswordResetToken
	for _, t := range outstanding {
		if secrets.Equal(presented, t.SecretHash) && match == nil {
			match = t
		}
	}
	if match == nil {
		return ErrResetInvalid
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}

	switch err := e.store.ConfirmPasswordReset(ctx, match.AccountID, match.ID, hash); err {
	case nil:
	case store.ErrConflict:
		return ErrResetInvalid
	default:
		return fmt.Errorf("auth: confirm password reset: %w", err)
	}
	e.wipeSessionBackend(ctx, match.AccountID)

	e.log.Info("password reset", zap.String("account_id", match.AccountID))
	if acct, err := e.store.AccountByID(ctx, match.AccountID); err == nil {
		e.sendMail("password_changed", func() error {
			return e.mailer.SendPasswordChanged(ctx, acct.Email, acct.Username)
		})
	}
	return nil
}
