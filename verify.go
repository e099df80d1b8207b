package auth

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hookscraper/auth/internal/secrets"
	"github.com/hookscraper/auth/store"
)

// VerifyEmail redeems an email verification token. The token is
// cleared on success, so it is single use.
func (e *Engine) VerifyEmail(ctx context.Context, verificationToken string) (*User, error) {
	acct, err := e.store.AccountByVerificationToken(ctx, verificationToken)
	if err == store.ErrNotFound {
		return nil, ErrVerificationInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("auth: resolve verification token: %w", err)
	}

	if err := e.store.MarkEmailVerified(ctx, acct.ID); err != nil {
		return nil, fmt.Errorf("auth: mark verified: %w", err)
	}
	e.log.Info("email verified", zap.String("account_id", acct.ID))

	acct.EmailVerified = true
	acct.VerificationToken = ""
	user := projectUser(acct)
	return &user, nil
}

// ResendVerification issues a fresh verification token and mails it.
// An unknown address succeeds silently; an already verified one is
// reported, since the caller is signed in when asking.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
	acct, err := e.store.AccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("auth: resolve email: %w", err)
	}
	if acct.EmailVerified {
		return ErrAlreadyVerified
	}

	verification, err := secrets.NewToken()
	if err != nil {
		return err
	}
	if err := e.store.SetVerificationToken(ctx, acct.ID, verification); err != nil {
		return fmt.Errorf("auth: store verification token: %w", err)
	}

	e.sendMail("verification", func() error {
		return e.mailer.SendVerification(ctx, acct.Email, acct.Username, verification)
	})
	return nil
}
