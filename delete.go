package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hookscraper/auth/password"
)

// DeleteAccount permanently destroys an account and everything it
// owns: saved hooks, collections, scrape history, activity logs,
// sessions, refresh tokens, connected accounts, API keys and reset
// tokens. The caller must supply the password and type the
// confirmation phrase verbatim. The cascade is atomic; if any step
// fails, nothing is deleted.
func (e *Engine) DeleteAccount(ctx context.Context, accountID, currentPassword, confirmation, reason string) error {
	if confirmation != DeleteConfirmationPhrase {
		return ErrConfirmationMismatch
	}

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

	if err := e.store.PurgeAccount(ctx, accountID); err != nil {
		return fmt.Errorf("auth: purge account: %w", err)
	}
	e.wipeSessionBackend(ctx, accountID)

	fields := []zap.Field{zap.String("account_id", accountID)}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	e.log.Info("account deleted", fields...)

	name := acct.FullName
	if name == "" {
		name = acct.Username
	}
	e.sendMail("account_deleted", func() error {
		return e.mailer.SendAccountDeleted(ctx, acct.Email, name)
	})
	return nil
}
