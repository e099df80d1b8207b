package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hookscraper/auth/password"
)

// ChangePassword replaces the password of a signed-in account after
// re-checking the current one. Unlike a reset, existing sessions stay
// alive: the caller proved possession of the password just now.
func (e *Engine) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword, confirmPassword string) error {
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

	if newPassword == currentPassword {
		return ErrPasswordReuse
	}
	if err := e.checkPassword(newPassword); err != nil {
		return err
	}
	if newPassword != confirmPassword {
		return validationErr("passwords do not match")
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	if err := e.store.UpdatePasswordHash(ctx, accountID, hash); err != nil {
		return fmt.Errorf("auth: update password: %w", err)
	}

	e.log.Info("password changed", zap.String("account_id", accountID))
	e.sendMail("password_changed", func() error {
		return e.mailer.SendPasswordChanged(ctx, acct.Email, acct.Username)
	})
	return nil
}
