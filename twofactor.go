package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hookscraper/auth/internal/secrets"
	"github.com/hookscraper/auth/password"
)

// totpSecretBytes is the raw secret size before base32 encoding.
const totpSecretBytes = 20

// SetupTwoFactor stages a fresh TOTP secret and generates a new set of
// backup codes. Nothing is enforced until ConfirmTwoFactor proves the
// authenticator app actually has the secret. The secret and plaintext
// backup codes are returned exactly once.
func (e *Engine) SetupTwoFactor(ctx context.Context, accountID string) (*TwoFactorSetup, error) {
	acct, err := e.account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	secret, err := secrets.NewBase32Secret(totpSecretBytes)
	if err != nil {
		return nil, err
	}
	if err := e.store.StageTwoFactor(ctx, acct.ID, secret); err != nil {
		return nil, fmt.Errorf("auth: stage two-factor secret: %w", err)
	}

	codes, err := generateBackupCodes(e.cfg.TwoFactor.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = hashBackupCode(c)
	}
	if err := e.store.ReplaceBackupCodes(ctx, acct.ID, hashes); err != nil {
		return nil, fmt.Errorf("auth: store backup codes: %w", err)
	}

	e.log.Info("two-factor setup started", zap.String("account_id", acct.ID))
	return &TwoFactorSetup{
		Secret:          secret,
		ProvisioningURI: e.totp.provisioningURI(secret, acct.Email),
		BackupCodes:     codes,
	}, nil
}

// ConfirmTwoFactor checks a code against the staged secret and, when
// it verifies, promotes the secret live. From this point sign-in
// requires a second factor.
func (e *Engine) ConfirmTwoFactor(ctx context.Context, accountID, code string) error {
	acct, err := e.account(ctx, accountID)
	if err != nil {
		return err
	}
	if acct.PendingTwoFactor == "" {
		return Err2FANotStaged
	}
	if !e.totp.verify(acct.PendingTwoFactor, code, e.now()) {
		return ErrInvalid2FACode
	}

	if err := e.store.PromoteTwoFactor(ctx, acct.ID); err != nil {
		return fmt.Errorf("auth: promote two-factor secret: %w", err)
	}
	e.log.Info("two-factor enabled", zap.String("account_id", acct.ID))
	return nil
}

// DisableTwoFactor turns the second factor off after re-checking the
// password. Secrets and backup codes are destroyed.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID, currentPassword string) error {
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

	if err := e.store.DisableTwoFactor(ctx, accountID); err != nil {
		return fmt.Errorf("auth: disable two-factor: %w", err)
	}
	e.log.Info("two-factor disabled", zap.String("account_id", accountID))
	return nil
}

// RegenerateBackupCodes replaces the whole backup code set, burning
// any codes that were still unused. Requires the password.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, currentPassword string) ([]string, error) {
	acct, err := e.account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := e.hasher.Verify(currentPassword, acct.PasswordHash); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: verify password: %w", err)
	}
	if !acct.TwoFactorEnabled {
		return nil, Err2FANotStaged
	}

	codes, err := generateBackupCodes(e.cfg.TwoFactor.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = hashBackupCode(c)
	}
	if err := e.store.ReplaceBackupCodes(ctx, accountID, hashes); err != nil {
		return nil, fmt.Errorf("auth: store backup codes: %w", err)
	}

	e.log.Info("backup codes regenerated", zap.String("account_id", accountID))
	return codes, nil
}
