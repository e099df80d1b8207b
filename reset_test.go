package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

const newPassword = "An0ther&G00d#Pass"

func requestReset(t *testing.T, rig *testRig, email string) string {
	t.Helper()
	if err := rig.engine.RequestPasswordReset(context.Background(), email); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	mails := rig.mail.byKind("password_reset")
	if len(mails) == 0 {
		t.Fatal("no reset mail recorded")
	}
	return mails[len(mails)-1].Token
}

func TestRequestResetUnknownEmailIsSilent(t *testing.T) {
	rig := newTestRig(t)
	rig.mustSignUp(t, "alice", "alice@example.com")

	if err := rig.engine.RequestPasswordReset(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset(unknown) = %v, want nil", err)
	}
	if mails := rig.mail.byKind("password_reset"); len(mails) != 0 {
		t.Fatalf("mail sent for unknown address: %+v", mails)
	}
}

func TestConfirmResetReplacesPasswordAndKillsSessions(t *testing.T) {
	rig := newTestRig(t)
	up := rig.mustSignUp(t, "alice", "alice@example.com")
	ctx := context.Background()
	secret := requestReset(t, rig, "alice@example.com")

	if err := rig.engine.ConfirmPasswordReset(ctx, secret, newPassword, newPassword); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}

	// Old password dead, new one works.
	if _, err := rig.engine.SignIn(ctx, SignInInput{Identifier: "alice", Password: testPassword}, testMeta()); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password = %v, want ErrInvalidCredentials", err)
	}
	if _, err := rig.engine.SignIn(ctx, SignInInput{Identifier: "alice", Password: newPassword}, testMeta()); err != nil {
		t.Fatalf("new password: %v", err)
	}

	// Sessions and refresh tokens from before the reset are gone.
	if _, err := rig.store.SessionByID(ctx, up.SessionID); err == nil {
		t.Fatal("session survived password reset")
	}
	if _, _, err := rig.engine.Refresh(ctx, up.Tokens.RefreshToken); err == nil {
		t.Fatal("refresh token survived password reset")
	}

	// Access tokens are stateless: the pre-reset one still verifies
	// until it expires on its own.
	if _, err := rig.engine.VerifyAccessToken(up.Tokens.AccessToken); err != nil {
		t.Fatalf("pre-reset access token = %v, want valid", err)
	}
}

func TestConfirmResetIsSingleUse(t *testing.T) {
	rig := newTestRig(t)
	rig.mustSignUp(t, "alice", "alice@example.com")
	ctx := context.Background()
	secret := requestReset(t, rig, "alice@example.com")

	if err := rig.engine.ConfirmPasswordReset(ctx, secret, newPassword, newPassword); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}
	err := rig.engine.ConfirmPasswordReset(ctx, secret, "Th1rd&G00d#Pass", "Th1rd&G00d#Pass")
	if !errors.Is(err, ErrResetInvalid) {
		t.Fatalf("reused secret = %v, want ErrResetInvalid", err)
	}
}

func TestConfirmResetExpiry(t *testing.T) {
	rig := newTestRig(t)
	rig.mustSignUp(t, "alice", "alice@example.com")
	ctx := context.Background()
	secret := requestReset(t, rig, "alice@example.com")

	rig.clock.Advance(time.Hour + time.Second)
	err := rig.engine.ConfirmPasswordReset(ctx, secret, newPassword, newPassword)
	if !errors.Is(err, ErrResetInvalid) {
		t.Fatalf("expired secret = %v, want ErrResetInvalid", err)
	}
}

func TestSecondRequestInvalidatesFirstSecret(t *testing.T) {
	rig := newTestRig(t)
	rig.mustSignUp(t, "alice", "alice@example.com")
	ctx := context.Background()

	first := requestReset(t, rig, "alice@example.com")
	second := requestReset(t, rig, "alice@example.com")

	if err := rig.engine.ConfirmPasswordReset(ctx, first, newPassword, newPassword); !errors.Is(err, ErrResetInvalid) {
		t.Fatalf("superseded secret = %v, want ErrResetInvalid", err)
	}
	if err := rig.engine.ConfirmPasswordReset(ctx, second, newPassword, newPassword); err != nil {
		t.Fatalf("current secret: %v", err)
	}
}

func TestConfirmResetPolicesNewPassword(t *testing.T) {
	rig := newTestRig(t)
	rig.mustSignUp(t, "alice", "alice@example.com")
	ctx := context.Background()
	secret := requestReset(t, rig, "alice@example.com")

	if err := rig.engine.ConfirmPasswordReset(ctx, secret, "weak", "weak"); !errors.Is(err, ErrValidation) {
		t.Fatalf("weak password = %v, want ErrValidation", err)
	}
	if err := rig.engine.ConfirmPasswordReset(ctx, secret, newPassword, newPassword+"x"); !errors.Is(err, ErrValidation) {
		t.Fatalf("mismatched confirm = %v, want ErrValidation", err)
	}
	// The failed attempts must not have burned the token.
	if err := rig.engine.ConfirmPasswordReset(ctx, secret, newPassword, newPassword); err != nil {
		t.Fatalf("valid confirm after failures: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	rig := newTestRig(t)
	up := rig.mustSignUp(t, "alice", "alice@example.com")
	ctx := context.Background()

	if err := rig.engine.ChangePassword(ctx, up.User.ID, "Wr0ng&Password!", newPassword, newPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current = %v, want ErrInvalidCredentials", err)
	}
	if err := rig.engine.ChangePassword(ctx, up.User.ID, testPassword, testPassword, testPassword); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("same password = %v, want ErrPasswordReuse", err)
	}
	if err := rig.engine.ChangePassword(ctx, up.User.ID, testPassword, newPassword, newPassword); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	// Unlike a reset, a change keeps the existing session alive.
	if _, err := rig.store.SessionByID(ctx, up.SessionID); err != nil {
		t.Fatalf("session died on password change: %v", err)
	}
	if _, err := rig.engine.SignIn(ctx, SignInInput{Identifier: "alice", Password: newPassword}, testMeta()); err != nil {
		t.Fatalf("sign-in with new password: %v", err)
	}
	if mails := rig.mail.byKind("password_changed"); len(mails) != 1 {
		t.Fatalf("password change notices = %d, want 1", len(mails))
	}
}
