package auth

import (
	"context"
	"errors"
	"testing"
)

func TestVerifyEmail(t *testing.T) {
	rig := newTestRig(t)
	up := rig.mustSignUp(t, "alice", "alice@example.com")
	ctx := context.Background()

	mails := rig.mail.byKind("verification")
	if len(mails) != 1 {
		t.Fatalf("verification mails = %d, want 1", len(mails))
	}
	token := mails[0].Token

	user, err := rig.engine.VerifyEmail(ctx, token)
	if err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	if !user.EmailVerified || user.ID != up.User.ID {
		t.Fatalf("verified user = %+v", user)
	}

	// The token is single use.
	if _, err := rig.engine.VerifyEmail(ctx, token); !errors.Is(err, ErrVerificationInvalid) {
		t.Fatalf("reused token = %v, want ErrVerificationInvalid", err)
	}
	if _, err := rig.engine.VerifyEmail(ctx, "bogus"); !errors.Is(err, ErrVerificationInvalid) {
		t.Fatalf("bogus token = %v, want ErrVerificationInvalid", err)
	}
}

func TestResendVerification(t *testing.T) {
	rig := newTestRig(t)
	rig.mustSignUp(t, "alice", "alice@example.com")
	ctx := context.Background()

	first := rig.mail.byKind("verification")[0].Token

	if err := rig.engine.ResendVerification(ctx, "alice@example.com"); err != nil {
		t.Fatalf("ResendVerification: %v", err)
	}
	mails := rig.mail.byKind("verification")
	if len(mails) != 2 {
		t.Fatalf("verification mails = %d, want 2", len(mails))
	}
	second := mails[1].Token
	if second == first {
		t.Fatal("resend reused the old token")
	}

	// The old token is superseded.
	if _, err := rig.engine.VerifyEmail(ctx, first); !errors.Is(err, ErrVerificationInvalid) {
		t.Fatalf("superseded token = %v, want ErrVerificationInvalid", err)
	}
	if _, err := rig.engine.VerifyEmail(ctx, second); err != nil {
		t.Fatalf("fresh token: %v", err)
	}

	// A verified address reports as such; an unknown one stays silent.
	if err := rig.engine.ResendVerification(ctx, "alice@example.com"); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("verified address = %v, want ErrAlreadyVerified", err)
	}
	if err := rig.engine.ResendVerification(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("unknown address = %v, want nil", err)
	}
}
