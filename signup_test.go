package auth

import (
	"context"
	"errors"
	"testing"
)

func TestSignUpCreatesAccountAndSession(t *testing.T) {
	rig := newTestRig(t)
	res := rig.mustSignUp(t, "Alice_99", "Alice@Example.COM")

	if res.User.Username != "alice_99" || res.User.Email != "alice@example.com" {
		t.Fatalf("identifiers not folded: %+v", res.User)
	}
	if res.User.Role != "Hook Rookie" || res.User.PlanType != "free" {
		t.Fatalf("defaults not applied: %+v", res.User)
	}
	if res.User.EmailVerified {
		t.Fatal("new account claims a verified email")
	}
	if res.User.TwoFactorEnabled {
		t.Fatal("new account claims two-factor")
	}

	if res.Tokens.TokenType != "bearer" || res.Tokens.ExpiresIn != 1800 {
		t.Fatalf("token envelope = %+v", res.Tokens)
	}
	sub, err := rig.engine.VerifyAccessToken(res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if sub != res.User.ID {
		t.Fatalf("access token subject = %q, want %q", sub, res.User.ID)
	}

	sessions, err := rig.engine.Sessions(context.Background(), res.User.ID, res.SessionID)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 || !sessions[0].IsCurrent {
		t.Fatalf("sessions = %+v, want one current session", sessions)
	}
}

func TestSignUpSendsVerificationMail(t *testing.T) {
	rig := newTestRig(t)
	rig.mustSignUp(t, "alice", "alice@example.com")

	mails := rig.mail.byKind("verification")
	if len(mails) != 1 || mails[0].To != "alice@example.com" || mails[0].Token == "" {
		t.Fatalf("verification mail = %+v", mails)
	}
}

func TestSignUpUniqueness(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.mustSignUp(t, "alice", "alice@example.com")

	_, err := rig.engine.SignUp(ctx, signUpInput("bob", "ALICE@example.com"), testMeta())
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("duplicate email = %v, want ErrEmailTaken", err)
	}
	_, err = rig.engine.SignUp(ctx, signUpInput("ALICE", "bob@example.com"), testMeta())
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("duplicate username = %v, want ErrUsernameTaken", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	cases := map[string]SignUpInput{
		"short username": func() SignUpInput {
			in := signUpInput("ab", "a@example.com")
			return in
		}(),
		"bad username chars": signUpInput("has space", "a@example.com"),
		"bad email":          signUpInput("alice", "not-an-email"),
		"short full name": func() SignUpInput {
			in := signUpInput("alice", "a@example.com")
			in.FullName = "x"
			return in
		}(),
		"weak password": func() SignUpInput {
			in := signUpInput("alice", "a@example.com")
			in.Password, in.ConfirmPassword = "password", "password"
			return in
		}(),
		"no uppercase": func() SignUpInput {
			in := signUpInput("alice", "a@example.com")
			in.Password, in.ConfirmPassword = "n0upper!pass#word", "n0upper!pass#word"
			return in
		}(),
		"no special character": func() SignUpInput {
			in := signUpInput("alice", "a@example.com")
			in.Password, in.ConfirmPassword = "Xkqzwm3trop2", "Xkqzwm3trop2"
			return in
		}(),
		"mismatched confirm": func() SignUpInput {
			in := signUpInput("alice", "a@example.com")
			in.ConfirmPassword = in.Password + "x"
			return in
		}(),
	}
	for name, in := range cases {
		if _, err := rig.engine.SignUp(ctx, in, testMeta()); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: SignUp = %v, want ErrValidation", name, err)
		}
	}
}
