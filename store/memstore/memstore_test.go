package memstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/hookscraper/auth/store"
)

func seedAccount(t *testing.T, s *Store, id, username, email string) *store.Account {
	t.Helper()
	a := &store.Account{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: "$argon2id$...",
		Role:         "Hook Rookie",
		PlanType:     "free",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return a
}

func TestCreateAccountUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedAccount(t, s, "a1", "alice", "alice@example.com")

	err := s.CreateAccount(ctx, &store.Account{ID: "a2", Username: "bob", Email: "alice@example.com"})
	if !errors.Is(err, store.ErrEmailTaken) {
		t.Fatalf("duplicate email = %v, want ErrEmailTaken", err)
	}
	err = s.CreateAccount(ctx, &store.Account{ID: "a3", Username: "alice", Email: "bob@example.com"})
	if !errors.Is(err, store.ErrUsernameTaken) {
		t.Fatalf("duplicate username = %v, want ErrUsernameTaken", err)
	}
}

func TestDeleteSessionCascadesRefreshTokens(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedAccount(t, s, "a1", "alice", "alice@example.com")

	now := time.Now().UTC()
	if err := s.CreateSession(ctx, &store.Session{ID: "s1", AccountID: "a1", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	hash := sha256.Sum256([]byte("secret"))
	if err := s.CreateRefreshToken(ctx, &store.RefreshToken{ID: "r1", AccountID: "a1", SessionID: "s1", SecretHash: hash, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("CreateRefreshToken: %v", err)
	}

	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.RefreshTokenBySecretHash(ctx, hash); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("refresh token survived session delete: %v", err)
	}
}

func TestPromoteTwoFactorRequiresStagedSecret(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedAccount(t, s, "a1", "alice", "alice@example.com")

	if err := s.PromoteTwoFactor(ctx, "a1"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("promote without staged secret = %v, want ErrConflict", err)
	}

	if err := s.StageTwoFactor(ctx, "a1", "SECRETBASE32"); err != nil {
		t.Fatalf("StageTwoFactor: %v", err)
	}
	if err := s.PromoteTwoFactor(ctx, "a1"); err != nil {
		t.Fatalf("PromoteTwoFactor: %v", err)
	}

	a, err := s.AccountByID(ctx, "a1")
	if err != nil {
		t.Fatalf("AccountByID: %v", err)
	}
	if !a.TwoFactorEnabled || a.TwoFactorSecret != "SECRETBASE32" || a.PendingTwoFactor != "" {
		t.Fatalf("promotion left account in %+v", a)
	}
}

func TestConsumeBackupCodeIsSingleUse(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedAccount(t, s, "a1", "alice", "alice@example.com")

	if err := s.ReplaceBackupCodes(ctx, "a1", []string{"h1", "h2"}); err != nil {
		t.Fatalf("ReplaceBackupCodes: %v", err)
	}

	ok, err := s.ConsumeBackupCode(ctx, "a1", "h1")
	if err != nil || !ok {
		t.Fatalf("first consume = %v, %v", ok, err)
	}
	ok, err = s.ConsumeBackupCode(ctx, "a1", "h1")
	if err != nil || ok {
		t.Fatalf("second consume = %v, %v, want no match", ok, err)
	}
}

func TestReplaceResetTokenDropsPrior(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedAccount(t, s, "a1", "alice", "alice@example.com")

	now := time.Now().UTC()
	first := &store.PasswordResetToken{ID: "t1", AccountID: "a1", SecretHash: sha256.Sum256([]byte("one")), ExpiresAt: now.Add(time.Hour)}
	second := &store.PasswordResetToken{ID: "t2", AccountID: "a1", SecretHash: sha256.Sum256([]byte("two")), ExpiresAt: now.Add(time.Hour)}
	if err := s.ReplaceResetToken(ctx, first); err != nil {
		t.Fatalf("ReplaceResetToken: %v", err)
	}
	if err := s.ReplaceResetToken(ctx, second); err != nil {
		t.Fatalf("ReplaceResetToken: %v", err)
	}

	out, err := s.OutstandingResetTokens(ctx, now)
	if err != nil {
		t.Fatalf("OutstandingResetTokens: %v", err)
	}
	if len(out) != 1 || out[0].ID != "t2" {
		t.Fatalf("outstanding tokens = %+v, want only t2", out)
	}
}

func TestPurgeAccountRemovesEverything(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedAccount(t, s, "a1", "alice", "alice@example.com")

	now := time.Now().UTC()
	s.SeedOwnedRows("saved_hooks", a.ID, 4)
	s.SeedOwnedRows("collections", a.ID, 2)
	s.SeedOwnedRows("api_keys", a.ID, 1)
	if err := s.CreateSession(ctx, &store.Session{ID: "s1", AccountID: a.ID, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	hash := sha256.Sum256([]byte("secret"))
	if err := s.CreateRefreshToken(ctx, &store.RefreshToken{ID: "r1", AccountID: a.ID, SessionID: "s1", SecretHash: hash, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("CreateRefreshToken: %v", err)
	}

	if err := s.PurgeAccount(ctx, a.ID); err != nil {
		t.Fatalf("PurgeAccount: %v", err)
	}

	if _, err := s.AccountByID(ctx, a.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("account survived purge: %v", err)
	}
	if _, err := s.AccountByEmail(ctx, a.Email); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("email index survived purge")
	}
	if _, err := s.SessionByID(ctx, "s1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("session survived purge")
	}
	if _, err := s.RefreshTokenBySecretHash(ctx, hash); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("refresh token survived purge")
	}
	for _, table := range []string{"saved_hooks", "collections", "api_keys"} {
		if n := s.OwnedRows(table, a.ID); n != 0 {
			t.Fatalf("%d %s rows survived purge", n, table)
		}
	}
}

func TestPurgeAccountRollsBackOnAnyStep(t *testing.T) {
	boom := errors.New("storage failure")
	for _, step := range PurgeSteps {
		t.Run(step, func(t *testing.T) {
			s := New()
			ctx := context.Background()
			a := seedAccount(t, s, "a1", "alice", "alice@example.com")

			now := time.Now().UTC()
			s.SeedOwnedRows("saved_hooks", a.ID, 3)
			s.SeedOwnedRows("activity_logs", a.ID, 7)
			if err := s.CreateSession(ctx, &store.Session{ID: "s1", AccountID: a.ID, ExpiresAt: now.Add(time.Hour)}); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}
			hash := sha256.Sum256([]byte("secret"))
			if err := s.CreateRefreshToken(ctx, &store.RefreshToken{ID: "r1", AccountID: a.ID, SessionID: "s1", SecretHash: hash, ExpiresAt: now.Add(time.Hour)}); err != nil {
				t.Fatalf("CreateRefreshToken: %v", err)
			}

			s.FailPurgeAt(step, boom)
			if err := s.PurgeAccount(ctx, a.ID); !errors.Is(err, boom) {
				t.Fatalf("PurgeAccount = %v, want injected failure", err)
			}

			if _, err := s.AccountByID(ctx, a.ID); err != nil {
				t.Fatalf("account missing after rollback: %v", err)
			}
			if _, err := s.SessionByID(ctx, "s1"); err != nil {
				t.Fatalf("session missing after rollback: %v", err)
			}
			if _, err := s.RefreshTokenBySecretHash(ctx, hash); err != nil {
				t.Fatalf("refresh token missing after rollback: %v", err)
			}
			if s.OwnedRows("saved_hooks", a.ID) != 3 || s.OwnedRows("activity_logs", a.ID) != 7 {
				t.Fatal("owned rows missing after rollback")
			}
		})
	}
}

func TestConfirmPasswordResetAtomicEffects(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedAccount(t, s, "a1", "alice", "alice@example.com")

	now := time.Now().UTC()
	if err := s.CreateSession(ctx, &store.Session{ID: "s1", AccountID: a.ID, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	hash := sha256.Sum256([]byte("secret"))
	if err := s.CreateRefreshToken(ctx, &store.RefreshToken{ID: "r1", AccountID: a.ID, SessionID: "s1", SecretHash: hash, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("CreateRefreshToken: %v", err)
	}
	tok := &store.PasswordResetToken{ID: "t1", AccountID: a.ID, SecretHash: sha256.Sum256([]byte("reset")), ExpiresAt: now.Add(time.Hour)}
	if err := s.ReplaceResetToken(ctx, tok); err != nil {
		t.Fatalf("ReplaceResetToken: %v", err)
	}

	if err := s.ConfirmPasswordReset(ctx, a.ID, "t1", "new-hash"); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}

	got, err := s.AccountByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("AccountByID: %v", err)
	}
	if got.PasswordHash != "new-hash" {
		t.Fatalf("password hash = %q, want new-hash", got.PasswordHash)
	}
	if _, err := s.SessionByID(ctx, "s1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("session survived password reset")
	}
	if _, err := s.RefreshTokenBySecretHash(ctx, hash); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("refresh token survived password reset")
	}

	// The token is burned.
	if err := s.ConfirmPasswordReset(ctx, a.ID, "t1", "other-hash"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second confirm = %v, want ErrConflict", err)
	}
}
