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

// SignUp registers a new account and signs it straight in: the caller
// gets a session, an access token and a refresh token. The address
// starts unverified and a verification email goes out.
func (e *Engine) SignUp(ctx context.Context, in SignUpInput, meta ClientMeta) (*SignUpResult, error) {
	if err := e.checkSignUp(in); err != nil {
		return nil, err
	}

	username := strings.ToLower(strings.TrimSpace(in.Username))
	email := strings.ToLower(strings.TrimSpace(in.Email))

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	verification, err := secrets.NewToken()
	if err != nil {
		return nil, err
	}

	now := e.now()
	acct := &store.Account{
		ID:                uuid.NewString(),
		FullName:          strings.TrimSpace(in.FullName),
		Username:          username,
		Email:             email,
		PasswordHash:      hash,
		VerificationToken: verification,
		Role:              DefaultRole,
		PlanType:          DefaultPlanType,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	switch err := e.store.CreateAccount(ctx, acct); err {
	case nil:
	case store.ErrEmailTaken:
		return nil, ErrEmailTaken
	case store.ErrUsernameTaken:
		return nil, ErrUsernameTaken
	default:
		return nil, fmt.Errorf("auth: create account: %w", err)
	}

	sessionID, tokens, err := e.startSession(ctx, acct, meta, false)
	if err != nil {
		return nil, err
	}

	e.log.Info("account created", zap.String("account_id", acct.ID), zap.String("username", username))
	e.sendMail("verification", func() error {
		return e.mailer.SendVerification(ctx, acct.Email, acct.Username, verification)
	})

	return &SignUpResult{
		Tokens:    tokens,
		User:      projectUser(acct),
		SessionID: sessionID,
	}, nil
}
