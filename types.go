package auth

import (
	"context"
	"time"
)

// ClientMeta describes the device behind a request. Everything is
// optional; it only feeds the session row shown on the devices page.
type ClientMeta struct {
	IP        string
	UserAgent string
	Location  string
}

// SignUpInput is the sign-up request.
type SignUpInput struct {
	FullName        string
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// SignInInput is the sign-in request. Identifier is an email or a
// username, matched case-insensitively.
type SignInInput struct {
	Identifier string
	Password   string
	RememberMe bool
}

// TokenPair is what a completed authentication hands the client.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	// ExpiresIn is the access token lifetime in whole seconds.
	ExpiresIn int `json:"expires_in"`
}

// User is the public projection of an account. Password hashes,
// two-factor secrets and tokens never appear here.
type User struct {
	ID               string `json:"id"`
	Username         string `json:"username"`
	Email            string `json:"email"`
	EmailVerified    bool   `json:"email_verified"`
	Role             string `json:"role"`
	PlanType         string `json:"plan_type"`
	TwoFactorEnabled bool   `json:"two_factor_enabled"`
}

// SignInResult is the outcome of a sign-in attempt. When the account
// has two-factor enabled only Requires2FA and TempToken are set; no
// session exists yet.
type SignInResult struct {
	Requires2FA bool       `json:"requires_2fa"`
	TempToken   string     `json:"temp_token,omitempty"`
	Tokens      *TokenPair `json:"tokens,omitempty"`
	User        *User      `json:"user,omitempty"`
	SessionID   string     `json:"session_id,omitempty"`
}

// SignUpResult is the outcome of a successful sign-up.
type SignUpResult struct {
	Tokens    TokenPair `json:"tokens"`
	User      User      `json:"user"`
	SessionID string    `json:"session_id"`
}

// TwoFactorSetup carries the provisioning material for an authenticator
// app. The secret and backup codes are shown exactly once.
type TwoFactorSetup struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	BackupCodes     []string `json:"backup_codes"`
}

// SessionInfo is one row on the active devices page.
type SessionInfo struct {
	ID         string    `json:"id"`
	Device     string    `json:"device"`
	IP         string    `json:"ip"`
	Location   string    `json:"location"`
	LastActive time.Time `json:"last_active"`
	CreatedAt  time.Time `json:"created_at"`
	IsCurrent  bool      `json:"is_current"`
}

// LoginAttemptRecorder observes sign-in outcomes. The engine reports
// failures and successful resets; the policy that flips accounts to
// locked lives with the implementation, outside this package.
type LoginAttemptRecorder interface {
	RecordFailure(ctx context.Context, identifier, ip string)
	Reset(ctx context.Context, identifier, ip string)
}

type nopAttemptRecorder struct{}

func (nopAttemptRecorder) RecordFailure(context.Context, string, string) {}
func (nopAttemptRecorder) Reset(context.Context, string, string)        {}
