package auth

import "errors"

// Sentinel errors returned by the engine. Callers branch with
// errors.Is; the strings never carry account-specific detail.
var (
	// ErrInvalidCredentials covers both an unknown identifier and a
	// wrong password so sign-in cannot be used to probe for accounts.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrAccountLocked reports a correct password against a locked
	// account.
	ErrAccountLocked = errors.New("auth: account locked")

	// ErrAccountNotFound reports an operation against an account id
	// that no longer resolves.
	ErrAccountNotFound = errors.New("auth: account not found")

	// ErrValidation reports rejected input. The wrapped message says
	// which field and why.
	ErrValidation = errors.New("auth: validation failed")

	// ErrEmailTaken and ErrUsernameTaken report sign-up uniqueness
	// collisions.
	ErrEmailTaken    = errors.New("auth: email already registered")
	ErrUsernameTaken = errors.New("auth: username already taken")

	// ErrPasswordReuse reports a password change whose new password
	// equals the current one.
	ErrPasswordReuse = errors.New("auth: new password must differ from current")

	// Stateless token failures.
	ErrTokenExpired     = errors.New("auth: token expired")
	ErrTokenMalformed   = errors.New("auth: token malformed")
	ErrWrongTokenType   = errors.New("auth: wrong token type")
	ErrTempTokenExpired = errors.New("auth: temporary token expired")

	// ErrInvalid2FACode reports a TOTP or backup code that did not
	// verify.
	ErrInvalid2FACode = errors.New("auth: invalid two-factor code")

	// Err2FANotStaged reports a two-factor confirm without a prior
	// setup call.
	Err2FANotStaged = errors.New("auth: two-factor setup not initiated")

	// Refresh redemption failures. These are distinguished because the
	// caller legitimately held the secret; there is nothing to probe.
	ErrRefreshNotFound = errors.New("auth: refresh token not found")
	ErrRefreshExpired  = errors.New("auth: refresh token expired")
	ErrRefreshRevoked  = errors.New("auth: refresh token revoked")

	// ErrResetInvalid reports a password reset secret that is unknown,
	// expired or already spent. The cases are deliberately not
	// distinguished.
	ErrResetInvalid = errors.New("auth: invalid or expired reset token")

	// ErrAlreadyVerified reports a verification resend for an address
	// that is already confirmed.
	ErrAlreadyVerified = errors.New("auth: email already verified")

	// ErrVerificationInvalid reports an unknown email verification
	// token.
	ErrVerificationInvalid = errors.New("auth: invalid verification token")

	// ErrSessionNotFound reports a session id that no longer resolves
	// or is owned by another account.
	ErrSessionNotFound = errors.New("auth: session not found")

	// ErrConfirmationMismatch reports an account deletion whose typed
	// confirmation phrase was wrong.
	ErrConfirmationMismatch = errors.New("auth: confirmation phrase mismatch")
)
