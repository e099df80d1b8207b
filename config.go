package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/hookscraper/auth/password"
)

// DeleteConfirmationPhrase must be typed verbatim to delete an
// account.
const DeleteConfirmationPhrase = "DELETE MY ACCOUNT"

// Defaults applied to new accounts.
const (
	DefaultRole     = "Hook Rookie"
	DefaultPlanType = "free"
)

// TokenConfig governs the stateless JWTs.
type TokenConfig struct {
	// Secret signs every token. At least 32 bytes.
	Secret string `env:"TOKEN_SECRET" validate:"required,min=32"`
	// Issuer lands in the iss claim.
	Issuer string `env:"TOKEN_ISSUER" envDefault:"hookscraper"`
	// AccessTTL bounds access tokens.
	AccessTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"30m"`
	// TempTTL bounds the temporary tokens minted mid two-factor
	// sign-in.
	TempTTL time.Duration `env:"TEMP_TOKEN_TTL" envDefault:"5m"`
}

// SessionConfig governs session rows.
type SessionConfig struct {
	TTL time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	// RememberMeTTL applies when sign-in asked to be remembered.
	RememberMeTTL time.Duration `env:"SESSION_REMEMBER_TTL" envDefault:"720h"`
}

// RefreshConfig governs opaque refresh tokens.
type RefreshConfig struct {
	TTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
}

// TwoFactorConfig governs TOTP and backup codes.
type TwoFactorConfig struct {
	// Issuer appears in the authenticator app next to the account.
	Issuer string `env:"TOTP_ISSUER" envDefault:"HookScraper"`
	Digits int    `env:"TOTP_DIGITS" envDefault:"6"`
	// Period is the TOTP step in seconds.
	Period int `env:"TOTP_PERIOD" envDefault:"30"`
	// Skew is how many adjacent steps verify, in each direction.
	Skew            int `env:"TOTP_SKEW" envDefault:"1"`
	BackupCodeCount int `env:"BACKUP_CODE_COUNT" envDefault:"10"`
}

// ResetConfig governs password reset tokens.
type ResetConfig struct {
	TTL time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`
}

// PasswordConfig governs hashing cost and the acceptance policy.
type PasswordConfig struct {
	Memory      uint32 `env:"ARGON2_MEMORY" envDefault:"65536"`
	Time        uint32 `env:"ARGON2_TIME" envDefault:"3"`
	Parallelism uint8  `env:"ARGON2_PARALLELISM" envDefault:"2"`
	SaltLength  uint32 `env:"ARGON2_SALT_LENGTH" envDefault:"16"`
	KeyLength   uint32 `env:"ARGON2_KEY_LENGTH" envDefault:"32"`
	// MinLength is the shortest password accepted at sign-up, change
	// and reset.
	MinLength int `env:"PASSWORD_MIN_LENGTH" envDefault:"8"`
	// MinEntropyBits is the estimated-strength floor enforced on top
	// of the character class rules.
	MinEntropyBits float64 `env:"PASSWORD_MIN_ENTROPY" envDefault:"40"`
}

// Params converts to the hasher's parameter struct.
func (c PasswordConfig) Params() password.Params {
	return password.Params{
		Memory:      c.Memory,
		Time:        c.Time,
		Parallelism: c.Parallelism,
		SaltLength:  c.SaltLength,
		KeyLength:   c.KeyLength,
	}
}

// Config is the full engine configuration.
type Config struct {
	Token     TokenConfig
	Session   SessionConfig
	Refresh   RefreshConfig
	TwoFactor TwoFactorConfig
	Reset     ResetConfig
	Password  PasswordConfig
}

// DefaultConfig returns a config with every knob at its default. The
// token secret is intentionally left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Issuer:    "hookscraper",
			AccessTTL: 30 * time.Minute,
			TempTTL:   5 * time.Minute,
		},
		Session: SessionConfig{
			TTL:           24 * time.Hour,
			RememberMeTTL: 30 * 24 * time.Hour,
		},
		Refresh: RefreshConfig{
			TTL: 30 * 24 * time.Hour,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:          "HookScraper",
			Digits:          6,
			Period:          30,
			Skew:            1,
			BackupCodeCount: 10,
		},
		Reset: ResetConfig{
			TTL: time.Hour,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			MinEntropyBits: 40,
		},
	}
}

// ConfigFromEnv fills a default config from AUTH_-prefixed environment
// variables and validates it.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	opts := env.Options{Prefix: "AUTH_"}
	for _, target := range []any{
		&cfg.Token, &cfg.Session, &cfg.Refresh,
		&cfg.TwoFactor, &cfg.Reset, &cfg.Password,
	} {
		if err := env.ParseWithOptions(target, opts); err != nil {
			return Config{}, fmt.Errorf("auth: parse environment: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run on.
func (c Config) Validate() error {
	if len(c.Token.Secret) < 32 {
		return errors.New("auth: token secret must be at least 32 bytes")
	}
	if c.Token.AccessTTL <= 0 || c.Token.TempTTL <= 0 {
		return errors.New("auth: token ttls must be positive")
	}
	if c.Session.TTL <= 0 || c.Session.RememberMeTTL < c.Session.TTL {
		return errors.New("auth: session ttls must be positive and remember-me >= base")
	}
	if c.Refresh.TTL <= 0 {
		return errors.New("auth: refresh ttl must be positive")
	}
	if c.TwoFactor.Digits < 6 || c.TwoFactor.Digits > 8 {
		return errors.New("auth: totp digits must be 6..8")
	}
	if c.TwoFactor.Period <= 0 {
		return errors.New("auth: totp period must be positive")
	}
	if c.TwoFactor.Skew < 0 {
		return errors.New("auth: totp skew must be >= 0")
	}
	if c.TwoFactor.BackupCodeCount <= 0 {
		return errors.New("auth: backup code count must be positive")
	}
	if c.Reset.TTL <= 0 {
		return errors.New("auth: reset ttl must be positive")
	}
	if c.Password.MinLength < 8 {
		return errors.New("auth: password min length must be >= 8")
	}
	if _, err := password.NewHasher(c.Password.Params()); err != nil {
		return err
	}
	return nil
}
