package auth

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	valid := testConfig()
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	for name, mutate := range map[string]func(*Config){
		"short secret":       func(c *Config) { c.Token.Secret = "short" },
		"zero access ttl":    func(c *Config) { c.Token.AccessTTL = 0 },
		"zero session ttl":   func(c *Config) { c.Session.TTL = 0 },
		"remember below ttl": func(c *Config) { c.Session.RememberMeTTL = time.Hour },
		"zero refresh ttl":   func(c *Config) { c.Refresh.TTL = 0 },
		"bad totp digits":    func(c *Config) { c.TwoFactor.Digits = 4 },
		"negative skew":      func(c *Config) { c.TwoFactor.Skew = -1 },
		"zero backup codes":  func(c *Config) { c.TwoFactor.BackupCodeCount = 0 },
		"zero reset ttl":     func(c *Config) { c.Reset.TTL = 0 },
		"short min length":   func(c *Config) { c.Password.MinLength = 4 },
		"weak argon2":        func(c *Config) { c.Password.Memory = 16 },
	} {
		cfg := testConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate accepted a broken config", name)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("AUTH_TOKEN_SECRET", strings.Repeat("s", 40))
	t.Setenv("AUTH_ACCESS_TOKEN_TTL", "15m")
	t.Setenv("AUTH_SESSION_REMEMBER_TTL", "1440h")
	t.Setenv("AUTH_TOTP_SKEW", "2")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Token.AccessTTL != 15*time.Minute {
		t.Fatalf("AccessTTL = %v", cfg.Token.AccessTTL)
	}
	if cfg.Session.RememberMeTTL != 1440*time.Hour {
		t.Fatalf("RememberMeTTL = %v", cfg.Session.RememberMeTTL)
	}
	if cfg.TwoFactor.Skew != 2 {
		t.Fatalf("Skew = %d", cfg.TwoFactor.Skew)
	}
	// Untouched knobs keep their defaults.
	if cfg.Token.TempTTL != 5*time.Minute || cfg.Reset.TTL != time.Hour {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestConfigFromEnvRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_TOKEN_SECRET", "")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatal("ConfigFromEnv accepted a missing secret")
	}
}

func TestBuildRequiresStore(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("Build accepted a nil store")
	}
}

func TestBuildRejectsHalfSessionBackend(t *testing.T) {
	rig := newTestRig(t)
	_, err := New().
		WithConfig(testConfig()).
		WithStore(rig.store).
		WithSessionBackend(rig.store, nil).
		Build()
	if err == nil {
		t.Fatal("Build accepted a session backend without a refresh store")
	}
}
