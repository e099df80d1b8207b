package auth

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hookscraper/auth/mail"
	"github.com/hookscraper/auth/password"
	"github.com/hookscraper/auth/store"
	"github.com/hookscraper/auth/token"
)

// Builder assembles an Engine. Only a store and a config with a token
// secret are mandatory; everything else has a working default.
type Builder struct {
	cfg      Config
	cfgSet   bool
	store    store.Store
	sessions store.SessionStore
	refresh  store.RefreshTokenStore
	mailer   mail.Sender
	attempts LoginAttemptRecorder
	logger   *zap.Logger
	now      func() time.Time
}

// New starts a builder.
func New() *Builder {
	return &Builder{}
}

// WithConfig sets the engine configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	b.cfgSet = true
	return b
}

// WithStore sets the primary store. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithSessionBackend routes sessions and refresh tokens to a separate
// backend, typically store/redisstore, while accounts stay in the
// primary store. Note that PurgeAccount and ConfirmPasswordReset on
// the primary store cannot span this backend; the engine wipes it in
// a follow-up step after the primary commit.
func (b *Builder) WithSessionBackend(sessions store.SessionStore, refresh store.RefreshTokenStore) *Builder {
	b.sessions = sessions
	b.refresh = refresh
	return b
}

// WithMailer sets the outbound email sender. Defaults to mail.Nop.
func (b *Builder) WithMailer(m mail.Sender) *Builder {
	b.mailer = m
	return b
}

// WithAttemptRecorder sets the sign-in attempt observer. Defaults to a
// no-op.
func (b *Builder) WithAttemptRecorder(r LoginAttemptRecorder) *Builder {
	b.attempts = r
	return b
}

// WithLogger sets the structured logger. Defaults to zap.NewNop.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock overrides the time source. Tests use this to step through
// expiries.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.store == nil {
		return nil, errors.New("auth: a store is required")
	}
	if !b.cfgSet {
		b.cfg = DefaultConfig()
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mailer := b.mailer
	if mailer == nil {
		mailer = mail.Nop{}
	}
	attempts := b.attempts
	if attempts == nil {
		attempts = nopAttemptRecorder{}
	}

	sessions := b.sessions
	refresh := b.refresh
	if (sessions == nil) != (refresh == nil) {
		return nil, errors.New("auth: session backend needs both session and refresh stores")
	}
	split := sessions != nil
	if !split {
		sessions = b.store
		refresh = b.store
	}

	codec, err := token.NewCodec(b.cfg.Token.Secret, b.cfg.Token.Issuer,
		b.cfg.Token.AccessTTL, b.cfg.Token.TempTTL, now)
	if err != nil {
		return nil, err
	}
	hasher, err := password.NewHasher(b.cfg.Password.Params())
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:          b.cfg,
		store:        b.store,
		sessions:     sessions,
		refresh:      refresh,
		splitBackend: split,
		codec:        codec,
		hasher:       hasher,
		totp:         newTOTP(b.cfg.TwoFactor),
		mailer:       mailer,
		attempts:     attempts,
		log:          logger,
		now:          now,
		validate:     newValidator(),
	}, nil
}
