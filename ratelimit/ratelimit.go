// Package ratelimit provides a Redis-backed recorder for failed
// sign-in attempts with fixed-window counters. It implements
// auth.LoginAttemptRecorder; callers that want to refuse sign-ins
// outright consult Blocked before invoking the engine.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrUnavailable wraps transport failures talking to Redis.
var ErrUnavailable = errors.New("ratelimit: redis unavailable")

// Config tunes the failure counters.
type Config struct {
	// MaxFailures is the budget per identifier (and per IP when
	// ThrottleIP is set) within one window.
	MaxFailures int
	// Window is how long a counter lives after its first hit.
	Window time.Duration
	// ThrottleIP also counts failures per source IP.
	ThrottleIP bool
}

// DefaultConfig allows 5 failures per 15 minutes, per identifier only.
func DefaultConfig() Config {
	return Config{MaxFailures: 5, Window: 15 * time.Minute}
}

// Recorder counts sign-in failures in Redis. Counters use fixed-window
// semantics: INCR plus an EXPIRE on the first hit of the window.
type Recorder struct {
	rdb    redis.UniversalClient
	prefix string
	cfg    Config
	log    *zap.Logger
}

// New returns a Recorder writing keys under the given prefix.
func New(rdb redis.UniversalClient, prefix string, cfg Config, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultConfig().MaxFailures
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Recorder{rdb: rdb, prefix: prefix, cfg: cfg, log: log}
}

func (r *Recorder) idKey(identifier string) string {
	return fmt.Sprintf("%s:fail:id:%s", r.prefix, identifier)
}

func (r *Recorder) ipKey(ip string) string {
	return fmt.Sprintf("%s:fail:ip:%s", r.prefix, ip)
}

// RecordFailure bumps the counters for the identifier and, when
// enabled, the IP. Redis failures are logged, never surfaced; losing a
// count must not break sign-in.
func (r *Recorder) RecordFailure(ctx context.Context, identifier, ip string) {
	keys := []string{r.idKey(identifier)}
	if r.cfg.ThrottleIP && ip != "" {
		keys = append(keys, r.ipKey(ip))
	}
	for _, key := range keys {
		if err := r.bump(ctx, key); err != nil {
			r.log.Warn("attempt counter bump failed",
				zap.String("key", key), zap.Error(err))
		}
	}
}

// Reset clears the counters after a successful sign-in.
func (r *Recorder) Reset(ctx context.Context, identifier, ip string) {
	keys := []string{r.idKey(identifier)}
	if r.cfg.ThrottleIP && ip != "" {
		keys = append(keys, r.ipKey(ip))
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		r.log.Warn("attempt counter reset failed", zap.Error(err))
	}
}

// Blocked reports whether the identifier or IP has exhausted its
// failure budget for the current window.
func (r *Recorder) Blocked(ctx context.Context, identifier, ip string) (bool, error) {
	over, err := r.overBudget(ctx, r.idKey(identifier))
	if err != nil || over {
		return over, err
	}
	if r.cfg.ThrottleIP && ip != "" {
		return r.overBudget(ctx, r.ipKey(ip))
	}
	return false, nil
}

// Attempts returns the current failure count for an identifier.
// Missing keys read as zero so callers cannot probe for accounts.
func (r *Recorder) Attempts(ctx context.Context, identifier string) (int, error) {
	n, err := r.rdb.Get(ctx, r.idKey(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

func (r *Recorder) bump(ctx context.Context, key string) error {
	n, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// First hit opens the window.
	if n == 1 {
		if err := r.rdb.Expire(ctx, key, r.cfg.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

func (r *Recorder) overBudget(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n >= int64(r.cfg.MaxFailures), nil
}
