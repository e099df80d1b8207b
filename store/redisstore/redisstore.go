// Package redisstore keeps sessions and refresh tokens in Redis so
// the hot sign-in path never touches the relational database. Rows
// are JSON values with a TTL matching their expiry; per-account and
// per-session sets index them for bulk revocation.
package redisstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hookscraper/auth/store"
)

// Store implements store.SessionStore and store.RefreshTokenStore.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// New wraps an existing client. prefix namespaces every key and may be
// empty.
func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "auth"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) sessionKey(id string) string {
	return s.prefix + ":sess:" + id
}

func (s *Store) accountSessionsKey(accountID string) string {
	return s.prefix + ":sess:acct:" + accountID
}

func (s *Store) refreshKey(hash [32]byte) string {
	return s.prefix + ":rt:" + hex.EncodeToString(hash[:])
}

func (s *Store) sessionRefreshKey(sessionID string) string {
	return s.prefix + ":rt:sess:" + sessionID
}

func (s *Store) accountRefreshKey(accountID string) string {
	return s.prefix + ":rt:acct:" + accountID
}

type sessionRow struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	Location   string    `json:"location"`
	LastActive time.Time `json:"last_active"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

type refreshRow struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	SessionID  string    `json:"session_id"`
	SecretHash string    `json:"secret_hash"`
	ExpiresAt  time.Time `json:"expires_at"`
	Revoked    bool      `json:"revoked"`
	LastUsedAt time.Time `json:"last_used_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func toSessionRow(sess *store.Session) sessionRow {
	return sessionRow(*sess)
}

func (r sessionRow) record() *store.Session {
	sess := store.Session(r)
	return &sess
}

func toRefreshRow(t *store.RefreshToken) refreshRow {
	return refreshRow{
		ID:         t.ID,
		AccountID:  t.AccountID,
		SessionID:  t.SessionID,
		SecretHash: hex.EncodeToString(t.SecretHash[:]),
		ExpiresAt:  t.ExpiresAt,
		Revoked:    t.Revoked,
		LastUsedAt: t.LastUsedAt,
		CreatedAt:  t.CreatedAt,
	}
}

func (r refreshRow) record() (*store.RefreshToken, error) {
	raw, err := hex.DecodeString(r.SecretHash)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("redisstore: bad secret hash %q", r.SecretHash)
	}
	t := &store.RefreshToken{
		ID:         r.ID,
		AccountID:  r.AccountID,
		SessionID:  r.SessionID,
		ExpiresAt:  r.ExpiresAt,
		Revoked:    r.Revoked,
		LastUsedAt: r.LastUsedAt,
		CreatedAt:  r.CreatedAt,
	}
	copy(t.SecretHash[:], raw)
	return t, nil
}

// CreateSession writes the session value and indexes it under the
// account set.
func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	payload, err := json.Marshal(toSessionRow(sess))
	if err != nil {
		return fmt.Errorf("redisstore: encode session: %w", err)
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("redisstore: session %s already expired", sess.ID)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(sess.ID), payload, ttl)
		pipe.SAdd(ctx, s.accountSessionsKey(sess.AccountID), sess.ID)
		s.extendIndex(ctx, pipe, s.accountSessionsKey(sess.AccountID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: create session: %w", err)
	}
	return nil
}

// extendIndex gives an index set the row's TTL without ever shortening
// it: a fresh set gets the TTL, an existing set keeps the longer of
// its current TTL and the new one. Otherwise a short-lived row would
// evict the index out from under longer-lived rows, and bulk
// revocation would miss them.
func (s *Store) extendIndex(ctx context.Context, pipe redis.Pipeliner, key string, ttl time.Duration) {
	pipe.ExpireNX(ctx, key, ttl)
	pipe.ExpireGT(ctx, key, ttl)
}

func (s *Store) getSession(ctx context.Context, id string) (sessionRow, error) {
	raw, err := s.rdb.Get(ctx, s.sessionKey(id)).Bytes()
	if err == redis.Nil {
		return sessionRow{}, store.ErrNotFound
	}
	if err != nil {
		return sessionRow{}, fmt.Errorf("redisstore: get session: %w", err)
	}
	var row sessionRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return sessionRow{}, fmt.Errorf("redisstore: decode session: %w", err)
	}
	return row, nil
}

// SessionByID fetches one session.
func (s *Store) SessionByID(ctx context.Context, id string) (*store.Session, error) {
	row, err := s.getSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return row.record(), nil
}

// TouchSession bumps LastActive in place, keeping the key's TTL.
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	row, err := s.getSession(ctx, id)
	if err != nil {
		return err
	}
	row.LastActive = at
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("redisstore: encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, s.sessionKey(id), payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("redisstore: touch session: %w", err)
	}
	return nil
}

func (s *Store) deleteSession(ctx context.Context, row sessionRow) error {
	hashes, err := s.rdb.SMembers(ctx, s.sessionRefreshKey(row.ID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redisstore: list session tokens: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(row.ID), s.sessionRefreshKey(row.ID))
		pipe.SRem(ctx, s.accountSessionsKey(row.AccountID), row.ID)
		for _, h := range hashes {
			pipe.Del(ctx, s.prefix+":rt:"+h)
			pipe.SRem(ctx, s.accountRefreshKey(row.AccountID), h)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: delete session: %w", err)
	}
	return nil
}

// DeleteSession removes the session and every refresh token bound to
// it.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	row, err := s.getSession(ctx, id)
	if err != nil {
		return err
	}
	return s.deleteSession(ctx, row)
}

// DeleteAccountSessions removes all of the account's sessions and
// their refresh tokens.
func (s *Store) DeleteAccountSessions(ctx context.Context, accountID string) error {
	ids, err := s.rdb.SMembers(ctx, s.accountSessionsKey(accountID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redisstore: list account sessions: %w", err)
	}
	for _, id := range ids {
		row, err := s.getSession(ctx, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		if err := s.deleteSession(ctx, row); err != nil {
			return err
		}
	}
	if err := s.rdb.Del(ctx, s.accountSessionsKey(accountID), s.accountRefreshKey(accountID)).Err(); err != nil {
		return fmt.Errorf("redisstore: drop account indexes: %w", err)
	}
	return nil
}

// ActiveSessions lists unexpired sessions, most recently active first.
// Keys evicted by TTL are skipped.
func (s *Store) ActiveSessions(ctx context.Context, accountID string, now time.Time) ([]*store.Session, error) {
	ids, err := s.rdb.SMembers(ctx, s.accountSessionsKey(accountID)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redisstore: list account sessions: %w", err)
	}
	var out []*store.Session
	for _, id := range ids {
		row, err := s.getSession(ctx, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if row.ExpiresAt.After(now) {
			out = append(out, row.record())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	return out, nil
}

// CreateRefreshToken writes the token keyed by its secret digest and
// indexes it under the session and account sets.
func (s *Store) CreateRefreshToken(ctx context.Context, t *store.RefreshToken) error {
	payload, err := json.Marshal(toRefreshRow(t))
	if err != nil {
		return fmt.Errorf("redisstore: encode refresh token: %w", err)
	}
	ttl := time.Until(t.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("redisstore: refresh token %s already expired", t.ID)
	}
	h := hex.EncodeToString(t.SecretHash[:])
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.refreshKey(t.SecretHash), payload, ttl)
		pipe.SAdd(ctx, s.sessionRefreshKey(t.SessionID), h)
		s.extendIndex(ctx, pipe, s.sessionRefreshKey(t.SessionID), ttl)
		pipe.SAdd(ctx, s.accountRefreshKey(t.AccountID), h)
		s.extendIndex(ctx, pipe, s.accountRefreshKey(t.AccountID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: create refresh token: %w", err)
	}
	return nil
}

func (s *Store) getRefresh(ctx context.Context, hash [32]byte) (refreshRow, error) {
	raw, err := s.rdb.Get(ctx, s.refreshKey(hash)).Bytes()
	if err == redis.Nil {
		return refreshRow{}, store.ErrNotFound
	}
	if err != nil {
		return refreshRow{}, fmt.Errorf("redisstore: get refresh token: %w", err)
	}
	var row refreshRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return refreshRow{}, fmt.Errorf("redisstore: decode refresh token: %w", err)
	}
	return row, nil
}

// RefreshTokenBySecretHash resolves a token by the digest of its
// secret. TTL eviction makes an expired token read as not found.
func (s *Store) RefreshTokenBySecretHash(ctx context.Context, hash [32]byte) (*store.RefreshToken, error) {
	row, err := s.getRefresh(ctx, hash)
	if err != nil {
		return nil, err
	}
	return row.record()
}

// MarkRefreshTokenUsed stamps the last redemption time. The lookup is
// by id, so every token of the containing session is scanned.
func (s *Store) MarkRefreshTokenUsed(ctx context.Context, id string, at time.Time) error {
	row, key, err := s.findRefreshByID(ctx, id)
	if err != nil {
		return err
	}
	row.LastUsedAt = at
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("redisstore: encode refresh token: %w", err)
	}
	if err := s.rdb.Set(ctx, key, payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("redisstore: mark refresh token used: %w", err)
	}
	return nil
}

func (s *Store) findRefreshByID(ctx context.Context, id string) (refreshRow, string, error) {
	var cursor uint64
	match := s.prefix + ":rt:*"
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return refreshRow{}, "", fmt.Errorf("redisstore: scan refresh tokens: %w", err)
		}
		for _, key := range keys {
			raw, err := s.rdb.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var row refreshRow
			if json.Unmarshal(raw, &row) == nil && row.ID == id {
				return row, key, nil
			}
		}
		cursor = next
		if cursor == 0 {
			return refreshRow{}, "", store.ErrNotFound
		}
	}
}

// RevokeSessionRefreshTokens flips the revoked flag on every token of
// the session, keeping the rows so redemption can answer "revoked"
// rather than "unknown".
func (s *Store) RevokeSessionRefreshTokens(ctx context.Context, sessionID string) error {
	hashes, err := s.rdb.SMembers(ctx, s.sessionRefreshKey(sessionID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redisstore: list session tokens: %w", err)
	}
	for _, h := range hashes {
		key := s.prefix + ":rt:" + h
		raw, err := s.rdb.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return fmt.Errorf("redisstore: get refresh token: %w", err)
		}
		var row refreshRow
		if err := json.Unmarshal(raw, &row); err != nil {
			return fmt.Errorf("redisstore: decode refresh token: %w", err)
		}
		row.Revoked = true
		payload, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("redisstore: encode refresh token: %w", err)
		}
		if err := s.rdb.Set(ctx, key, payload, redis.KeepTTL).Err(); err != nil {
			return fmt.Errorf("redisstore: revoke refresh token: %w", err)
		}
	}
	return nil
}

// DeleteAccountRefreshTokens removes every token of the account.
func (s *Store) DeleteAccountRefreshTokens(ctx context.Context, accountID string) error {
	hashes, err := s.rdb.SMembers(ctx, s.accountRefreshKey(accountID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redisstore: list account tokens: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, h := range hashes {
			pipe.Del(ctx, s.prefix+":rt:"+h)
		}
		pipe.Del(ctx, s.accountRefreshKey(accountID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: delete account tokens: %w", err)
	}
	return nil
}
