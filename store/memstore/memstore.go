// Package memstore is an in-memory store.Store. It backs the engine's
// tests and small deployments that can afford to lose state on
// restart. All operations run under one lock, which is what makes the
// compound operations trivially atomic.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hookscraper/auth/store"
)

// PurgeSteps is the deletion order PurgeAccount walks through. Owned
// product rows go first, dependents before their parents, and the
// account row last.
var PurgeSteps = []string{
	"saved_hooks",
	"collection_hooks",
	"collections",
	"scrape_history",
	"activity_logs",
	"sessions",
	"refresh_tokens",
	"connected_accounts",
	"api_keys",
	"password_reset_tokens",
	"account",
}

// Store implements store.Store in memory.
type Store struct {
	mu sync.RWMutex

	accounts   map[string]*store.Account
	byEmail    map[string]string
	byUsername map[string]string

	sessions      map[string]*store.Session
	refresh       map[string]*store.RefreshToken
	refreshByHash map[[32]byte]string
	resets        map[string]*store.PasswordResetToken

	// owned counts product rows (saved hooks, collections, ...) per
	// table and account. They only matter for exercising PurgeAccount.
	owned map[string]map[string]int

	purgeFailures map[string]error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts:      make(map[string]*store.Account),
		byEmail:       make(map[string]string),
		byUsername:    make(map[string]string),
		sessions:      make(map[string]*store.Session),
		refresh:       make(map[string]*store.RefreshToken),
		refreshByHash: make(map[[32]byte]string),
		resets:        make(map[string]*store.PasswordResetToken),
		owned:         make(map[string]map[string]int),
		purgeFailures: make(map[string]error),
	}
}

func cloneAccount(a *store.Account) *store.Account {
	cp := *a
	cp.BackupCodeHashes = append([]string(nil), a.BackupCodeHashes...)
	return &cp
}

func cloneSession(s *store.Session) *store.Session {
	cp := *s
	return &cp
}

func cloneRefresh(t *store.RefreshToken) *store.RefreshToken {
	cp := *t
	return &cp
}

func cloneReset(t *store.PasswordResetToken) *store.PasswordResetToken {
	cp := *t
	return &cp
}

// CreateAccount inserts a new account row.
func (s *Store) CreateAccount(_ context.Context, a *store.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[a.Email]; ok {
		return store.ErrEmailTaken
	}
	if _, ok := s.byUsername[a.Username]; ok {
		return store.ErrUsernameTaken
	}
	s.accounts[a.ID] = cloneAccount(a)
	s.byEmail[a.Email] = a.ID
	s.byUsername[a.Username] = a.ID
	return nil
}

// AccountByID looks an account up by primary key.
func (s *Store) AccountByID(_ context.Context, id string) (*store.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneAccount(a), nil
}

// AccountByIdentifier resolves a lowercased email or username.
func (s *Store) AccountByIdentifier(_ context.Context, identifier string) (*store.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.byEmail[identifier]; ok {
		return cloneAccount(s.accounts[id]), nil
	}
	if id, ok := s.byUsername[identifier]; ok {
		return cloneAccount(s.accounts[id]), nil
	}
	return nil, store.ErrNotFound
}

// AccountByEmail resolves a lowercased email.
func (s *Store) AccountByEmail(_ context.Context, email string) (*store.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneAccount(s.accounts[id]), nil
}

// AccountByVerificationToken resolves an unverified account by its
// outstanding verification token.
func (s *Store) AccountByVerificationToken(_ context.Context, token string) (*store.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if token == "" {
		return nil, store.ErrNotFound
	}
	for _, a := range s.accounts {
		if a.VerificationToken == token {
			return cloneAccount(a), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) mutateAccount(id string, fn func(a *store.Account) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	if err := fn(a); err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdatePasswordHash replaces the stored password hash.
func (s *Store) UpdatePasswordHash(_ context.Context, accountID, hash string) error {
	return s.mutateAccount(accountID, func(a *store.Account) error {
		a.PasswordHash = hash
		return nil
	})
}

// MarkEmailVerified sets the verified flag and drops the token.
func (s *Store) MarkEmailVerified(_ context.Context, accountID string) error {
	return s.mutateAccount(accountID, func(a *store.Account) error {
		a.EmailVerified = true
		a.VerificationToken = ""
		return nil
	})
}

// SetVerificationToken replaces the outstanding verification token.
func (s *Store) SetVerificationToken(_ context.Context, accountID, token string) error {
	return s.mutateAccount(accountID, func(a *store.Account) error {
		a.VerificationToken = token
		return nil
	})
}

// RecordLogin stamps the last successful sign-in.
func (s *Store) RecordLogin(_ context.Context, accountID string, at time.Time, ip string) error {
	return s.mutateAccount(accountID, func(a *store.Account) error {
		a.LastLoginAt = at
		a.LastLoginIP = ip
		return nil
	})
}

// StageTwoFactor stores a candidate TOTP secret without enabling it.
func (s *Store) StageTwoFactor(_ context.Context, accountID, secret string) error {
	return s.mutateAccount(accountID, func(a *store.Account) error {
		a.PendingTwoFactor = secret
		return nil
	})
}

// PromoteTwoFactor flips the staged secret live in one step.
func (s *Store) PromoteTwoFactor(_ context.Context, accountID string) error {
	return s.mutateAccount(accountID, func(a *store.Account) error {
		if a.PendingTwoFactor == "" {
			return store.ErrConflict
		}
		a.TwoFactorSecret = a.PendingTwoFactor
		a.PendingTwoFactor = ""
		a.TwoFactorEnabled = true
		return nil
	})
}

// DisableTwoFactor clears every two-factor artifact on the account.
func (s *Store) DisableTwoFactor(_ context.Context, accountID string) error {
	return s.mutateAccount(accountID, func(a *store.Account) error {
		a.TwoFactorEnabled = false
		a.TwoFactorSecret = ""
		a.PendingTwoFactor = ""
		a.BackupCodeHashes = nil
		return nil
	})
}

// ReplaceBackupCodes swaps the full backup code set.
func (s *Store) ReplaceBackupCodes(_ context.Context, accountID string, hashes []string) error {
	return s.mutateAccount(accountID, func(a *store.Account) error {
		a.BackupCodeHashes = append([]string(nil), hashes...)
		return nil
	})
}

// ConsumeBackupCode removes the matching hash, reporting whether one
// matched.
func (s *Store) ConsumeBackupCode(_ context.Context, accountID, hash string) (bool, error) {
	consumed := false
	err := s.mutateAccount(accountID, func(a *store.Account) error {
		for i, h := range a.BackupCodeHashes {
			if h == hash {
				a.BackupCodeHashes = append(a.BackupCodeHashes[:i], a.BackupCodeHashes[i+1:]...)
				consumed = true
				return nil
			}
		}
		return nil
	})
	return consumed, err
}

// CreateSession inserts a session row.
func (s *Store) CreateSession(_ context.Context, sess *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

// SessionByID looks a session up by primary key.
func (s *Store) SessionByID(_ context.Context, id string) (*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSession(sess), nil
}

// TouchSession bumps LastActive, leaving expiry alone.
func (s *Store) TouchSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	sess.LastActive = at
	return nil
}

func (s *Store) deleteSessionLocked(id string) {
	delete(s.sessions, id)
	for rid, rt := range s.refresh {
		if rt.SessionID == id {
			delete(s.refreshByHash, rt.SecretHash)
			delete(s.refresh, rid)
		}
	}
}

// DeleteSession removes the session and its refresh tokens.
func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return store.ErrNotFound
	}
	s.deleteSessionLocked(id)
	return nil
}

// DeleteAccountSessions removes every session of the account along
// with their refresh tokens.
func (s *Store) DeleteAccountSessions(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if sess.AccountID == accountID {
			s.deleteSessionLocked(id)
		}
	}
	return nil
}

// ActiveSessions lists unexpired sessions, most recently active first.
func (s *Store) ActiveSessions(_ context.Context, accountID string, now time.Time) ([]*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.Session
	for _, sess := range s.sessions {
		if sess.AccountID == accountID && sess.ExpiresAt.After(now) {
			out = append(out, cloneSession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	return out, nil
}

// CreateRefreshToken inserts a refresh token row.
func (s *Store) CreateRefreshToken(_ context.Context, t *store.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refresh[t.ID] = cloneRefresh(t)
	s.refreshByHash[t.SecretHash] = t.ID
	return nil
}

// RefreshTokenBySecretHash resolves a token by the digest of its
// secret.
func (s *Store) RefreshTokenBySecretHash(_ context.Context, hash [32]byte) (*store.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.refreshByHash[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneRefresh(s.refresh[id]), nil
}

// MarkRefreshTokenUsed stamps the last redemption time.
func (s *Store) MarkRefreshTokenUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.refresh[id]
	if !ok {
		return store.ErrNotFound
	}
	t.LastUsedAt = at
	return nil
}

// RevokeSessionRefreshTokens marks every token of the session revoked.
func (s *Store) RevokeSessionRefreshTokens(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.refresh {
		if t.SessionID == sessionID {
			t.Revoked = true
		}
	}
	return nil
}

// DeleteAccountRefreshTokens removes every token of the account.
func (s *Store) DeleteAccountRefreshTokens(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.refresh {
		if t.AccountID == accountID {
			delete(s.refreshByHash, t.SecretHash)
			delete(s.refresh, id)
		}
	}
	return nil
}

// ReplaceResetToken drops any prior tokens for the account and inserts
// the new one.
func (s *Store) ReplaceResetToken(_ context.Context, t *store.PasswordResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, old := range s.resets {
		if old.AccountID == t.AccountID {
			delete(s.resets, id)
		}
	}
	s.resets[t.ID] = cloneReset(t)
	return nil
}

// OutstandingResetTokens lists unused, unexpired tokens.
func (s *Store) OutstandingResetTokens(_ context.Context, now time.Time) ([]*store.PasswordResetToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.PasswordResetToken
	for _, t := range s.resets {
		if !t.Used && t.ExpiresAt.After(now) {
			out = append(out, cloneReset(t))
		}
	}
	return out, nil
}

// ConfirmPasswordReset applies the hash swap, token burn and session
// wipe as one step under the store lock.
func (s *Store) ConfirmPasswordReset(_ context.Context, accountID, tokenID, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	t, ok := s.resets[tokenID]
	if !ok || t.Used {
		return store.ErrConflict
	}

	a.PasswordHash = newHash
	a.UpdatedAt = time.Now().UTC()
	t.Used = true
	for id, sess := range s.sessions {
		if sess.AccountID == accountID {
			s.deleteSessionLocked(id)
		}
	}
	for id, rt := range s.refresh {
		if rt.AccountID == accountID {
			delete(s.refreshByHash, rt.SecretHash)
			delete(s.refresh, id)
		}
	}
	return nil
}

// SetLocked flips the account lock flag. The lockout policy itself
// lives outside the auth engine, so this is the hook for it.
func (s *Store) SetLocked(accountID string, locked bool) error {
	return s.mutateAccount(accountID, func(a *store.Account) error {
		a.Locked = locked
		return nil
	})
}

// SeedOwnedRows plants product rows (saved hooks, collections, ...)
// owned by the account so PurgeAccount has something to delete.
func (s *Store) SeedOwnedRows(table, accountID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owned[table] == nil {
		s.owned[table] = make(map[string]int)
	}
	s.owned[table][accountID] = n
}

// OwnedRows reports how many seeded rows of the table the account
// still owns.
func (s *Store) OwnedRows(table, accountID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.owned[table][accountID]
}

// FailPurgeAt makes the next PurgeAccount fail with err when it
// reaches the named step. Pass a nil error to clear the failpoint.
func (s *Store) FailPurgeAt(step string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.purgeFailures, step)
		return
	}
	s.purgeFailures[step] = err
}

type snapshot struct {
	accounts   map[string]*store.Account
	byEmail    map[string]string
	byUsername map[string]string
	sessions   map[string]*store.Session
	refresh    map[string]*store.RefreshToken
	refreshByH map[[32]byte]string
	resets     map[string]*store.PasswordResetToken
	owned      map[string]map[string]int
}

func (s *Store) snapshotLocked() snapshot {
	snap := snapshot{
		accounts:   make(map[string]*store.Account, len(s.accounts)),
		byEmail:    make(map[string]string, len(s.byEmail)),
		byUsername: make(map[string]string, len(s.byUsername)),
		sessions:   make(map[string]*store.Session, len(s.sessions)),
		refresh:    make(map[string]*store.RefreshToken, len(s.refresh)),
		refreshByH: make(map[[32]byte]string, len(s.refreshByHash)),
		resets:     make(map[string]*store.PasswordResetToken, len(s.resets)),
		owned:      make(map[string]map[string]int, len(s.owned)),
	}
	for k, v := range s.accounts {
		snap.accounts[k] = cloneAccount(v)
	}
	for k, v := range s.byEmail {
		snap.byEmail[k] = v
	}
	for k, v := range s.byUsername {
		snap.byUsername[k] = v
	}
	for k, v := range s.sessions {
		snap.sessions[k] = cloneSession(v)
	}
	for k, v := range s.refresh {
		snap.refresh[k] = cloneRefresh(v)
	}
	for k, v := range s.refreshByHash {
		snap.refreshByH[k] = v
	}
	for k, v := range s.resets {
		snap.resets[k] = cloneReset(v)
	}
	for table, rows := range s.owned {
		cp := make(map[string]int, len(rows))
		for k, v := range rows {
			cp[k] = v
		}
		snap.owned[table] = cp
	}
	return snap
}

func (s *Store) restoreLocked(snap snapshot) {
	s.accounts = snap.accounts
	s.byEmail = snap.byEmail
	s.byUsername = snap.byUsername
	s.sessions = snap.sessions
	s.refresh = snap.refresh
	s.refreshByHash = snap.refreshByH
	s.resets = snap.resets
	s.owned = snap.owned
}

// PurgeAccount walks PurgeSteps in order. Any step failing rolls the
// whole store back to its pre-purge state.
func (s *Store) PurgeAccount(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}

	snap := s.snapshotLocked()
	for _, step := range PurgeSteps {
		if err := s.purgeFailures[step]; err != nil {
			s.restoreLocked(snap)
			return fmt.Errorf("purge %s: %w", step, err)
		}
		switch step {
		case "sessions":
			for id, sess := range s.sessions {
				if sess.AccountID == accountID {
					delete(s.sessions, id)
				}
			}
		case "refresh_tokens":
			for id, rt := range s.refresh {
				if rt.AccountID == accountID {
					delete(s.refreshByHash, rt.SecretHash)
					delete(s.refresh, id)
				}
			}
		case "password_reset_tokens":
			for id, t := range s.resets {
				if t.AccountID == accountID {
					delete(s.resets, id)
				}
			}
		case "account":
			delete(s.byEmail, a.Email)
			delete(s.byUsername, a.Username)
			delete(s.accounts, accountID)
		default:
			if rows := s.owned[step]; rows != nil {
				delete(rows, accountID)
			}
		}
	}
	return nil
}
