package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hookscraper/auth/internal/secrets"
	"github.com/hookscraper/auth/store/memstore"
)

// refreshHash digests a refresh secret the way the engine stores it.
func refreshHash(token string) [32]byte {
	return secrets.Hash(token)
}

const (
	testSecret   = "test-secret-0123456789abcdef-0123456789"
	testPassword = "Str0ng&Secure#Pass"
)

// fakeClock is the engine's time source in tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// mailRecorder captures outbound mail instead of delivering it.
type mailRecorder struct {
	mu    sync.Mutex
	sent  []sentMail
	fail  bool
	Calls int
}

type sentMail struct {
	Kind  string
	To    string
	Token string
}

func (m *mailRecorder) record(kind, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.fail {
		return context.DeadlineExceeded
	}
	m.sent = append(m.sent, sentMail{Kind: kind, To: to, Token: token})
	return nil
}

func (m *mailRecorder) SendVerification(_ context.Context, to, _, token string) error {
	return m.record("verification", to, token)
}

func (m *mailRecorder) SendPasswordReset(_ context.Context, to, _, token string) error {
	return m.record("password_reset", to, token)
}

func (m *mailRecorder) SendPasswordChanged(_ context.Context, to, _ string) error {
	return m.record("password_changed", to, "")
}

func (m *mailRecorder) SendAccountDeleted(_ context.Context, to, _ string) error {
	return m.record("account_deleted", to, "")
}

func (m *mailRecorder) last() (sentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}, false
	}
	return m.sent[len(m.sent)-1], true
}

func (m *mailRecorder) byKind(kind string) []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentMail
	for _, s := range m.sent {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.Secret = testSecret
	// Keep hashing cheap so the suite stays fast.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

type testRig struct {
	engine *Engine
	store  *memstore.Store
	mail   *mailRecorder
	clock  *fakeClock
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	st := memstore.New()
	clock := newFakeClock()
	rec := &mailRecorder{}
	eng, err := New().
		WithConfig(testConfig()).
		WithStore(st).
		WithMailer(rec).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return &testRig{engine: eng, store: st, mail: rec, clock: clock}
}

func testMeta() ClientMeta {
	return ClientMeta{IP: "203.0.113.9", UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Firefox/126.0", Location: "Berlin, DE"}
}

func signUpInput(username, email string) SignUpInput {
	return SignUpInput{
		FullName:        "Test User",
		Username:        username,
		Email:           email,
		Password:        testPassword,
		ConfirmPassword: testPassword,
	}
}

func (r *testRig) mustSignUp(t *testing.T, username, email string) *SignUpResult {
	t.Helper()
	res, err := r.engine.SignUp(context.Background(), signUpInput(username, email), testMeta())
	if err != nil {
		t.Fatalf("SignUp(%s): %v", username, err)
	}
	return res
}

// enableTwoFactor walks the real setup flow and returns the shared
// secret and plaintext backup codes.
func (r *testRig) enableTwoFactor(t *testing.T, accountID string) *TwoFactorSetup {
	t.Helper()
	ctx := context.Background()
	setup, err := r.engine.SetupTwoFactor(ctx, accountID)
	if err != nil {
		t.Fatalf("SetupTwoFactor: %v", err)
	}
	code := r.totpCode(setup.Secret, 0)
	if err := r.engine.ConfirmTwoFactor(ctx, accountID, code); err != nil {
		t.Fatalf("ConfirmTwoFactor: %v", err)
	}
	return setup
}

// totpCode computes the code for the step at offset steps from now.
func (r *testRig) totpCode(secret string, offset int) string {
	tp := r.engine.totp
	key, err := decodeSecret(secret)
	if err != nil {
		panic(err)
	}
	counter := r.clock.Now().Unix()/int64(tp.period) + int64(offset)
	return tp.code(key, uint64(counter))
}
