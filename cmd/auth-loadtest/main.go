// auth-loadtest measures session read and refresh throughput against a
// Redis session backend. Without -redis-addr it spins up miniredis, so
// it runs self-contained.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	auth "github.com/hookscraper/auth"
	"github.com/hookscraper/auth/internal/secrets"
	"github.com/hookscraper/auth/store"
	"github.com/hookscraper/auth/store/memstore"
	"github.com/hookscraper/auth/store/redisstore"
)

func main() {
	var (
		sessions    = flag.Int("sessions", 100000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (read + refresh)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "hs", "session key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	rstore := redisstore.New(client, *prefix)

	cfg := auth.DefaultConfig()
	cfg.Token.Secret = "loadtest-secret-not-for-production-0123"

	mem := memstore.New()
	engine, err := auth.New().
		WithConfig(cfg).
		WithStore(mem).
		WithSessionBackend(rstore, rstore).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}

	now := time.Now()
	acct := &store.Account{
		ID:        "acct-loadtest",
		FullName:  "Load Test",
		Username:  "loadtest",
		Email:     "loadtest@example.com",
		Role:      auth.DefaultRole,
		PlanType:  auth.DefaultPlanType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := mem.CreateAccount(ctx, acct); err != nil {
		fmt.Fprintf(os.Stderr, "seed account: %v\n", err)
		os.Exit(1)
	}

	sids := make([]string, *sessions)
	tokens := make([]string, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := 0; i < *sessions; i++ {
		sid := fmt.Sprintf("sid-%d", i)
		sids[i] = sid
		if err := rstore.CreateSession(ctx, &store.Session{
			ID:         sid,
			AccountID:  acct.ID,
			IP:         "127.0.0.1",
			UserAgent:  "loadtest",
			LastActive: now,
			ExpiresAt:  now.Add(24 * time.Hour),
			CreatedAt:  now,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "seed session: %v\n", err)
			os.Exit(1)
		}

		secret := fmt.Sprintf("rt-%d-loadtest", i)
		tokens[i] = secret
		if err := rstore.CreateRefreshToken(ctx, &store.RefreshToken{
			ID:         fmt.Sprintf("rt-%d", i),
			AccountID:  acct.ID,
			SessionID:  sid,
			SecretHash: secrets.Hash(secret),
			ExpiresAt:  now.Add(30 * 24 * time.Hour),
			CreatedAt:  now,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "seed refresh token: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	readStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := rstore.SessionByID(ctx, sids[r.Intn(len(sids))])
		return err
	})
	refreshStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, _, err := engine.Refresh(ctx, tokens[r.Intn(len(tokens))])
		return err
	})

	fmt.Println("---- results ----")
	printStats("session read", readStats)
	printStats("refresh", refreshStats)
}

func runPhase(ops, concurrency int, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
