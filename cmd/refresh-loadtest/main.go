package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goRefresh "github.com/MrEthical07/goRefresh"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type tokenState struct {
	userID  string
	token   string
	retired string
	mu      sync.Mutex
}

func main() {
	var (
		users       = flag.Int("users", 10000, "number of users to seed, one session each")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (validate + refresh)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		namespace   = flag.String("namespace", "loadtest", "key namespace")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var cleanup func()
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		cleanup = mr.Close
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		cleanup = func() {}
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		PoolSize: *concurrency,
	})
	defer client.Close()

	cfg := goRefresh.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("loadtest-secret-0123456789abcdef")
	cfg.Store.Mode = goRefresh.StoreDurable
	cfg.Store.Namespace = *namespace
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	svc, err := goRefresh.New().WithConfig(cfg).WithRedis(client).BuildContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	states := make([]tokenState, *users)
	fmt.Printf("seeding %d sessions...\n", *users)
	startSeed := time.Now()
	for i := 0; i < *users; i++ {
		userID := fmt.Sprintf("user-%d", i)
		pair, err := svc.IssueTokens(ctx, userID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = tokenState{userID: userID, token: pair.RefreshToken}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(*ops, *concurrency, len(states), func(idx, _ int) error {
		st := &states[idx]
		st.mu.Lock()
		token := st.token
		st.mu.Unlock()
		_, err := svc.ValidateRefresh(ctx, st.userID, token)
		return err
	})

	refreshStats := runPhase(*ops, *concurrency, len(states), func(idx, _ int) error {
		st := &states[idx]
		st.mu.Lock()
		defer st.mu.Unlock()
		pair, err := svc.RefreshForUser(ctx, st.userID, st.token)
		if err != nil {
			return err
		}
		st.retired = st.token
		st.token = pair.RefreshToken
		return nil
	})

	violations := checkInvariants(ctx, svc, states)

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
	fmt.Printf("invariants: users=%d violations=%d\n", len(states), violations)

	snap := svc.MetricsSnapshot()
	fmt.Printf("counters: refresh_success=%d refresh_unavailable=%d rotation_failed=%d inconsistency=%d\n",
		snap.Counters[goRefresh.MetricRefreshSuccess],
		snap.Counters[goRefresh.MetricRefreshUnavailable],
		snap.Counters[goRefresh.MetricRotationFailed],
		snap.Counters[goRefresh.MetricSecurityInconsistency],
	)
	if violations > 0 {
		os.Exit(1)
	}
}

// checkInvariants verifies every lineage ended with exactly one valid
// token: the current one validates, the last retired one is gone, and the
// user has a single indexed session.
func checkInvariants(ctx context.Context, svc *goRefresh.Service, states []tokenState) int {
	violations := 0
	for i := range states {
		st := &states[i]
		if _, err := svc.ValidateRefresh(ctx, st.userID, st.token); err != nil {
			violations++
			fmt.Fprintf(os.Stderr, "%s: current token invalid: %v\n", st.userID, err)
		}
		if st.retired != "" {
			if _, err := svc.ValidateRefresh(ctx, st.userID, st.retired); !errors.Is(err, goRefresh.ErrNotFound) {
				violations++
				fmt.Fprintf(os.Stderr, "%s: retired token still valid or unreadable: %v\n", st.userID, err)
			}
		}
		sessions, err := svc.ListSessions(ctx, st.userID)
		if err != nil || len(sessions) != 1 {
			violations++
			fmt.Fprintf(os.Stderr, "%s: expected one session, got %d (%v)\n", st.userID, len(sessions), err)
		}
	}
	return violations
}

// runPhase runs ops calls of fn across concurrency workers, each call
// against a random index below n.
func runPhase(ops, concurrency, n int, fn func(idx, op int) error) phaseStats {
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
				err := fn(r.Intn(n), i)
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
	return computeStats(time.Since(start), latencies, failures)
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
	return samples[(len(samples)-1)*p/100]
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
