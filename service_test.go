package goRefresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goRefresh/refresh"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte(testSecret)
	cfg.JWT.Issuer = "goRefresh-test"
	cfg.Store.Mode = StoreDurable
	cfg.Store.ReconnectBackoff = time.Millisecond
	cfg.Store.MaxReconnectBackoff = 5 * time.Millisecond
	cfg.Store.RetryInterval = 0
	cfg.Rotation.CleanupBackoff = time.Millisecond
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	return mr, rdb
}

func newTestService(t testing.TB, mutate func(*Config), sink AuditSink) (*Service, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, rdb := newTestRedis(t)
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := New().WithConfig(cfg).WithRedis(rdb).WithAuditSink(sink).Build()
	if err != nil {
		rdb.Close()
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}
	return svc, mr, func() {
		svc.Close()
		rdb.Close()
		mr.Close()
	}
}

func TestServiceIssueRefreshLogout(t *testing.T) {
	svc, _, done := newTestService(t, nil, nil)
	defer done()
	ctx := context.Background()

	if svc.Backend() != "redis" {
		t.Fatalf("expected redis backend, got %q", svc.Backend())
	}

	pair, err := svc.IssueTokens(ctx, "alice", WithDeviceLabel("phone"))
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if pair.RefreshToken == "" || pair.AccessToken == "" {
		t.Fatal("expected both tokens")
	}
	if ttl := time.Until(pair.RefreshExpiresAt); ttl <= 0 || ttl > 7*24*time.Hour {
		t.Fatalf("refresh expiry out of range: %v", ttl)
	}

	claims, err := svc.ParseAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse access failed: %v", err)
	}
	if claims.UID != "alice" || claims.SID != pair.RecordID {
		t.Fatalf("unexpected claims uid=%q sid=%q", claims.UID, claims.SID)
	}

	sessions, err := svc.ListSessions(ctx, "alice")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].RecordID != pair.RecordID || sessions[0].DeviceLabel != "phone" {
		t.Fatalf("unexpected sessions %+v", sessions)
	}

	next, err := svc.Refresh(WithUserID(ctx, "alice"), pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if next.RecordID == pair.RecordID {
		t.Fatal("refresh must mint a new record")
	}
	if _, err := svc.ValidateRefresh(ctx, "alice", pair.RefreshToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old token not found, got %v", err)
	}
	if _, err := svc.ValidateRefresh(ctx, "alice", next.RefreshToken); err != nil {
		t.Fatalf("new token must validate: %v", err)
	}

	sessions, err = svc.ListSessions(ctx, "alice")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].RecordID != next.RecordID {
		t.Fatalf("expected only the rotated session, got %+v", sessions)
	}
	if sessions[0].DeviceLabel != "phone" {
		t.Fatalf("device label lost across rotation: %q", sessions[0].DeviceLabel)
	}

	if err := svc.Logout(ctx, "alice", next.RefreshToken); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if err := svc.Logout(ctx, "alice", next.RefreshToken); err != nil {
		t.Fatalf("second logout must succeed: %v", err)
	}
	if _, err := svc.ValidateRefresh(ctx, "alice", next.RefreshToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after logout, got %v", err)
	}

	snap := svc.MetricsSnapshot()
	if snap.Counters[MetricIssueSuccess] != 1 || snap.Counters[MetricRefreshSuccess] != 1 || snap.Counters[MetricLogout] != 2 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
}

func TestServiceRefreshRequiresUser(t *testing.T) {
	svc, _, done := newTestService(t, nil, nil)
	defer done()

	if _, err := svc.Refresh(context.Background(), "whatever"); !errors.Is(err, ErrUserUnknown) {
		t.Fatalf("expected ErrUserUnknown, got %v", err)
	}
	if _, err := svc.RefreshForUser(context.Background(), "alice", ""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if _, err := svc.IssueTokens(context.Background(), "bad:user"); !errors.Is(err, ErrUserUnknown) {
		t.Fatalf("expected ErrUserUnknown for reserved characters, got %v", err)
	}
}

func TestServiceRefreshUnknownTokenIsNotFound(t *testing.T) {
	svc, _, done := newTestService(t, nil, nil)
	defer done()

	_, err := svc.RefreshForUser(context.Background(), "alice", "never-issued")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatal("not found must not be retryable")
	}
	if got := svc.MetricsSnapshot().Counters[MetricRefreshFailure]; got != 1 {
		t.Fatalf("expected one refresh failure, got %d", got)
	}
}

func TestServiceOutageIsRetryableAndKeepsSession(t *testing.T) {
	svc, mr, done := newTestService(t, nil, nil)
	defer done()
	ctx := context.Background()

	pair, err := svc.IssueTokens(ctx, "alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	addr := mr.Addr()
	mr.Close()

	_, err = svc.RefreshForUser(ctx, "alice", pair.RefreshToken)
	if err == nil {
		t.Fatal("expected refresh to fail during outage")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("outage must not look like an invalid token: %v", err)
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if _, err := svc.ValidateRefresh(ctx, "alice", pair.RefreshToken); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from validate, got %v", err)
	}
	if h := svc.Health(ctx); h.StoreAvailable {
		t.Fatal("health must report the store down")
	}
	if svc.MetricsSnapshot().Counters[MetricRefreshUnavailable] != 1 {
		t.Fatal("expected the retryable refresh to be counted")
	}

	mr2 := miniredis.NewMiniRedis()
	if err := mr2.StartAddr(addr); err != nil {
		t.Fatalf("restart miniredis: %v", err)
	}
	defer mr2.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !svc.Health(ctx).StoreAvailable {
		if time.Now().After(deadline) {
			t.Fatalf("health must recover once the store is back: %+v", svc.Health(ctx))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServiceLogoutAllEmptiesSessions(t *testing.T) {
	svc, _, done := newTestService(t, nil, nil)
	defer done()
	ctx := context.Background()

	tokens := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		pair, err := svc.IssueTokens(ctx, "alice")
		if err != nil {
			t.Fatalf("issue %d failed: %v", i, err)
		}
		tokens = append(tokens, pair.RefreshToken)
	}
	bob, err := svc.IssueTokens(ctx, "bob")
	if err != nil {
		t.Fatalf("issue bob failed: %v", err)
	}

	n, err := svc.LogoutAll(ctx, "alice")
	if err != nil {
		t.Fatalf("logout all failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked, got %d", n)
	}

	sessions, err := svc.ListSessions(ctx, "alice")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(sessions))
	}
	for _, tok := range tokens {
		if _, err := svc.ValidateRefresh(ctx, "alice", tok); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected revoked token, got %v", err)
		}
	}
	if _, err := svc.ValidateRefresh(ctx, "bob", bob.RefreshToken); err != nil {
		t.Fatalf("other users must be untouched: %v", err)
	}
	if got := svc.MetricsSnapshot().Counters[MetricSessionsRevoked]; got != 3 {
		t.Fatalf("expected 3 revoked sessions counted, got %d", got)
	}
}

func TestServiceDiagnostics(t *testing.T) {
	svc, _, done := newTestService(t, nil, nil)
	defer done()
	ctx := context.Background()

	for _, u := range []string{"alice", "alice", "bob"} {
		if _, err := svc.IssueTokens(ctx, u); err != nil {
			t.Fatalf("issue for %s failed: %v", u, err)
		}
	}

	snap, err := svc.Diagnostics(ctx, "alice")
	if err != nil {
		t.Fatalf("diagnostics failed: %v", err)
	}
	if snap.TokenCount != 2 || snap.SessionCount == nil || *snap.SessionCount != 2 {
		t.Fatalf("unexpected alice snapshot %+v", snap)
	}
	for _, ttl := range snap.PerTokenTTL {
		if ttl <= 0 || ttl > 604800 {
			t.Fatalf("ttl %d out of (0, 604800]", ttl)
		}
	}
	if snap.Backend != "redis" || !snap.StoreAvailable {
		t.Fatalf("unexpected backend fields %+v", snap)
	}

	global, err := svc.Diagnostics(ctx, "")
	if err != nil {
		t.Fatalf("global diagnostics failed: %v", err)
	}
	if global.TokenCount != 3 {
		t.Fatalf("expected 3 tokens globally, got %d", global.TokenCount)
	}
	if _, err := svc.Diagnostics(ctx, "bad*user"); !errors.Is(err, ErrUserUnknown) {
		t.Fatalf("expected ErrUserUnknown, got %v", err)
	}
}

func TestServiceNamespaceIsolation(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()
	defer rdb.Close()

	build := func(ns string) *Service {
		cfg := testConfig()
		cfg.Store.Namespace = ns
		svc, err := New().WithConfig(cfg).WithRedis(rdb).Build()
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		return svc
	}
	a := build("tenant-a")
	defer a.Close()
	b := build("tenant-b")
	defer b.Close()

	ctx := context.Background()
	pair, err := a.IssueTokens(ctx, "alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := b.ValidateRefresh(ctx, "alice", pair.RefreshToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("namespaces must not share records, got %v", err)
	}
	if n, err := b.LogoutAll(ctx, "alice"); err != nil || n != 0 {
		t.Fatalf("logout all in other namespace: n=%d err=%v", n, err)
	}
	if _, err := a.ValidateRefresh(ctx, "alice", pair.RefreshToken); err != nil {
		t.Fatalf("record must survive a foreign logout-all: %v", err)
	}

	wantKey, err := refresh.Keys{Namespace: "tenant-a"}.Record("alice", refresh.HashToken(pair.RefreshToken))
	if err != nil {
		t.Fatalf("key build failed: %v", err)
	}
	if wantKey != "tenant-a:refresh-token:{alice}:"+refresh.HashToken(pair.RefreshToken) {
		t.Fatalf("unexpected key layout %q", wantKey)
	}
	if !mr.Exists(wantKey) {
		t.Fatalf("expected namespaced key %q", wantKey)
	}
}

func TestServiceConcurrentRefreshSameToken(t *testing.T) {
	svc, _, done := newTestService(t, nil, nil)
	defer done()
	ctx := context.Background()

	pair, err := svc.IssueTokens(ctx, "alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	type result struct {
		pair *TokenPair
		err  error
	}
	results := make(chan result, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			p, err := svc.RefreshForUser(ctx, "alice", pair.RefreshToken)
			results <- result{p, err}
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	for r := range results {
		if r.err == nil {
			success++
			if _, err := svc.ValidateRefresh(ctx, "alice", r.pair.RefreshToken); err != nil {
				t.Fatalf("successful refresh returned an unusable token: %v", err)
			}
			continue
		}
		if !errors.Is(r.err, ErrNotFound) {
			t.Fatalf("unexpected refresh error: %v", r.err)
		}
	}
	if success < 1 {
		t.Fatal("expected at least one refresh success")
	}
	if _, err := svc.ValidateRefresh(ctx, "alice", pair.RefreshToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old token must be retired, got %v", err)
	}
}

func TestServiceClosedRejectsCalls(t *testing.T) {
	svc, _, done := newTestService(t, nil, nil)
	defer done()

	if err := svc.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if _, err := svc.IssueTokens(context.Background(), "alice"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}

	var nilSvc *Service
	if _, err := nilSvc.IssueTokens(context.Background(), "alice"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady from nil service, got %v", err)
	}
}

func BenchmarkServiceRefresh(b *testing.B) {
	svc, _, done := newTestService(b, func(c *Config) { c.Metrics.Enabled = false }, nil)
	defer done()
	ctx := context.Background()

	pair, err := svc.IssueTokens(ctx, "alice")
	if err != nil {
		b.Fatalf("issue failed: %v", err)
	}
	token := pair.RefreshToken

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		next, err := svc.RefreshForUser(ctx, "alice", token)
		if err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
		token = next.RefreshToken
	}
}
