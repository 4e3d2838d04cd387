package goRefresh

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
)

// roundTrips is a go-redis hook counting network round-trips. Every store
// call goes through a pipeline, so pipelines are the unit that matters.
type roundTrips struct {
	commands  atomic.Int64
	pipelines atomic.Int64
}

func (h *roundTrips) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *roundTrips) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		h.pipelines.Add(1)
		return next(ctx, cmd)
	}
}

func (h *roundTrips) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.pipelines.Add(1)
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *roundTrips) reset() {
	h.commands.Store(0)
	h.pipelines.Store(0)
}

func newCountedService(t *testing.T) (*Service, *roundTrips) {
	t.Helper()
	mr, rdb := newTestRedis(t)
	counter := &roundTrips{}
	rdb.AddHook(counter)

	svc, err := New().WithConfig(testConfig()).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() {
		svc.Close()
		rdb.Close()
		mr.Close()
	})
	counter.reset()
	return svc, counter
}

func TestIssueRoundTripBudget(t *testing.T) {
	svc, counter := newCountedService(t)

	if _, err := svc.IssueTokens(context.Background(), "alice"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	// store + index, plus at most one EXPIRE extension of the index.
	if n := counter.pipelines.Load(); n > 3 {
		t.Fatalf("issue used %d round-trips; budget is 3", n)
	}
	t.Logf("issue: %d round-trips, %d commands", counter.pipelines.Load(), counter.commands.Load())
}

func TestRefreshRoundTripBudget(t *testing.T) {
	svc, counter := newCountedService(t)
	ctx := context.Background()

	pair, err := svc.IssueTokens(ctx, "alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	counter.reset()

	if _, err := svc.RefreshForUser(ctx, "alice", pair.RefreshToken); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	// lookup, write, index, confirm, recheck, delete, verify, unindex; one
	// spare for an index TTL extension.
	if n := counter.pipelines.Load(); n > 9 {
		t.Fatalf("refresh used %d round-trips; budget is 9", n)
	}
	t.Logf("refresh: %d round-trips, %d commands", counter.pipelines.Load(), counter.commands.Load())
}

func TestLogoutRoundTripBudget(t *testing.T) {
	svc, counter := newCountedService(t)
	ctx := context.Background()

	pair, err := svc.IssueTokens(ctx, "alice")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := svc.IssueTokens(ctx, "alice"); err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	counter.reset()
	if err := svc.Logout(ctx, "alice", pair.RefreshToken); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if n := counter.pipelines.Load(); n > 2 {
		t.Fatalf("logout used %d round-trips; budget is 2", n)
	}

	counter.reset()
	if _, err := svc.LogoutAll(ctx, "alice"); err != nil {
		t.Fatalf("logout-all failed: %v", err)
	}
	if n := counter.pipelines.Load(); n > 2 {
		t.Fatalf("logout-all used %d round-trips; budget is 2", n)
	}
}
