package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goRefresh/conn"
	"github.com/MrEthical07/goRefresh/fallback"
	"github.com/MrEthical07/goRefresh/refresh"
	"github.com/MrEthical07/goRefresh/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportFromMemoryStore(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := fallback.New(fallback.Options{Now: func() time.Time { return now }})
	ctx := context.Background()

	for i, ttl := range []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour} {
		rec, err := store.Store(ctx, "alice", string(rune('a'+i)), ttl)
		require.NoError(t, err)
		require.NoError(t, store.AddSession(ctx, rec))
	}

	snap, err := NewReporter(store, store, nil).Report(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.TokenCount)
	assert.Equal(t, []int{3600, 7200, 10800}, snap.PerTokenTTL)
	assert.False(t, snap.PersistenceEnabled)
	assert.Equal(t, fallback.Backend, snap.Backend)
	require.NotNil(t, snap.SessionCount)
	assert.Equal(t, 3, *snap.SessionCount)
	assert.True(t, snap.StoreAvailable)
}

func TestReportIsReadOnly(t *testing.T) {
	store := fallback.New(fallback.Options{})
	ctx := context.Background()

	rec, err := store.Store(ctx, "alice", "tok", time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.AddSession(ctx, rec))
	require.NoError(t, store.Revoke(ctx, "alice", "tok"))

	r := NewReporter(store, store, nil)
	for i := 0; i < 2; i++ {
		snap, err := r.Report(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 0, snap.TokenCount)
		// stale index entry is reported, never reconciled
		assert.Equal(t, 1, *snap.SessionCount)
	}
}

func TestReportFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	m := conn.New(rdb, conn.Options{MaxReconnectAttempts: 1})
	defer m.Close()
	require.NoError(t, m.Connect(context.Background()))

	keys := refresh.Keys{Namespace: "rt"}
	store := refresh.NewRedisStore(m, keys, 0, nil)
	reg := session.NewRedisRegistry(m, keys, 0, nil)
	ctx := context.Background()

	for _, tok := range []string{"a", "b"} {
		rec, err := store.Store(ctx, "alice", tok, 604800*time.Second)
		require.NoError(t, err)
		require.NoError(t, reg.AddSession(ctx, rec))
	}
	_, err := store.Store(ctx, "bob", "c", time.Hour)
	require.NoError(t, err)

	snap, err := NewReporter(store, reg, nil).Report(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.TokenCount)
	for _, ttl := range snap.PerTokenTTL {
		assert.Greater(t, ttl, 0)
		assert.LessOrEqual(t, ttl, 604800)
	}
	assert.Equal(t, "redis", snap.Backend)
	assert.Equal(t, 2, *snap.SessionCount)

	global, err := NewReporter(store, reg, nil).Report(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, global.TokenCount)
	assert.Nil(t, global.SessionCount)
}

func TestReportUnavailableStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	m := conn.New(rdb, conn.Options{MaxReconnectAttempts: 1})
	defer m.Close()
	require.NoError(t, m.Connect(context.Background()))

	store := refresh.NewRedisStore(m, refresh.Keys{}, 0, nil)
	mr.Close()

	_, err := NewReporter(store, nil, nil).Report(context.Background(), "alice")
	require.True(t, errors.Is(err, conn.ErrUnavailable), "got %v", err)
}

func TestSnapshotJSONShape(t *testing.T) {
	count := 2
	snap := Snapshot{
		TokenCount:         2,
		PerTokenTTL:        []int{10, 20},
		PersistenceEnabled: true,
		Backend:            "redis",
		UserID:             "alice",
		SessionCount:       &count,
		StoreAvailable:     true,
	}
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"tokenCount", "perTokenTTL", "persistenceEnabled", "backend", "userId", "sessionCount", "storeAvailable", "generatedAt"} {
		assert.Contains(t, fields, key)
	}
}

func TestSecondsRoundsUp(t *testing.T) {
	assert.Equal(t, 1, seconds(500*time.Millisecond))
	assert.Equal(t, 60, seconds(time.Minute))
	assert.Equal(t, -1, seconds(conn.NoExpiry))
}
