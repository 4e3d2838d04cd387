package session

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/MrEthical07/goRefresh/conn"
	"github.com/MrEthical07/goRefresh/refresh"
	"go.uber.org/zap"
)

// RedisRegistry is the durable [Registry].
type RedisRegistry struct {
	conn    *conn.Manager
	keys    refresh.Keys
	log     *zap.Logger
	timeout time.Duration
	now     func() time.Time

	onReconciled func(userID string, removed int)
}

// NewRedisRegistry binds a registry to a connection manager. keys must match
// the [refresh.RedisStore] sharing the same backend.
func NewRedisRegistry(m *conn.Manager, keys refresh.Keys, timeout time.Duration, logger *zap.Logger) *RedisRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRegistry{
		conn:    m,
		keys:    keys,
		log:     logger.Named("session"),
		timeout: timeout,
		now:     time.Now,
	}
}

// OnReconciled registers a callback invoked after stale entries are dropped.
func (r *RedisRegistry) OnReconciled(fn func(userID string, removed int)) {
	r.onReconciled = fn
}

// AddSession indexes rec under its user. The index key is kept alive at
// least as long as its longest-lived record.
func (r *RedisRegistry) AddSession(ctx context.Context, rec *refresh.Record) error {
	setKey, err := r.keys.SessionSet(rec.UserID)
	if err != nil {
		return err
	}
	res, err := r.conn.Execute(ctx, r.timeout,
		conn.HSet(setKey, rec.RecordID, []byte(rec.TokenHash)),
		conn.PTTL(setKey),
	)
	if err != nil {
		return err
	}
	if res[0].Err != nil {
		return res[0].Err
	}

	remaining := rec.ExpiresAt.Sub(r.now())
	if remaining <= 0 {
		return nil
	}
	if res[1].TTL > 0 && res[1].TTL >= remaining {
		return nil
	}
	res, err = r.conn.Execute(ctx, r.timeout, conn.Expire(setKey, remaining))
	if err != nil {
		return err
	}
	return res[0].Err
}

// RemoveSession drops recordID from the index. Removing an absent entry
// succeeds.
func (r *RedisRegistry) RemoveSession(ctx context.Context, userID, recordID string) error {
	setKey, err := r.keys.SessionSet(userID)
	if err != nil {
		return err
	}
	if recordID == "" {
		return nil
	}
	res, err := r.conn.Execute(ctx, r.timeout, conn.HDel(setKey, recordID))
	if err != nil {
		return err
	}
	return res[0].Err
}

// ListSessions resolves every indexed entry against its record, newest
// first. Entries without a live record are removed from the index.
func (r *RedisRegistry) ListSessions(ctx context.Context, userID string) ([]Descriptor, error) {
	setKey, err := r.keys.SessionSet(userID)
	if err != nil {
		return nil, err
	}
	res, err := r.conn.Execute(ctx, r.timeout, conn.HGetAll(setKey))
	if err != nil {
		return nil, err
	}
	if res[0].Err != nil {
		return nil, res[0].Err
	}
	if res[0].Nil {
		return []Descriptor{}, nil
	}

	type entry struct {
		recordID string
		hash     string
	}
	entries := make([]entry, 0, len(res[0].Map))
	cmds := make([]conn.Command, 0, 2*len(res[0].Map))
	var stale []string
	for recordID, hash := range res[0].Map {
		key, err := r.keys.Record(userID, hash)
		if err != nil {
			stale = append(stale, recordID)
			continue
		}
		entries = append(entries, entry{recordID: recordID, hash: hash})
		cmds = append(cmds, conn.Get(key), conn.PTTL(key))
	}

	out := make([]Descriptor, 0, len(entries))
	if len(cmds) > 0 {
		reads, err := r.conn.Execute(ctx, r.timeout, cmds...)
		if err != nil {
			return nil, err
		}
		now := r.now()
		for i, e := range entries {
			get, ttl := reads[2*i], reads[2*i+1]
			if get.Err != nil {
				return nil, get.Err
			}
			if get.Nil {
				stale = append(stale, e.recordID)
				continue
			}
			rec, err := refresh.DecodeRecord(get.Bytes)
			if err != nil || rec.UserID != userID || rec.RecordID != e.recordID || rec.Expired(now) {
				stale = append(stale, e.recordID)
				continue
			}
			out = append(out, NewDescriptor(rec, ttl.TTL))
		}
	}

	if len(stale) > 0 {
		r.reconcile(ctx, userID, setKey, stale)
	}
	sortDescriptors(out)
	return out, nil
}

func (r *RedisRegistry) reconcile(ctx context.Context, userID, setKey string, stale []string) {
	res, err := r.conn.Execute(ctx, r.timeout, conn.HDel(setKey, stale...))
	if err == nil {
		err = res[0].Err
	}
	if err != nil {
		// the next read retries
		r.log.Warn("session index reconciliation failed",
			zap.String("user_id", userID),
			zap.Int("stale", len(stale)),
			zap.Error(err),
		)
		return
	}
	r.log.Debug("session index reconciled",
		zap.String("user_id", userID),
		zap.Int("removed", len(stale)),
	)
	if r.onReconciled != nil {
		r.onReconciled(userID, len(stale))
	}
}

// maxRevokePasses bounds RevokeAll when sessions keep appearing.
const maxRevokePasses = 4

// RevokeAll deletes every indexed record in MULTI/EXEC passes, so callers
// never observe a partially revoked user. It returns the number of records
// that existed.
//
// Each pass removes exactly the entries its HGETALL snapshot saw and reads
// the remaining index size inside the same transaction. Entries added
// concurrently, such as the new record of an in-flight rotation, are swept
// by the next pass.
func (r *RedisRegistry) RevokeAll(ctx context.Context, userID string) (int, error) {
	setKey, err := r.keys.SessionSet(userID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for pass := 0; pass < maxRevokePasses; pass++ {
		n, remaining, err := r.revokePass(ctx, userID, setKey)
		deleted += n
		if err != nil {
			return deleted, err
		}
		if remaining == 0 {
			return deleted, nil
		}
		r.log.Debug("sessions added during logout-all, sweeping again",
			zap.String("user_id", userID),
			zap.Int("remaining", remaining),
		)
	}
	r.log.Warn("logout-all stopped with sessions still indexed",
		zap.String("user_id", userID),
		zap.Int("passes", maxRevokePasses),
	)
	return deleted, nil
}

func (r *RedisRegistry) revokePass(ctx context.Context, userID, setKey string) (deleted, remaining int, err error) {
	res, err := r.conn.Execute(ctx, r.timeout, conn.HGetAll(setKey))
	if err != nil {
		return 0, 0, err
	}
	if res[0].Err != nil {
		return 0, 0, res[0].Err
	}
	if len(res[0].Map) == 0 {
		return 0, 0, nil
	}

	fields := make([]string, 0, len(res[0].Map))
	cmds := make([]conn.Command, 0, len(res[0].Map)+2)
	for recordID, hash := range res[0].Map {
		fields = append(fields, recordID)
		key, err := r.keys.Record(userID, hash)
		if err != nil {
			continue
		}
		cmds = append(cmds, conn.Del(key))
	}
	cmds = append(cmds, conn.HDel(setKey, fields...), conn.HLen(setKey))

	out, err := r.conn.ExecuteTx(ctx, r.timeout, cmds...)
	if err != nil {
		return 0, 0, err
	}
	for _, d := range out[:len(out)-2] {
		if d.Err != nil {
			return 0, 0, d.Err
		}
		deleted += int(d.Int)
	}
	last := out[len(out)-1]
	if last.Err != nil {
		return deleted, 0, last.Err
	}
	return deleted, int(last.Int), nil
}

// SessionCount returns the number of indexed entries, stale ones included.
func (r *RedisRegistry) SessionCount(ctx context.Context, userID string) (int, error) {
	setKey, err := r.keys.SessionSet(userID)
	if err != nil {
		return 0, err
	}
	res, err := r.conn.Execute(ctx, r.timeout, conn.HLen(setKey))
	if err != nil {
		return 0, err
	}
	if res[0].Err != nil {
		return 0, res[0].Err
	}
	return int(res[0].Int), nil
}

func sortDescriptors(ds []Descriptor) {
	slices.SortFunc(ds, func(a, b Descriptor) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.RecordID, b.RecordID)
	})
}
