package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goRefresh/conn"
	"go.uber.org/zap"
)

// TokenStore is the record contract shared by the durable and in-memory
// backends.
type TokenStore interface {
	Store(ctx context.Context, userID, rawToken string, ttl time.Duration, opts ...StoreOption) (*Record, error)
	Validate(ctx context.Context, userID, rawToken string) (*Record, error)
	Revoke(ctx context.Context, userID, rawToken string) error
	Lookup(ctx context.Context, userID, tokenHash string) (*Record, error)
	RevokeHash(ctx context.Context, userID, tokenHash string) error
	TTL(ctx context.Context, userID, tokenHash string) (time.Duration, error)
}

// StoreOption customizes a single Store call.
type StoreOption func(*storeOptions)

type storeOptions struct {
	deviceLabel string
}

// WithDeviceLabel attaches a human-readable client label to the record.
func WithDeviceLabel(label string) StoreOption {
	return func(o *storeOptions) { o.deviceLabel = label }
}

// ApplyStoreOptions resolves opts for alternative TokenStore implementations.
func ApplyStoreOptions(opts []StoreOption) (deviceLabel string) {
	var o storeOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o.deviceLabel
}

// NewRecord builds the record a TokenStore persists for (userID, rawToken).
func NewRecord(userID, rawToken string, now time.Time, ttl time.Duration, opts ...StoreOption) (*Record, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	if rawToken == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	return newRecord(userID, HashToken(rawToken), now, ttl, ApplyStoreOptions(opts)), nil
}

// RedisStore is the durable TokenStore.
type RedisStore struct {
	conn    *conn.Manager
	keys    Keys
	log     *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewRedisStore binds a store to a connection manager. A zero timeout uses
// the manager's command timeout.
func NewRedisStore(m *conn.Manager, keys Keys, timeout time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		conn:    m,
		keys:    keys,
		log:     logger.Named("refresh"),
		timeout: timeout,
		now:     time.Now,
	}
}

// Keys returns the key builder used by the store.
func (s *RedisStore) Keys() Keys { return s.keys }

// Store writes a record for rawToken and verifies that the store applied a
// TTL in (0, ttl]. When the first check fails the TTL is re-applied once; if
// that also fails the key is deleted and ErrTTLNotApplied is returned.
func (s *RedisStore) Store(ctx context.Context, userID, rawToken string, ttl time.Duration, opts ...StoreOption) (*Record, error) {
	rec, err := NewRecord(userID, rawToken, s.now(), ttl, opts...)
	if err != nil {
		return nil, err
	}
	key, err := s.keys.Record(userID, rec.TokenHash)
	if err != nil {
		return nil, err
	}
	payload, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}

	res, err := s.conn.Execute(ctx, s.timeout, conn.Set(key, payload, ttl), conn.PTTL(key))
	if err != nil {
		return nil, err
	}
	if res[0].Err != nil {
		return nil, res[0].Err
	}
	if ttlApplied(res[1], ttl) {
		return rec, nil
	}

	s.log.Error("refresh record written without a valid ttl, reapplying",
		zap.String("record_id", rec.RecordID),
		zap.Duration("observed_ttl", res[1].TTL),
		zap.Duration("requested_ttl", ttl),
	)
	res, err = s.conn.Execute(ctx, s.timeout, conn.Expire(key, ttl), conn.PTTL(key))
	if err == nil && ttlApplied(res[1], ttl) {
		return rec, nil
	}

	if _, delErr := s.conn.Execute(ctx, s.timeout, conn.Del(key)); delErr != nil {
		s.log.Error("failed to remove refresh record without ttl",
			zap.String("record_id", rec.RecordID),
			zap.Error(delErr),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTTLNotApplied, err)
	}
	return nil, fmt.Errorf("%w: observed %v", ErrTTLNotApplied, res[1].TTL)
}

func ttlApplied(r conn.Result, ttl time.Duration) bool {
	return r.Err == nil && !r.Nil && r.TTL > 0 && r.TTL <= ttl
}

// Validate confirms connectivity with a ping before reading, so a dead
// backend surfaces as unavailable rather than as a missing record.
func (s *RedisStore) Validate(ctx context.Context, userID, rawToken string) (*Record, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	if rawToken == "" {
		return nil, ErrNotFound
	}
	if _, err := s.conn.Ping(ctx); err != nil {
		return nil, err
	}
	return s.Lookup(ctx, userID, HashToken(rawToken))
}

// Lookup reads the record addressed by tokenHash.
func (s *RedisStore) Lookup(ctx context.Context, userID, tokenHash string) (*Record, error) {
	key, err := s.keys.Record(userID, tokenHash)
	if err != nil {
		return nil, err
	}
	res, err := s.conn.Execute(ctx, s.timeout, conn.Get(key))
	if err != nil {
		return nil, err
	}
	if res[0].Nil {
		return nil, ErrNotFound
	}
	if res[0].Err != nil {
		return nil, res[0].Err
	}

	rec, err := DecodeRecord(res[0].Bytes)
	if err != nil {
		s.log.Warn("unreadable refresh record treated as absent",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, ErrNotFound
	}
	if rec.UserID != userID || rec.RecordID != RecordID(userID, tokenHash) {
		s.log.Warn("refresh record does not match its key",
			zap.String("user_id", userID),
			zap.String("record_id", rec.RecordID),
		)
		return nil, ErrNotFound
	}
	if rec.Expired(s.now()) {
		return nil, ErrNotFound
	}
	rec.TokenHash = tokenHash
	return rec, nil
}

// Revoke deletes the record for rawToken. Revoking an absent record succeeds.
func (s *RedisStore) Revoke(ctx context.Context, userID, rawToken string) error {
	if rawToken == "" {
		return nil
	}
	return s.RevokeHash(ctx, userID, HashToken(rawToken))
}

// RevokeHash is the hash-addressed form of Revoke.
func (s *RedisStore) RevokeHash(ctx context.Context, userID, tokenHash string) error {
	key, err := s.keys.Record(userID, tokenHash)
	if err != nil {
		return err
	}
	res, err := s.conn.Execute(ctx, s.timeout, conn.Del(key))
	if err != nil {
		return err
	}
	return res[0].Err
}

// TTL returns the store-reported remaining lifetime of a record.
func (s *RedisStore) TTL(ctx context.Context, userID, tokenHash string) (time.Duration, error) {
	key, err := s.keys.Record(userID, tokenHash)
	if err != nil {
		return 0, err
	}
	res, err := s.conn.Execute(ctx, s.timeout, conn.PTTL(key))
	if err != nil {
		return 0, err
	}
	if res[0].Err != nil {
		return 0, res[0].Err
	}
	if res[0].Nil {
		return 0, ErrNotFound
	}
	return res[0].TTL, nil
}

// TokenTTLs lists the remaining TTL of every record of userID (or of all
// users when userID is empty). It scans the keyspace and is meant for
// operational tooling only.
func (s *RedisStore) TokenTTLs(ctx context.Context, userID string) ([]time.Duration, error) {
	pattern, err := s.keys.RecordPattern(userID)
	if err != nil {
		return nil, err
	}

	var ttls []time.Duration
	err = s.conn.Scan(ctx, pattern, func(keys []string) error {
		cmds := make([]conn.Command, len(keys))
		for i, key := range keys {
			cmds[i] = conn.PTTL(key)
		}
		res, err := s.conn.Execute(ctx, s.timeout, cmds...)
		if err != nil {
			return err
		}
		for _, r := range res {
			if r.Nil || r.Err != nil {
				continue
			}
			ttls = append(ttls, r.TTL)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ttls, nil
}

// PersistenceEnabled reports whether the server is configured to persist
// data (AOF or RDB snapshots).
func (s *RedisStore) PersistenceEnabled(ctx context.Context) (bool, error) {
	aof, err := s.conn.ConfigGet(ctx, "appendonly")
	if err != nil {
		return false, err
	}
	if strings.EqualFold(aof["appendonly"], "yes") {
		return true, nil
	}
	save, err := s.conn.ConfigGet(ctx, "save")
	if err != nil {
		if errors.Is(err, conn.ErrCommand) {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(save["save"]) != "", nil
}

// Ping checks the backend, restoring the connection state on success.
func (s *RedisStore) Ping(ctx context.Context) error {
	_, err := s.conn.Ping(ctx)
	return err
}

// Available reports the connection manager's current state.
func (s *RedisStore) Available() bool {
	return s.conn.IsAvailable()
}

// Backend names the implementation in diagnostics output.
func (s *RedisStore) Backend() string { return "redis" }
