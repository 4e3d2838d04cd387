package fallback

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/goRefresh/refresh"
	"github.com/MrEthical07/goRefresh/session"
	"go.uber.org/zap"
)

// Backend names the implementation in diagnostics output.
const Backend = "memory"

const sweepEvery = 1024

// Options tunes a [MemoryStore].
type Options struct {
	Now    func() time.Time
	Logger *zap.Logger
}

type entry struct {
	rec *refresh.Record
}

// MemoryStore keeps records and the session index in maps guarded by one
// RWMutex. Expiry is enforced on read and by periodic sweeps.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]entry  // userID -> tokenHash -> record
	index   map[string]map[string]string // userID -> recordID -> tokenHash
	writes  int

	now func() time.Time
	log *zap.Logger
}

var (
	_ refresh.TokenStore = (*MemoryStore)(nil)
	_ session.Registry   = (*MemoryStore)(nil)
)

// New returns an empty store.
func New(opts Options) *MemoryStore {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &MemoryStore{
		records: make(map[string]map[string]entry),
		index:   make(map[string]map[string]string),
		now:     opts.Now,
		log:     opts.Logger.Named("fallback"),
	}
}

// Store writes a record for rawToken. The TTL is enforced by the store's
// own clock, so it is always positive when this returns.
func (s *MemoryStore) Store(_ context.Context, userID, rawToken string, ttl time.Duration, opts ...refresh.StoreOption) (*refresh.Record, error) {
	rec, err := refresh.NewRecord(userID, rawToken, s.now(), ttl, opts...)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byHash := s.records[userID]
	if byHash == nil {
		byHash = make(map[string]entry)
		s.records[userID] = byHash
	}
	stored := *rec
	byHash[rec.TokenHash] = entry{rec: &stored}

	s.writes++
	if s.writes%sweepEvery == 0 {
		s.sweepLocked(s.now())
	}
	return rec, nil
}

// Validate returns the live record for rawToken.
func (s *MemoryStore) Validate(ctx context.Context, userID, rawToken string) (*refresh.Record, error) {
	if err := refresh.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if rawToken == "" {
		return nil, refresh.ErrNotFound
	}
	return s.Lookup(ctx, userID, refresh.HashToken(rawToken))
}

// Lookup returns the live record addressed by tokenHash.
func (s *MemoryStore) Lookup(_ context.Context, userID, tokenHash string) (*refresh.Record, error) {
	if err := refresh.ValidateAddress(userID, tokenHash); err != nil {
		return nil, err
	}
	s.mu.RLock()
	e, ok := s.records[userID][tokenHash]
	s.mu.RUnlock()
	if !ok || e.rec.Expired(s.now()) {
		return nil, refresh.ErrNotFound
	}
	out := *e.rec
	return &out, nil
}

// Revoke deletes the record for rawToken. Absent records are not an error.
func (s *MemoryStore) Revoke(ctx context.Context, userID, rawToken string) error {
	if rawToken == "" {
		return nil
	}
	return s.RevokeHash(ctx, userID, refresh.HashToken(rawToken))
}

// RevokeHash deletes the record addressed by tokenHash.
func (s *MemoryStore) RevokeHash(_ context.Context, userID, tokenHash string) error {
	if err := refresh.ValidateAddress(userID, tokenHash); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteRecordLocked(userID, tokenHash)
	return nil
}

// TTL returns the remaining lifetime by the store's clock.
func (s *MemoryStore) TTL(_ context.Context, userID, tokenHash string) (time.Duration, error) {
	if err := refresh.ValidateAddress(userID, tokenHash); err != nil {
		return 0, err
	}
	s.mu.RLock()
	e, ok := s.records[userID][tokenHash]
	s.mu.RUnlock()
	if !ok {
		return 0, refresh.ErrNotFound
	}
	ttl := e.rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return 0, refresh.ErrNotFound
	}
	return ttl, nil
}

// AddSession indexes rec under its user.
func (s *MemoryStore) AddSession(_ context.Context, rec *refresh.Record) error {
	if err := refresh.ValidateUserID(rec.UserID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.index[rec.UserID]
	if idx == nil {
		idx = make(map[string]string)
		s.index[rec.UserID] = idx
	}
	idx[rec.RecordID] = rec.TokenHash
	return nil
}

// RemoveSession drops recordID from the index.
func (s *MemoryStore) RemoveSession(_ context.Context, userID, recordID string) error {
	if err := refresh.ValidateUserID(userID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.index[userID]; idx != nil {
		delete(idx, recordID)
		if len(idx) == 0 {
			delete(s.index, userID)
		}
	}
	return nil
}

// ListSessions resolves indexed entries newest first, dropping entries
// whose record is gone.
func (s *MemoryStore) ListSessions(_ context.Context, userID string) ([]session.Descriptor, error) {
	if err := refresh.ValidateUserID(userID); err != nil {
		return nil, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.index[userID]
	out := make([]session.Descriptor, 0, len(idx))
	removed := 0
	for recordID, hash := range idx {
		e, ok := s.records[userID][hash]
		if !ok || e.rec.Expired(now) || e.rec.RecordID != recordID {
			delete(idx, recordID)
			removed++
			continue
		}
		out = append(out, session.NewDescriptor(e.rec, e.rec.ExpiresAt.Sub(now)))
	}
	if len(idx) == 0 {
		delete(s.index, userID)
	}
	if removed > 0 {
		s.log.Debug("session index reconciled",
			zap.String("user_id", userID),
			zap.Int("removed", removed),
		)
	}
	session.SortNewestFirst(out)
	return out, nil
}

// RevokeAll deletes every indexed record and the index under one lock.
func (s *MemoryStore) RevokeAll(_ context.Context, userID string) (int, error) {
	if err := refresh.ValidateUserID(userID); err != nil {
		return 0, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, hash := range s.index[userID] {
		if e, ok := s.records[userID][hash]; ok {
			if !e.rec.Expired(now) {
				deleted++
			}
			s.deleteRecordLocked(userID, hash)
		}
	}
	delete(s.index, userID)
	return deleted, nil
}

// SessionCount returns the number of indexed entries.
func (s *MemoryStore) SessionCount(_ context.Context, userID string) (int, error) {
	if err := refresh.ValidateUserID(userID); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index[userID]), nil
}

// TokenTTLs lists remaining lifetimes for userID, or for everyone when
// userID is empty, in ascending order.
func (s *MemoryStore) TokenTTLs(_ context.Context, userID string) ([]time.Duration, error) {
	if userID != "" {
		if err := refresh.ValidateUserID(userID); err != nil {
			return nil, err
		}
	}
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	var ttls []time.Duration
	collect := func(byHash map[string]entry) {
		for _, e := range byHash {
			if ttl := e.rec.ExpiresAt.Sub(now); ttl > 0 {
				ttls = append(ttls, ttl)
			}
		}
	}
	if userID != "" {
		collect(s.records[userID])
	} else {
		for _, byHash := range s.records {
			collect(byHash)
		}
	}
	sort.Slice(ttls, func(i, j int) bool { return ttls[i] < ttls[j] })
	return ttls, nil
}

// PersistenceEnabled is always false.
func (s *MemoryStore) PersistenceEnabled(context.Context) (bool, error) {
	return false, nil
}

// Available is always true.
func (s *MemoryStore) Available() bool { return true }

// Backend returns [Backend].
func (s *MemoryStore) Backend() string { return Backend }

// Sweep removes expired records and returns how many were dropped. Index
// entries are reconciled on the next read.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

// Run sweeps every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.log.Debug("expired records swept", zap.Int("removed", n))
			}
		}
	}
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for userID, byHash := range s.records {
		for hash, e := range byHash {
			if e.rec.Expired(now) {
				delete(byHash, hash)
				removed++
			}
		}
		if len(byHash) == 0 {
			delete(s.records, userID)
		}
	}
	return removed
}

func (s *MemoryStore) deleteRecordLocked(userID, tokenHash string) {
	byHash := s.records[userID]
	if byHash == nil {
		return
	}
	delete(byHash, tokenHash)
	if len(byHash) == 0 {
		delete(s.records, userID)
	}
}
