package diagnostics

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// TokenSource is the read side of a token store used for reporting.
type TokenSource interface {
	TokenTTLs(ctx context.Context, userID string) ([]time.Duration, error)
	PersistenceEnabled(ctx context.Context) (bool, error)
	Available() bool
	Backend() string
}

// SessionCounter reports the size of a user's session index.
type SessionCounter interface {
	SessionCount(ctx context.Context, userID string) (int, error)
}

// Snapshot is the diagnostics payload. PerTokenTTL is in whole seconds,
// ascending; a record without expiry is reported as -1.
type Snapshot struct {
	TokenCount         int       `json:"tokenCount"`
	PerTokenTTL        []int     `json:"perTokenTTL"`
	PersistenceEnabled bool      `json:"persistenceEnabled"`
	Backend            string    `json:"backend"`
	UserID             string    `json:"userId,omitempty"`
	SessionCount       *int      `json:"sessionCount,omitempty"`
	StoreAvailable     bool      `json:"storeAvailable"`
	GeneratedAt        time.Time `json:"generatedAt"`
	Warnings           []string  `json:"warnings,omitempty"`
}

// Reporter assembles snapshots.
type Reporter struct {
	tokens   TokenSource
	sessions SessionCounter
	log      *zap.Logger
	now      func() time.Time
}

// NewReporter returns a reporter over tokens. sessions may be nil.
func NewReporter(tokens TokenSource, sessions SessionCounter, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		tokens:   tokens,
		sessions: sessions,
		log:      logger.Named("diagnostics"),
		now:      time.Now,
	}
}

// Report builds a snapshot for userID, or for the whole store when userID
// is empty. A global report scans the keyspace; keep it off request paths.
func (r *Reporter) Report(ctx context.Context, userID string) (*Snapshot, error) {
	snap := &Snapshot{
		Backend:        r.tokens.Backend(),
		UserID:         userID,
		StoreAvailable: r.tokens.Available(),
		GeneratedAt:    r.now().UTC(),
		PerTokenTTL:    []int{},
	}

	ttls, err := r.tokens.TokenTTLs(ctx, userID)
	if err != nil {
		return nil, err
	}
	snap.TokenCount = len(ttls)
	for _, ttl := range ttls {
		snap.PerTokenTTL = append(snap.PerTokenTTL, seconds(ttl))
	}
	sort.Ints(snap.PerTokenTTL)

	persistent, err := r.tokens.PersistenceEnabled(ctx)
	if err != nil {
		r.log.Warn("persistence configuration unreadable", zap.Error(err))
		snap.Warnings = append(snap.Warnings, "persistence configuration unreadable: "+err.Error())
	}
	snap.PersistenceEnabled = persistent

	if userID != "" && r.sessions != nil {
		count, err := r.sessions.SessionCount(ctx, userID)
		if err != nil {
			return nil, err
		}
		snap.SessionCount = &count
	}
	return snap, nil
}

// seconds rounds up so a record with 500ms left is not reported as expired.
func seconds(ttl time.Duration) int {
	if ttl < 0 {
		return -1
	}
	return int((ttl + time.Second - 1) / time.Second)
}
