package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goRefresh/refresh"
	"github.com/MrEthical07/goRefresh/session"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	DefaultCleanupRetries = 3
	DefaultCleanupBackoff = 50 * time.Millisecond
)

// Observer receives rotation events. Every field is optional.
type Observer struct {
	OnTransition    func(userID string, from, to State)
	OnFailure       func(userID string, err error)
	OnInconsistency func(userID, recordID string, resolved bool)
	// OnOrphan fires when an aborted rotation could not remove its new
	// record. The record stays indexed, so logout-all still reaches it.
	OnOrphan func(userID, recordID string, err error)
}

// Options tunes a [Protocol].
type Options struct {
	CleanupRetries int
	CleanupBackoff time.Duration
	Logger         *zap.Logger
	Observer       Observer
}

// Outcome describes one rotation attempt.
type Outcome struct {
	State       State
	Trace       []State
	Record      *refresh.Record
	OldRecordID string

	// Inconsistent is set when the old record outlived its delete.
	// InconsistencyResolved reports whether cleanup retries removed it.
	Inconsistent          bool
	InconsistencyResolved bool
	CleanupAttempts       int

	// Orphaned is set when an aborted rotation left its new record behind.
	Orphaned bool
}

// Protocol drives rotations against a token store and an optional registry.
type Protocol struct {
	tokens   refresh.TokenStore
	sessions session.Registry
	opts     Options
	log      *zap.Logger
}

// New builds a protocol. sessions may be nil when no index is kept.
func New(tokens refresh.TokenStore, sessions session.Registry, opts Options) *Protocol {
	if opts.CleanupRetries <= 0 {
		opts.CleanupRetries = DefaultCleanupRetries
	}
	if opts.CleanupBackoff <= 0 {
		opts.CleanupBackoff = DefaultCleanupBackoff
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Protocol{
		tokens:   tokens,
		sessions: sessions,
		opts:     opts,
		log:      opts.Logger.Named("rotation"),
	}
}

// Rotate replaces oldRawToken with newRawToken for userID.
//
// It returns refresh.ErrNotFound (no new record kept) when the old token is
// not valid or is revoked while the rotation runs, the store's connectivity
// error when validity cannot be decided, and an error wrapping
// ErrRotationFailed when the new record could not be confirmed. In every
// failure case the new record is removed. The new record inherits the old
// device label unless opts set one.
//
// The new record is indexed before it is confirmed so that a record whose
// removal fails can still be reached by logout-all.
func (p *Protocol) Rotate(ctx context.Context, userID, oldRawToken, newRawToken string, ttl time.Duration, opts ...refresh.StoreOption) (*Outcome, error) {
	out := &Outcome{State: Active, Trace: []State{Active}}
	if oldRawToken == "" {
		return out, refresh.ErrNotFound
	}
	if newRawToken == "" || newRawToken == oldRawToken {
		return out, fmt.Errorf("%w: new token must differ from the old one", refresh.ErrInvalidToken)
	}

	oldHash := refresh.HashToken(oldRawToken)
	old, err := p.tokens.Lookup(ctx, userID, oldHash)
	if err != nil {
		return out, err
	}
	out.OldRecordID = old.RecordID

	p.move(out, userID, Rotating)

	newHash := refresh.HashToken(newRawToken)
	storeOpts := append([]refresh.StoreOption{refresh.WithDeviceLabel(old.DeviceLabel)}, opts...)
	rec, err := p.tokens.Store(ctx, userID, newRawToken, ttl, storeOpts...)
	if err != nil {
		return p.abort(ctx, out, userID, newHash, "", err)
	}
	if p.sessions != nil {
		if err := p.sessions.AddSession(ctx, rec); err != nil {
			return p.abort(ctx, out, userID, newHash, rec.RecordID, fmt.Errorf("index new record: %w", err))
		}
	}
	confirmed, err := p.tokens.Lookup(ctx, userID, rec.TokenHash)
	if err != nil {
		return p.abort(ctx, out, userID, newHash, rec.RecordID, fmt.Errorf("confirm new record: %w", err))
	}
	if confirmed.RecordID != rec.RecordID {
		return p.abort(ctx, out, userID, newHash, rec.RecordID, errors.New("confirm new record: record id mismatch"))
	}

	// A logout-all or a competing rotation that ran since the precondition
	// check has retired the old record; the new one must not outlive it.
	if _, err := p.tokens.Lookup(ctx, userID, oldHash); err != nil {
		if errors.Is(err, refresh.ErrNotFound) {
			p.rollback(ctx, out, userID, newHash, rec.RecordID)
			p.move(out, userID, RotationFailed)
			p.log.Info("previous token revoked during rotation, new record discarded",
				zap.String("user_id", userID),
				zap.String("record_id", out.OldRecordID),
			)
			return out, fmt.Errorf("%w: previous token revoked during rotation", refresh.ErrNotFound)
		}
		return p.abort(ctx, out, userID, newHash, rec.RecordID, fmt.Errorf("recheck previous record: %w", err))
	}
	out.Record = rec

	p.retire(ctx, out, userID, oldHash)

	if p.sessions != nil {
		if err := p.sessions.RemoveSession(ctx, userID, old.RecordID); err != nil {
			p.log.Warn("retired session left in index",
				zap.String("user_id", userID),
				zap.String("record_id", old.RecordID),
				zap.Error(err),
			)
		}
	}

	p.move(out, userID, Retired)
	return out, nil
}

// abort rolls back a new record that could not be confirmed and reports the
// failure.
func (p *Protocol) abort(ctx context.Context, out *Outcome, userID, newHash, newRecordID string, cause error) (*Outcome, error) {
	p.rollback(ctx, out, userID, newHash, newRecordID)

	p.move(out, userID, RotationFailed)
	err := fmt.Errorf("%w: %w", ErrRotationFailed, cause)
	p.log.Warn("refresh rotation aborted, previous token kept",
		zap.String("user_id", userID),
		zap.String("record_id", out.OldRecordID),
		zap.Error(cause),
	)
	if p.opts.Observer.OnFailure != nil {
		p.opts.Observer.OnFailure(userID, err)
	}
	return out, err
}

// rollback removes the new record, retrying through connection loss and
// ignoring cancellation of ctx. The index entry is dropped only once the
// record is gone.
func (p *Protocol) rollback(ctx context.Context, out *Outcome, userID, newHash, newRecordID string) {
	cleanupCtx := context.WithoutCancel(ctx)
	attempts, err := refresh.Purge(cleanupCtx, p.tokens, userID, newHash, uint(p.opts.CleanupRetries)+1, p.opts.CleanupBackoff)
	if err != nil {
		out.Orphaned = true
		if newRecordID == "" {
			newRecordID = refresh.RecordID(userID, newHash)
		}
		p.log.Error("aborted rotation left its new refresh record behind",
			zap.String("user_id", userID),
			zap.String("record_id", newRecordID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		if p.opts.Observer.OnOrphan != nil {
			p.opts.Observer.OnOrphan(userID, newRecordID, err)
		}
		return
	}
	if newRecordID != "" && p.sessions != nil {
		if err := p.sessions.RemoveSession(cleanupCtx, userID, newRecordID); err != nil {
			p.log.Debug("rolled back session left in index",
				zap.String("user_id", userID),
				zap.String("record_id", newRecordID),
				zap.Error(err),
			)
		}
	}
}

// retire deletes the old record and verifies it is gone, retrying with
// backoff when it survives.
func (p *Protocol) retire(ctx context.Context, out *Outcome, userID, oldHash string) {
	cleanupCtx := context.WithoutCancel(ctx)
	out.CleanupAttempts = 1
	if p.deleteAndConfirm(cleanupCtx, userID, oldHash) == nil {
		return
	}

	out.Inconsistent = true
	p.log.Error("retired refresh token still present after rotation",
		zap.String("user_id", userID),
		zap.String("record_id", out.OldRecordID),
		zap.String("new_record_id", out.Record.RecordID),
	)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.CleanupBackoff
	_, err := backoff.Retry(cleanupCtx, func() (struct{}, error) {
		out.CleanupAttempts++
		return struct{}{}, p.deleteAndConfirm(cleanupCtx, userID, oldHash)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.opts.CleanupRetries)),
	)
	out.InconsistencyResolved = err == nil

	if err != nil {
		p.log.Error("retired refresh token cleanup exhausted",
			zap.String("user_id", userID),
			zap.String("record_id", out.OldRecordID),
			zap.Int("attempts", out.CleanupAttempts),
			zap.Error(err),
		)
	} else {
		p.log.Warn("retired refresh token removed on retry",
			zap.String("user_id", userID),
			zap.String("record_id", out.OldRecordID),
			zap.Int("attempts", out.CleanupAttempts),
		)
	}
	if p.opts.Observer.OnInconsistency != nil {
		p.opts.Observer.OnInconsistency(userID, out.OldRecordID, out.InconsistencyResolved)
	}
}

func (p *Protocol) deleteAndConfirm(ctx context.Context, userID, oldHash string) error {
	if err := p.tokens.RevokeHash(ctx, userID, oldHash); err != nil {
		return fmt.Errorf("%w: delete: %w", ErrSecurityInconsistency, err)
	}
	_, err := p.tokens.Lookup(ctx, userID, oldHash)
	switch {
	case errors.Is(err, refresh.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("%w: verify: %w", ErrSecurityInconsistency, err)
	default:
		return ErrSecurityInconsistency
	}
}

func (p *Protocol) move(out *Outcome, userID string, to State) {
	from := out.State
	out.State = to
	out.Trace = append(out.Trace, to)
	if p.opts.Observer.OnTransition != nil {
		p.opts.Observer.OnTransition(userID, from, to)
	}
}
