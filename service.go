package goRefresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goRefresh/conn"
	"github.com/MrEthical07/goRefresh/diagnostics"
	"github.com/MrEthical07/goRefresh/fallback"
	"github.com/MrEthical07/goRefresh/internal"
	"github.com/MrEthical07/goRefresh/internal/audit"
	"github.com/MrEthical07/goRefresh/internal/flows"
	"github.com/MrEthical07/goRefresh/jwt"
	"github.com/MrEthical07/goRefresh/refresh"
	"github.com/MrEthical07/goRefresh/rotation"
	"github.com/MrEthical07/goRefresh/session"
	"go.uber.org/zap"
)

// Service issues, rotates and revokes refresh tokens. Build one with
// [Builder.Build]; it is safe for concurrent use.
type Service struct {
	config  Config
	log     *zap.Logger
	jwt     *jwt.Manager
	conn    *conn.Manager
	audit   *audit.Dispatcher
	metrics *Metrics

	active       atomic.Pointer[backend]
	failoverOnce sync.Once

	sweepMu   sync.Mutex
	sweepStop context.CancelFunc
	sweepWG   sync.WaitGroup

	closed    atomic.Bool
	closeOnce sync.Once
}

// backend is one complete storage stack. The Service swaps it at most once.
type backend struct {
	name     string
	tokens   refresh.TokenStore
	sessions session.Registry
	reporter *diagnostics.Reporter
	flows    flows.Service
	memory   *fallback.MemoryStore
}

// TokenPair is the result of IssueTokens and Refresh.
type TokenPair struct {
	UserID           string
	RecordID         string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	Backend        string
	StoreAvailable bool
	StoreLatency   time.Duration
	ConnState      string
	FallbackActive bool
}

// IssueOption customizes IssueTokens.
type IssueOption = refresh.StoreOption

// WithDeviceLabel tags the issued session with a human-readable label.
func WithDeviceLabel(label string) IssueOption {
	return refresh.WithDeviceLabel(label)
}

/*
====================================
BACKENDS
====================================
*/

func (s *Service) redisBackend(m *conn.Manager) *backend {
	keys := refresh.Keys{Namespace: s.config.Store.Namespace}
	tokens := refresh.NewRedisStore(m, keys, s.config.Store.CommandTimeout, s.log)
	sessions := session.NewRedisRegistry(m, keys, s.config.Store.CommandTimeout, s.log)
	sessions.OnReconciled(func(_ string, removed int) {
		s.metrics.Add(MetricSessionReconciled, uint64(removed))
	})
	return s.newBackend(tokens.Backend(), tokens, sessions, tokens, nil)
}

func (s *Service) memoryBackend() *backend {
	mem := fallback.New(fallback.Options{Logger: s.log})
	return s.newBackend(mem.Backend(), mem, mem, mem, mem)
}

func (s *Service) newBackend(name string, tokens refresh.TokenStore, sessions session.Registry, source diagnostics.TokenSource, mem *fallback.MemoryStore) *backend {
	proto := rotation.New(tokens, sessions, rotation.Options{
		CleanupRetries: s.config.Rotation.CleanupRetries,
		CleanupBackoff: s.config.Rotation.CleanupBackoff,
		Logger:         s.log,
		Observer: rotation.Observer{
			OnFailure:       s.onRotationFailure,
			OnInconsistency: s.onInconsistency,
			OnOrphan:        s.onOrphan,
		},
	})
	refreshTTL := func() time.Duration { return s.config.Refresh.TTL }

	return &backend{
		name:     name,
		tokens:   tokens,
		sessions: sessions,
		reporter: diagnostics.NewReporter(source, sessions, s.log),
		memory:   mem,
		flows: flows.New(flows.Deps{
			Issue: flows.IssueDeps{
				Tokens:          tokens,
				Sessions:        sessions,
				NewRefreshToken: internal.NewRefreshToken,
				IssueAccess:     s.jwt.CreateAccess,
				RefreshTTL:      refreshTTL,
				Logger:          s.log,
				OnOrphan:        s.onOrphan,
			},
			Refresh: flows.RefreshDeps{
				Rotator:         proto,
				NewRefreshToken: internal.NewRefreshToken,
				IssueAccess:     s.jwt.CreateAccess,
				RefreshTTL:      refreshTTL,
			},
			Logout: flows.LogoutDeps{
				Tokens:   tokens,
				Sessions: sessions,
				Logger:   s.log,
			},
		}),
	}
}

// activateFallback installs the in-process store. cause is nil when the
// fallback was configured explicitly.
func (s *Service) activateFallback(ctx context.Context, reason string, cause error) {
	b := s.memoryBackend()
	prev := s.active.Swap(b)

	fields := []zap.Field{zap.String("reason", reason), zap.Error(cause)}
	switch {
	case prev != nil:
		fields = append(fields, zap.String("previous_backend", prev.name))
		s.log.Error("switched to in-process refresh token store; sessions are no longer durable or shared", fields...)
	case cause != nil:
		s.log.Warn("durable store unavailable, using in-process refresh token store; sessions are not durable or shared", fields...)
	default:
		s.log.Warn("using in-process refresh token store; sessions are not durable or shared", fields...)
	}

	s.metrics.Inc(MetricFallbackActivated)
	s.emitAudit(ctx, AuditEventFallbackActivated, true, "", "", cause, func() map[string]string {
		md := map[string]string{"reason": reason}
		if prev != nil {
			md["previous_backend"] = prev.name
		}
		return md
	})
	s.startSweeper(b.memory)
}

func (s *Service) startSweeper(mem *fallback.MemoryStore) {
	interval := s.config.Store.FallbackSweepInterval
	if mem == nil || interval <= 0 {
		return
	}
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	if s.closed.Load() || s.sweepStop != nil {
		return
	}
	ctx, stop := context.WithCancel(context.Background())
	s.sweepStop = stop
	s.sweepWG.Add(1)
	go func() {
		defer s.sweepWG.Done()
		mem.Run(ctx, interval)
	}()
}

func (s *Service) onStoreStateChange(_, to conn.State) {
	if to == conn.Disconnected {
		s.metrics.Inc(MetricStoreUnavailable)
	}
}

func (s *Service) onReconnectExhausted(err error) {
	s.metrics.Inc(MetricReconnectExhausted)
	if !s.config.Store.FailoverOnUnavailable || s.closed.Load() {
		return
	}
	s.failoverOnce.Do(func() {
		s.activateFallback(context.Background(), "reconnect attempts exhausted", err)
	})
}

func (s *Service) onRotationFailure(userID string, err error) {
	s.metrics.Inc(MetricRotationFailed)
	s.emitAudit(context.Background(), AuditEventRotationFailed, false, userID, "", err, nil)
}

func (s *Service) onInconsistency(userID, recordID string, resolved bool) {
	s.metrics.Inc(MetricSecurityInconsistency)
	if resolved {
		s.metrics.Inc(MetricInconsistencyResolved)
	}
	s.emitAudit(context.Background(), AuditEventSecurityInconsistency, resolved, userID, recordID, ErrSecurityInconsistency, func() map[string]string {
		if resolved {
			return map[string]string{"resolution": "removed_on_retry"}
		}
		return map[string]string{"resolution": "unresolved"}
	})
}

// onOrphan records a new refresh record that a failed issue or rotation
// could not remove.
func (s *Service) onOrphan(userID, recordID string, err error) {
	s.metrics.Inc(MetricOrphanedRecord)
	s.emitAudit(context.Background(), AuditEventOrphanedRecord, false, userID, recordID, err, nil)
}

func (s *Service) current() (*backend, error) {
	if s == nil || s.closed.Load() {
		return nil, ErrEngineNotReady
	}
	b := s.active.Load()
	if b == nil {
		return nil, ErrEngineNotReady
	}
	return b, nil
}

/*
====================================
TOKEN LIFECYCLE
====================================
*/

// IssueTokens mints an access token and a refresh token for userID and
// registers the new session. If the session cannot be registered the
// refresh record is revoked and the error returned.
func (s *Service) IssueTokens(ctx context.Context, userID string, opts ...IssueOption) (*TokenPair, error) {
	b, err := s.current()
	if err != nil {
		return nil, err
	}

	res := b.flows.Issue(ctx, userID, opts...)
	if res.Failure != flows.IssueFailureNone {
		err := mapIssueError(res)
		s.metrics.Inc(MetricIssueFailure)
		s.emitAudit(ctx, AuditEventIssueFailure, false, userID, "", err, nil)
		return nil, err
	}

	s.metrics.Inc(MetricIssueSuccess)
	s.metrics.Inc(MetricSessionCreated)
	s.emitAudit(ctx, AuditEventIssueSuccess, true, userID, res.Record.RecordID, nil, deviceMetadata(res.Record))
	return &TokenPair{
		UserID:           userID,
		RecordID:         res.Record.RecordID,
		AccessToken:      res.AccessToken,
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshToken:     res.RefreshToken,
		RefreshExpiresAt: res.Record.ExpiresAt,
	}, nil
}

// Refresh rotates refreshToken for the user attached by [WithUserID].
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return nil, ErrUserUnknown
	}
	return s.RefreshForUser(ctx, userID, refreshToken)
}

// RefreshForUser rotates refreshToken for userID and returns the new pair.
//
// ErrNotFound means the token is invalid and the client must log in again.
// ErrStoreUnavailable and ErrRotationFailed are retryable: the presented
// token is still valid.
func (s *Service) RefreshForUser(ctx context.Context, userID, refreshToken string) (*TokenPair, error) {
	b, err := s.current()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res := b.flows.Refresh(ctx, userID, refreshToken)
	s.metrics.Observe(MetricRefreshLatency, time.Since(start))

	if res.Failure != flows.RefreshFailureNone {
		err := mapRefreshError(res)
		if IsRetryable(err) {
			s.metrics.Inc(MetricRefreshUnavailable)
			s.emitAudit(ctx, AuditEventRefreshUnavailable, false, userID, "", err, nil)
		} else {
			s.metrics.Inc(MetricRefreshFailure)
			s.emitAudit(ctx, AuditEventRefreshInvalid, false, userID, "", err, nil)
		}
		return nil, err
	}

	rec := res.Outcome.Record
	s.metrics.Inc(MetricRefreshSuccess)
	s.emitAudit(ctx, AuditEventRefreshSuccess, true, userID, rec.RecordID, nil, func() map[string]string {
		return map[string]string{"previous_record_id": res.Outcome.OldRecordID}
	})
	return &TokenPair{
		UserID:           userID,
		RecordID:         rec.RecordID,
		AccessToken:      res.AccessToken,
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshToken:     res.RefreshToken,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// ValidateRefresh checks refreshToken without rotating it.
func (s *Service) ValidateRefresh(ctx context.Context, userID, refreshToken string) (*refresh.Record, error) {
	b, err := s.current()
	if err != nil {
		return nil, err
	}
	if err := refresh.ValidateUserID(userID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserUnknown, err)
	}
	rec, err := b.tokens.Validate(ctx, userID, refreshToken)
	if errors.Is(err, refresh.ErrInvalidToken) {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return rec, err
}

// Logout revokes one refresh token. Unknown tokens succeed.
func (s *Service) Logout(ctx context.Context, userID, refreshToken string) error {
	b, err := s.current()
	if err != nil {
		return err
	}
	res := b.flows.Logout(ctx, userID, refreshToken)
	if res.Err != nil {
		err := mapInputError(res.Err)
		s.emitAudit(ctx, AuditEventLogoutSession, false, userID, res.RecordID, err, nil)
		return err
	}
	s.metrics.Inc(MetricLogout)
	s.emitAudit(ctx, AuditEventLogoutSession, true, userID, res.RecordID, nil, nil)
	return nil
}

// LogoutAll revokes every session of userID and returns how many live
// sessions were removed.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int, error) {
	b, err := s.current()
	if err != nil {
		return 0, err
	}
	res := b.flows.LogoutAll(ctx, userID)
	if res.Err != nil {
		err := mapInputError(res.Err)
		s.emitAudit(ctx, AuditEventLogoutAll, false, userID, "", err, nil)
		return 0, err
	}
	s.metrics.Inc(MetricLogoutAll)
	s.metrics.Add(MetricSessionsRevoked, uint64(res.Revoked))
	s.emitAudit(ctx, AuditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(res.Revoked)}
	})
	return res.Revoked, nil
}

/*
====================================
INTROSPECTION
====================================
*/

// ListSessions returns userID's live sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]session.Descriptor, error) {
	b, err := s.current()
	if err != nil {
		return nil, err
	}
	if err := refresh.ValidateUserID(userID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserUnknown, err)
	}
	return b.sessions.ListSessions(ctx, userID)
}

// Diagnostics reports token counts and TTLs for userID, or for the whole
// store when userID is empty. A global report scans the keyspace.
func (s *Service) Diagnostics(ctx context.Context, userID string) (*diagnostics.Snapshot, error) {
	b, err := s.current()
	if err != nil {
		return nil, err
	}
	if userID != "" {
		if err := refresh.ValidateUserID(userID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUserUnknown, err)
		}
	}
	return b.reporter.Report(ctx, userID)
}

// ParseAccess verifies an access token without touching the store.
func (s *Service) ParseAccess(token string) (*jwt.AccessClaims, error) {
	if s == nil || s.jwt == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := s.jwt.ParseAccess(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return claims, nil
}

// Health probes the durable store when there is one.
func (s *Service) Health(ctx context.Context) HealthStatus {
	b, err := s.current()
	if err != nil {
		return HealthStatus{}
	}
	h := HealthStatus{
		Backend:        b.name,
		FallbackActive: b.memory != nil,
	}
	if b.memory != nil {
		h.StoreAvailable = true
	}
	if s.conn != nil {
		latency, err := s.conn.Ping(ctx)
		h.ConnState = s.conn.State().String()
		if b.memory == nil {
			h.StoreAvailable = err == nil
			h.StoreLatency = latency
		}
	}
	return h
}

// Backend names the active storage backend ("redis" or "memory").
func (s *Service) Backend() string {
	if s == nil {
		return ""
	}
	if b := s.active.Load(); b != nil {
		return b.name
	}
	return ""
}

func (s *Service) MetricsSnapshot() MetricsSnapshot {
	if s == nil || s.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return s.metrics.Snapshot()
}

func (s *Service) AuditDropped() uint64 {
	if s == nil {
		return 0
	}
	return s.audit.Dropped()
}

// Close stops background work, drains audit events and closes a store
// connection the Service dialed itself.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		s.sweepMu.Lock()
		if s.sweepStop != nil {
			s.sweepStop()
		}
		s.sweepMu.Unlock()
		s.sweepWG.Wait()

		if s.conn != nil {
			err = s.conn.Close()
		}
		s.audit.Close()
	})
	return err
}

/*
====================================
ERROR MAPPING
====================================
*/

func mapIssueError(res flows.IssueResult) error {
	switch res.Failure {
	case flows.IssueFailureInvalidUser:
		return fmt.Errorf("%w: %v", ErrUserUnknown, res.Err)
	case flows.IssueFailureIndex:
		return fmt.Errorf("%w: %w", ErrSessionCreationFailed, res.Err)
	case flows.IssueFailureStore:
		return res.Err
	default:
		return fmt.Errorf("issue tokens: %w", res.Err)
	}
}

func mapRefreshError(res flows.RefreshResult) error {
	switch res.Failure {
	case flows.RefreshFailureUserUnknown:
		return fmt.Errorf("%w: %v", ErrUserUnknown, res.Err)
	case flows.RefreshFailureDecode:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, res.Err)
	case flows.RefreshFailureNotFound, flows.RefreshFailureRotate:
		return res.Err
	case flows.RefreshFailureUnavailable:
		if errors.Is(res.Err, ErrStoreUnavailable) {
			return res.Err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
	default:
		return fmt.Errorf("refresh: %w", res.Err)
	}
}

func mapInputError(err error) error {
	switch {
	case errors.Is(err, refresh.ErrInvalidUser):
		return fmt.Errorf("%w: %v", ErrUserUnknown, err)
	case errors.Is(err, refresh.ErrInvalidToken):
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	default:
		return err
	}
}

func deviceMetadata(rec *refresh.Record) func() map[string]string {
	if rec == nil || rec.DeviceLabel == "" {
		return nil
	}
	return func() map[string]string {
		return map[string]string{"device_label": rec.DeviceLabel}
	}
}
