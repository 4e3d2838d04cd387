package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// State is the availability state of a [Manager].
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	DefaultCommandTimeout       = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBackoff     = 100 * time.Millisecond
	DefaultMaxReconnectBackoff  = 5 * time.Second
)

// Options tunes a [Manager]. Zero values select the defaults above; a zero
// RetryInterval disables scheduled reconnect cycles after exhaustion.
type Options struct {
	CommandTimeout       time.Duration
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
	MaxReconnectBackoff  time.Duration
	RetryInterval        time.Duration
	Logger               *zap.Logger

	// OnStateChange runs after every transition, outside the manager lock.
	OnStateChange func(from, to State)
	// OnExhausted runs when a background reconnect cycle gives up.
	OnExhausted func(err error)
}

// ClientConfig describes how [Dial] builds its client.
type ClientConfig struct {
	Addrs      []string
	MasterName string
	Username   string
	Password   string
	DB         int
	PoolSize   int
}

// Manager is the single shared handle to the backing store. Construct one at
// startup, pass it to every component that needs it and Close it at shutdown.
type Manager struct {
	client redis.UniversalClient
	owned  bool
	opts   Options
	log    *zap.Logger

	state atomic.Int32

	mu           sync.Mutex
	closed       bool
	reconnecting bool
	retryTimer   *time.Timer
	loopCtx      context.Context
	stopLoop     context.CancelFunc
}

// New wraps an existing client. The manager starts Disconnected; call
// [Manager.Connect] before use. The caller keeps ownership of client.
func New(client redis.UniversalClient, opts Options) *Manager {
	opts = withDefaults(opts)
	loopCtx, stop := context.WithCancel(context.Background())
	m := &Manager{
		client:   client,
		opts:     opts,
		log:      opts.Logger,
		loopCtx:  loopCtx,
		stopLoop: stop,
	}
	m.state.Store(int32(Disconnected))
	return m
}

// Dial builds a UniversalClient from cfg, connects it and returns a manager
// that owns the client.
func Dial(ctx context.Context, cfg ClientConfig, opts Options) (*Manager, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("conn: at least one address is required")
	}
	opts = withDefaults(opts)
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  opts.CommandTimeout,
		ReadTimeout:  opts.CommandTimeout,
		WriteTimeout: opts.CommandTimeout,
		MaxRetries:   -1,
	})
	m := New(client, opts)
	m.owned = true
	if err := m.Connect(ctx); err != nil {
		return m, err
	}
	return m, nil
}

func withDefaults(opts Options) Options {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = DefaultReconnectBackoff
	}
	if opts.MaxReconnectBackoff <= 0 {
		opts.MaxReconnectBackoff = DefaultMaxReconnectBackoff
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return opts
}

// State returns the current availability state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsAvailable reports whether commands are currently accepted.
func (m *Manager) IsAvailable() bool {
	return m != nil && m.State() == Connected
}

// Timeout returns the configured default command timeout.
func (m *Manager) Timeout() time.Duration {
	return m.opts.CommandTimeout
}

// Connect performs a bounded number of connection attempts and leaves the
// manager Connected on success or Disconnected on failure. It doubles as the
// manual retry after a reconnect cycle has been exhausted.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.mu.Unlock()

	return m.dial(ctx)
}

// Reconnect is an alias of Connect for operational tooling.
func (m *Manager) Reconnect(ctx context.Context) error {
	return m.Connect(ctx)
}

// Ping probes the backend regardless of the current state and returns the
// round-trip latency. A successful probe moves the manager to Connected.
func (m *Manager) Ping(ctx context.Context) (time.Duration, error) {
	if m.isClosed() {
		return 0, ErrClosed
	}
	start := time.Now()
	if err := m.probe(ctx); err != nil {
		return time.Since(start), m.fail(ctx, err)
	}
	latency := time.Since(start)
	m.transition(Connected)
	return latency, nil
}

// Execute runs cmds as one pipeline bounded by timeout (the configured
// default when timeout <= 0). It returns exactly one result per command or an
// error that fails the whole batch.
func (m *Manager) Execute(ctx context.Context, timeout time.Duration, cmds ...Command) ([]Result, error) {
	return m.exec(ctx, timeout, false, cmds)
}

// ExecuteTx is Execute wrapped in MULTI/EXEC, so the server applies all
// commands or none.
func (m *Manager) ExecuteTx(ctx context.Context, timeout time.Duration, cmds ...Command) ([]Result, error) {
	return m.exec(ctx, timeout, true, cmds)
}

func (m *Manager) exec(ctx context.Context, timeout time.Duration, tx bool, cmds []Command) ([]Result, error) {
	if len(cmds) == 0 {
		return []Result{}, nil
	}
	for _, c := range cmds {
		if err := c.validate(); err != nil {
			return nil, err
		}
	}
	if err := m.ready(); err != nil {
		return nil, err
	}

	callCtx, cancel := m.withTimeout(ctx, timeout)
	defer cancel()

	var pipe redis.Pipeliner
	if tx {
		pipe = m.client.TxPipeline()
	} else {
		pipe = m.client.Pipeline()
	}
	for _, c := range cmds {
		c.queue(callCtx, pipe)
	}
	executed, err := pipe.Exec(callCtx)
	return m.collect(ctx, cmds, executed, err)
}

// collect validates a pipeline's results. parent is the caller's context,
// before the command timeout was applied.
func (m *Manager) collect(parent context.Context, cmds []Command, executed []redis.Cmder, execErr error) ([]Result, error) {
	if execErr != nil && !errors.Is(execErr, redis.Nil) && !isReplyError(execErr) {
		return nil, m.fail(parent, execErr)
	}
	if len(executed) != len(cmds) {
		m.log.Error("store pipeline result count mismatch",
			zap.Int("submitted", len(cmds)),
			zap.Int("returned", len(executed)),
		)
		return nil, fmt.Errorf("%w: submitted %d, got %d", ErrBatchMismatch, len(cmds), len(executed))
	}

	results := make([]Result, len(cmds))
	for i, cmd := range executed {
		if err := cmd.Err(); err != nil && !errors.Is(err, redis.Nil) && !isReplyError(err) {
			return nil, m.fail(parent, err)
		}
		results[i] = decode(cmds[i], cmd)
	}
	return results, nil
}

// Scan iterates keys matching pattern, handing each page to fn. Admin-only:
// it walks the whole keyspace and must stay off request paths. On a cluster
// client every master is scanned; fn is never called concurrently.
func (m *Manager) Scan(ctx context.Context, pattern string, fn func(keys []string) error) error {
	if err := m.ready(); err != nil {
		return err
	}
	cluster, ok := m.client.(*redis.ClusterClient)
	if !ok {
		return m.scanNode(ctx, m.client, pattern, fn)
	}

	var mu sync.Mutex
	serial := func(keys []string) error {
		mu.Lock()
		defer mu.Unlock()
		return fn(keys)
	}
	err := cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
		if err := m.scanNode(ctx, node, pattern, serial); err != nil {
			return nodeScanError{err}
		}
		return nil
	})
	if err == nil {
		return nil
	}
	var nodeErr nodeScanError
	if errors.As(err, &nodeErr) {
		return nodeErr.err
	}
	return m.fail(ctx, err)
}

// nodeScanError marks errors already classified by scanNode.
type nodeScanError struct{ err error }

func (e nodeScanError) Error() string { return e.err.Error() }
func (e nodeScanError) Unwrap() error { return e.err }

type keyScanner interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

func (m *Manager) scanNode(ctx context.Context, node keyScanner, pattern string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		callCtx, cancel := m.withTimeout(ctx, 0)
		keys, next, err := node.Scan(callCtx, cursor, pattern, 1000).Result()
		cancel()
		if err != nil {
			if isReplyError(err) {
				return fmt.Errorf("%w: SCAN %s: %v", ErrCommand, pattern, err)
			}
			return m.fail(ctx, err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// ConfigGet reads server configuration parameters.
func (m *Manager) ConfigGet(ctx context.Context, param string) (map[string]string, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	callCtx, cancel := m.withTimeout(ctx, 0)
	defer cancel()

	out, err := m.client.ConfigGet(callCtx, param).Result()
	if err != nil {
		if isReplyError(err) {
			return nil, fmt.Errorf("%w: CONFIG GET %s: %v", ErrCommand, param, err)
		}
		return nil, m.fail(ctx, err)
	}
	return out, nil
}

// Close stops background reconnects and moves the manager to Closed. The
// client is closed only when the manager created it.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.stopLoop()
	prev := State(m.state.Swap(int32(Closed)))
	m.mu.Unlock()

	m.notify(prev, Closed)
	if m.owned {
		return m.client.Close()
	}
	return nil
}

func (m *Manager) ready() error {
	switch m.State() {
	case Connected:
		return nil
	case Closed:
		return ErrClosed
	default:
		return fmt.Errorf("%w: state %s", ErrUnavailable, m.State())
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = m.opts.CommandTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (m *Manager) probe(ctx context.Context) error {
	ctx, cancel := m.withTimeout(ctx, 0)
	defer cancel()
	return m.client.Ping(ctx).Err()
}

// dial runs one bounded connection cycle.
func (m *Manager) dial(ctx context.Context) error {
	m.transition(Connecting)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.ReconnectBackoff
	b.MaxInterval = m.opts.MaxReconnectBackoff

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, m.probe(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(m.opts.MaxReconnectAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.log.Warn("store connection attempt failed",
				zap.Int("attempt", attempts),
				zap.Duration("next_attempt_in", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		if m.isClosed() {
			return ErrClosed
		}
		m.transition(Disconnected)
		return fmt.Errorf("%w: %d connection attempts failed: %v", ErrUnavailable, attempts, err)
	}

	m.transition(Connected)
	m.log.Info("store connection established", zap.Int("attempts", attempts))
	return nil
}

// fail classifies a transport error, updates the state synchronously and
// returns the error to hand to the caller. parent is the caller's context:
// when it is already done the failure is the caller's own cancellation or
// deadline and says nothing about the backend, so the state is kept.
func (m *Manager) fail(parent context.Context, err error) error {
	if parent != nil && parent.Err() != nil {
		if errors.Is(parent.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	case errors.Is(err, redis.ErrClosed):
		if m.isClosed() {
			return ErrClosed
		}
		m.markDown(err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded), isNetTimeout(err):
		m.markDown(err)
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		m.markDown(err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (m *Manager) markDown(cause error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	prev := State(m.state.Swap(int32(Disconnected)))
	start := !m.reconnecting && m.retryTimer == nil
	if start {
		m.reconnecting = true
	}
	m.mu.Unlock()

	if prev != Disconnected {
		m.log.Warn("store connection lost", zap.Stringer("from", prev), zap.Error(cause))
		m.notify(prev, Disconnected)
	}
	if start {
		go m.reconnectLoop()
	}
}

func (m *Manager) reconnectLoop() {
	err := m.dial(m.loopCtx)

	m.mu.Lock()
	m.reconnecting = false
	if err == nil || m.closed {
		m.mu.Unlock()
		return
	}
	if m.opts.RetryInterval > 0 {
		m.retryTimer = time.AfterFunc(m.opts.RetryInterval, func() {
			m.mu.Lock()
			if m.closed || m.reconnecting {
				m.mu.Unlock()
				return
			}
			m.retryTimer = nil
			m.reconnecting = true
			m.mu.Unlock()
			m.reconnectLoop()
		})
	}
	m.mu.Unlock()

	m.log.Error("store reconnect attempts exhausted",
		zap.Int("max_attempts", m.opts.MaxReconnectAttempts),
		zap.Duration("next_cycle_in", m.opts.RetryInterval),
		zap.Error(err),
	)
	if m.opts.OnExhausted != nil {
		m.opts.OnExhausted(err)
	}
}

func (m *Manager) transition(to State) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	prev := State(m.state.Swap(int32(to)))
	m.mu.Unlock()

	if prev != to {
		m.notify(prev, to)
	}
}

func (m *Manager) notify(from, to State) {
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(from, to)
	}
}

func isReplyError(err error) bool {
	var replyErr redis.Error
	return errors.As(err, &replyErr) && !errors.Is(err, redis.Nil)
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
