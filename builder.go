package goRefresh

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goRefresh/conn"
	"github.com/MrEthical07/goRefresh/internal/audit"
	"github.com/MrEthical07/goRefresh/jwt"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles a [Service]. It is single-use.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	logger    *zap.Logger
	auditSink AuditSink

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the client for the durable store. The caller keeps
// ownership; Service.Close does not close it. Without a client the builder
// dials Config.Redis.Addrs.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build is BuildContext with a background context.
func (b *Builder) Build() (*Service, error) {
	return b.BuildContext(context.Background())
}

// BuildContext validates the configuration, selects the storage backend and
// returns a ready Service. In StoreAuto mode an unreachable Redis selects
// the in-process store; the switch is logged and audited.
func (b *Builder) BuildContext(ctx context.Context) (*Service, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	svc := &Service{
		config:  cfg,
		log:     logger,
		jwt:     jm,
		metrics: NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink, logger),
	}

	if cfg.Store.Mode == StoreFallback {
		svc.activateFallback(ctx, "configured", nil)
		b.built = true
		return svc, nil
	}

	m, err := b.connect(ctx, svc)
	if err != nil {
		if cfg.Store.Mode == StoreDurable {
			svc.audit.Close()
			return nil, err
		}
		svc.activateFallback(ctx, "durable store unreachable at startup", err)
		b.built = true
		return svc, nil
	}

	svc.conn = m
	svc.active.Store(svc.redisBackend(m))
	logger.Info("refresh token store selected",
		zap.String("backend", svc.Backend()),
		zap.String("namespace", cfg.Store.Namespace),
	)

	b.built = true
	return svc, nil
}

// connect returns a Connected manager or an error. A manager that failed to
// connect is closed before returning.
func (b *Builder) connect(ctx context.Context, svc *Service) (*conn.Manager, error) {
	cfg := svc.config
	opts := conn.Options{
		CommandTimeout:       cfg.Store.CommandTimeout,
		MaxReconnectAttempts: cfg.Store.MaxReconnectAttempts,
		ReconnectBackoff:     cfg.Store.ReconnectBackoff,
		MaxReconnectBackoff:  cfg.Store.MaxReconnectBackoff,
		RetryInterval:        cfg.Store.RetryInterval,
		Logger:               svc.log,
		OnStateChange:        svc.onStoreStateChange,
		OnExhausted:          svc.onReconnectExhausted,
	}

	var (
		m   *conn.Manager
		err error
	)
	switch {
	case b.redis != nil:
		m = conn.New(b.redis, opts)
		err = m.Connect(ctx)
	case len(cfg.Redis.Addrs) > 0:
		m, err = conn.Dial(ctx, conn.ClientConfig{
			Addrs:      cfg.Redis.Addrs,
			MasterName: cfg.Redis.MasterName,
			Username:   cfg.Redis.Username,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
		}, opts)
	default:
		return nil, fmt.Errorf("%w: no redis client or address configured", ErrStoreUnavailable)
	}
	if err != nil {
		if m != nil {
			_ = m.Close()
		}
		return nil, err
	}
	return m, nil
}
