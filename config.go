package goRefresh

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config is the full Service configuration. Start from [DefaultConfig] and
// override what you need.
type Config struct {
	JWT      JWTConfig
	Refresh  RefreshConfig
	Store    StoreConfig
	Redis    RedisConfig
	Rotation RotationConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
REFRESH + STORE CONFIG
====================================
*/

type RefreshConfig struct {
	TTL time.Duration
}

// StoreMode selects the storage backend at Build time.
type StoreMode string

const (
	// StoreDurable requires Redis; Build fails when it is unreachable.
	StoreDurable StoreMode = "durable"
	// StoreFallback always uses the in-process store.
	StoreFallback StoreMode = "fallback"
	// StoreAuto uses Redis when reachable and the in-process store otherwise.
	StoreAuto StoreMode = "auto"
)

type StoreConfig struct {
	Mode                 StoreMode
	Namespace            string
	CommandTimeout       time.Duration
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
	MaxReconnectBackoff  time.Duration
	RetryInterval        time.Duration

	// FailoverOnUnavailable switches to the in-process store once, when the
	// connection manager exhausts its reconnect attempts.
	FailoverOnUnavailable bool
	// FallbackSweepInterval drives expiry sweeps of the in-process store.
	FallbackSweepInterval time.Duration
}

// RedisConfig is used when the Builder is not handed a client.
type RedisConfig struct {
	Addrs      []string
	MasterName string
	Username   string
	Password   string
	DB         int
	PoolSize   int
}

type RotationConfig struct {
	CleanupRetries int
	CleanupBackoff time.Duration
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
		},
		Refresh: RefreshConfig{
			TTL: 7 * 24 * time.Hour,
		},
		Store: StoreConfig{
			Mode:                  StoreAuto,
			CommandTimeout:        5 * time.Second,
			MaxReconnectAttempts:  5,
			ReconnectBackoff:      100 * time.Millisecond,
			MaxReconnectBackoff:   5 * time.Second,
			RetryInterval:         30 * time.Second,
			FallbackSweepInterval: time.Minute,
		},
		Redis: RedisConfig{
			PoolSize: 10,
		},
		Rotation: RotationConfig{
			CleanupRetries: 3,
			CleanupBackoff: 50 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.Redis.Addrs != nil {
		out.Redis.Addrs = append([]string(nil), cfg.Redis.Addrs...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks cfg for values the Service cannot run with.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Refresh.TTL <= c.JWT.AccessTTL {
		return errors.New("Refresh TTL must exceed JWT AccessTTL")
	}

	// Store
	switch c.Store.Mode {
	case StoreDurable, StoreFallback, StoreAuto:
	default:
		return fmt.Errorf("Store Mode %q is invalid", c.Store.Mode)
	}
	if c.Store.CommandTimeout <= 0 {
		return errors.New("Store CommandTimeout must be > 0")
	}
	if c.Store.MaxReconnectAttempts < 1 {
		return errors.New("Store MaxReconnectAttempts must be >= 1")
	}
	if c.Store.ReconnectBackoff < 0 || c.Store.MaxReconnectBackoff < 0 || c.Store.RetryInterval < 0 {
		return errors.New("Store backoff intervals must be >= 0")
	}
	if c.Store.FallbackSweepInterval < 0 {
		return errors.New("Store FallbackSweepInterval must be >= 0")
	}
	if c.Store.FailoverOnUnavailable && c.Store.Mode == StoreFallback {
		return errors.New("Store FailoverOnUnavailable has no effect in fallback mode")
	}
	if strings.ContainsAny(c.Store.Namespace, ":*?[]{}\\ ") {
		return errors.New("Store Namespace must not contain separators or glob characters")
	}

	// Rotation
	if c.Rotation.CleanupRetries < 0 {
		return errors.New("Rotation CleanupRetries must be >= 0")
	}
	if c.Rotation.CleanupBackoff < 0 {
		return errors.New("Rotation CleanupBackoff must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

/*
====================================
ENVIRONMENT
====================================
*/

// EnvConfig is the environment-sourced startup configuration used by the
// binaries.
type EnvConfig struct {
	RefreshTokenTTL      time.Duration `env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	AccessTokenTTL       time.Duration `env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	CommandTimeout       time.Duration `env:"STORE_COMMAND_TIMEOUT" env-default:"5s"`
	MaxReconnectAttempts int           `env:"STORE_MAX_RECONNECT_ATTEMPTS" env-default:"5"`
	RetryInterval        time.Duration `env:"STORE_RETRY_INTERVAL" env-default:"30s"`
	StoreMode            string        `env:"STORE_MODE" env-default:"auto"`
	KeyNamespace         string        `env:"STORE_KEY_NAMESPACE"`
	Failover             bool          `env:"STORE_FAILOVER" env-default:"false"`

	RedisAddrs    []string `env:"REDIS_ADDR" env-separator:","`
	RedisPassword string   `env:"REDIS_PASSWORD"`
	RedisDB       int      `env:"REDIS_DB" env-default:"0"`

	JWTSigningMethod string `env:"JWT_SIGNING_METHOD" env-default:"hs256"`
	JWTSecret        string `env:"JWT_SECRET"`
	JWTPrivateKey    string `env:"JWT_PRIVATE_KEY"`
	JWTPublicKey     string `env:"JWT_PUBLIC_KEY"`
	JWTIssuer        string `env:"JWT_ISSUER" env-default:"goRefresh"`

	AuditEnabled   bool `env:"AUDIT_ENABLED" env-default:"false"`
	MetricsEnabled bool `env:"METRICS_ENABLED" env-default:"false"`

	LogLevel  string `env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"LOG_FORMAT" env-default:"json"`

	NATSURL          string `env:"NATS_URL"`
	NATSAuditSubject string `env:"NATS_AUDIT_SUBJECT" env-default:"refresh.audit"`
	OpsListenAddr    string `env:"OPS_LISTEN_ADDR" env-default:":8081"`
}

// LoadConfigFromEnv loads the given dotenv files (missing files are
// skipped, variables already set win) and then reads the environment.
func LoadConfigFromEnv(files ...string) (*EnvConfig, error) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var env EnvConfig
	if err := cleanenv.ReadEnv(&env); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return &env, nil
}

// Config maps the environment onto a full Config and validates it.
func (e *EnvConfig) Config() (Config, error) {
	cfg := defaultConfig()

	cfg.Refresh.TTL = e.RefreshTokenTTL
	cfg.JWT.AccessTTL = e.AccessTokenTTL
	cfg.JWT.SigningMethod = strings.ToLower(e.JWTSigningMethod)
	cfg.JWT.Issuer = e.JWTIssuer
	switch cfg.JWT.SigningMethod {
	case "hs256":
		cfg.JWT.PrivateKey = []byte(e.JWTSecret)
	default:
		cfg.JWT.PrivateKey = []byte(e.JWTPrivateKey)
		cfg.JWT.PublicKey = []byte(e.JWTPublicKey)
	}

	cfg.Store.Mode = StoreMode(strings.ToLower(e.StoreMode))
	cfg.Store.Namespace = e.KeyNamespace
	cfg.Store.CommandTimeout = e.CommandTimeout
	cfg.Store.MaxReconnectAttempts = e.MaxReconnectAttempts
	cfg.Store.RetryInterval = e.RetryInterval
	cfg.Store.FailoverOnUnavailable = e.Failover

	cfg.Redis.Addrs = e.RedisAddrs
	cfg.Redis.Password = e.RedisPassword
	cfg.Redis.DB = e.RedisDB

	cfg.Audit.Enabled = e.AuditEnabled
	cfg.Metrics.Enabled = e.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = e.MetricsEnabled

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
