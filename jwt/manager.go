package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the access-token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

const (
	minHS256SecretLen = 32
	maxLeeway         = 2 * time.Minute
	// Tokens issued further in the future than this are rejected even when
	// otherwise valid.
	maxFutureIssuedAt = 10 * time.Minute
)

var (
	// ErrInvalidAccessToken wraps every ParseAccess failure.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrVerifyOnly is returned by CreateAccess on a manager built without
	// an ed25519 private key.
	ErrVerifyOnly = errors.New("access token manager is verify-only")
)

// Config configures a [Manager]. PrivateKey doubles as the shared secret for
// HS256. Ed25519 keys are raw or PEM encoded.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// AccessClaims is the access-token payload. SID is the refresh-token record
// id the token was minted from.
type AccessClaims struct {
	UID string `json:"uid"`
	SID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and parses access tokens. Keys are decoded once by
// NewManager; the manager is safe for concurrent use.
type Manager struct {
	ttl      time.Duration
	issuer   string
	audience string
	method   jwt.SigningMethod
	signKey  any
	verify   any
	parser   *jwt.Parser
	now      func() time.Time
}

// NewManager validates cfg and returns a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("access TTL must be > 0")
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, fmt.Errorf("leeway must be between 0 and %s", maxLeeway)
	}

	m := &Manager{
		ttl:      cfg.AccessTTL,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      time.Now,
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHS256SecretLen {
			return nil, fmt.Errorf("hs256 requires a secret of at least %d bytes", minHS256SecretLen)
		}
		secret := append([]byte(nil), cfg.PrivateKey...)
		m.method = jwt.SigningMethodHS256
		m.signKey = secret
		m.verify = secret
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.signKey = priv
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires a public key")
		}
		pub, err := parseEdPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		m.verify = pub
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	m.parser = jwt.NewParser(opts...)

	return m, nil
}

func (m *Manager) AccessTTL() time.Duration {
	return m.ttl
}

// CreateAccess signs an access token for uid bound to the session record
// sid. It returns the token and its expiry.
func (m *Manager) CreateAccess(uid, sid string) (string, time.Time, error) {
	if uid == "" {
		return "", time.Time{}, errors.New("access token requires a user id")
	}
	if m.signKey == nil {
		return "", time.Time{}, ErrVerifyOnly
	}

	now := m.now()
	expires := now.Add(m.ttl)
	claims := AccessClaims{
		UID: uid,
		SID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.issuer,
		},
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expires, nil
}

// ParseAccess verifies tokenStr and returns its claims. Algorithm, expiry,
// issuer, audience and issued-at bounds are enforced. Errors wrap
// ErrInvalidAccessToken.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := m.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return m.verify, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAccessToken, err)
	}
	if !token.Valid || claims.UID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidAccessToken)
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(m.now().Add(maxFutureIssuedAt)) {
		return nil, fmt.Errorf("%w: issued too far in the future", ErrInvalidAccessToken)
	}
	return claims, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(append([]byte(nil), key...)), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(append([]byte(nil), key...)), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
