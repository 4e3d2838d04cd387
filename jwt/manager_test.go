package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func signed(t *testing.T, method gjwt.SigningMethod, key any, claims AccessClaims) string {
	t.Helper()
	s, err := gjwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestCreateAndParseAccessRoundTrip(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     priv.Public().(ed25519.PublicKey),
		Issuer:        "goRefresh",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	access, exp, err := m.CreateAccess("alice", "rec-1")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if d := time.Until(exp); d <= 14*time.Minute || d > 15*time.Minute {
		t.Fatalf("unexpected expiry distance %v", d)
	}

	claims, err := m.ParseAccess(access)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.UID != "alice" || claims.SID != "rec-1" || claims.Subject != "alice" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("expected a token id")
	}
}

func TestCreateAccessRequiresUser(t *testing.T) {
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte(strings.Repeat("k", 32))})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, _, err := m.CreateAccess("", "rec"); err == nil {
		t.Fatal("expected empty user id to be rejected")
	}
}

func TestNewManagerRejectsShortHS256Secret(t *testing.T) {
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("short")}); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
}

func TestVerifyOnlyManagerCannotSign(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, _, err := m.CreateAccess("alice", "rec"); !errors.Is(err, ErrVerifyOnly) {
		t.Fatalf("expected ErrVerifyOnly, got %v", err)
	}
}

func TestParseAccessRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := AccessClaims{UID: "alice", RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	token := signed(t, gjwt.SigningMethodHS256, []byte("secret-secret-secret-secret"), claims)

	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseAccessRequiresExpiryAndUser(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: priv.Public().(ed25519.PublicKey)})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	noExp := signed(t, gjwt.SigningMethodEdDSA, priv, AccessClaims{UID: "alice"})
	if _, err := m.ParseAccess(noExp); err == nil {
		t.Fatal("expected token without exp to fail")
	}

	noUser := signed(t, gjwt.SigningMethodEdDSA, priv, AccessClaims{RegisteredClaims: gjwt.RegisteredClaims{
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}})
	if _, err := m.ParseAccess(noUser); err == nil {
		t.Fatal("expected token without uid to fail")
	}
}

func TestParseAccessIssuerAudienceAndLeeway(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     priv.Public().(ed25519.PublicKey),
		Issuer:        "goRefresh",
		Audience:      "api",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	access, _, err := m.CreateAccess("alice", "rec-1")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.ParseAccess(access); err != nil {
		t.Fatalf("expected valid token to parse: %v", err)
	}

	base := func(iss, aud string, exp, iat time.Duration) AccessClaims {
		return AccessClaims{UID: "alice", SID: "rec-1", RegisteredClaims: gjwt.RegisteredClaims{
			Issuer:    iss,
			Audience:  gjwt.ClaimStrings{aud},
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(exp)),
			IssuedAt:  gjwt.NewNumericDate(time.Now().Add(iat)),
		}}
	}

	if _, err := m.ParseAccess(signed(t, gjwt.SigningMethodEdDSA, priv, base("other", "api", time.Minute, 0))); err == nil {
		t.Fatal("expected wrong issuer to fail")
	}
	if _, err := m.ParseAccess(signed(t, gjwt.SigningMethodEdDSA, priv, base("goRefresh", "other-api", time.Minute, 0))); err == nil {
		t.Fatal("expected wrong audience to fail")
	}
	if _, err := m.ParseAccess(signed(t, gjwt.SigningMethodEdDSA, priv, base("goRefresh", "api", -15*time.Second, -time.Minute))); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}
	if _, err := m.ParseAccess(signed(t, gjwt.SigningMethodEdDSA, priv, base("goRefresh", "api", -2*time.Minute, -3*time.Minute))); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestParseAccessRejectsFutureIAT(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     priv.Public().(ed25519.PublicKey),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	claims := AccessClaims{UID: "alice", RegisteredClaims: gjwt.RegisteredClaims{
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(3 * time.Hour)),
		IssuedAt:  gjwt.NewNumericDate(time.Now().Add(2 * time.Hour)),
	}}
	if _, err := m.ParseAccess(signed(t, gjwt.SigningMethodEdDSA, priv, claims)); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expected far-future iat to fail with ErrInvalidAccessToken, got %v", err)
	}
}

func TestParseAccessUsesManagerClock(t *testing.T) {
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte(strings.Repeat("s", 32))})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return issued }

	access, exp, err := m.CreateAccess("alice", "rec-1")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if !exp.Equal(issued.Add(time.Minute)) {
		t.Fatalf("expiry = %v, want %v", exp, issued.Add(time.Minute))
	}
	if _, err := m.ParseAccess(access); err != nil {
		t.Fatalf("expected token to parse at issue time: %v", err)
	}

	m.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := m.ParseAccess(access); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestHS256ManagersWithDifferentSecretsDisagree(t *testing.T) {
	a, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte(strings.Repeat("a", 32))})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	b, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte(strings.Repeat("b", 32))})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	access, _, err := a.CreateAccess("alice", "rec-1")
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := b.ParseAccess(access); err == nil {
		t.Fatal("expected signature mismatch")
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	secret := []byte(strings.Repeat("k", 32))
	cases := map[string]Config{
		"zero ttl":       {SigningMethod: MethodHS256, PrivateKey: secret},
		"leeway too big": {AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: secret, Leeway: time.Hour},
		"unknown method": {AccessTTL: time.Minute, SigningMethod: "rs256", PrivateKey: secret},
		"ed no public":   {AccessTTL: time.Minute, SigningMethod: MethodEd25519},
		"ed bad public":  {AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: []byte("nope")},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewManager(cfg); err == nil {
				t.Fatal("expected config to be rejected")
			}
		})
	}
}
