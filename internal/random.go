package internal

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const refreshTokenSize = 32

// NewRefreshToken returns an opaque refresh token: 32 random bytes,
// base64url without padding.
func NewRefreshToken() (string, error) {
	var raw [refreshTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}
