package refresh

import (
	"fmt"
	"strings"
)

const (
	recordKeyPrefix  = "refresh-token:"
	sessionKeyPrefix = "session-set:"
	maxUserIDLen     = 255
)

// Keys builds store keys. The user id is wrapped in braces so that every key
// of one user hashes to the same cluster slot, which keeps per-user MULTI/EXEC
// batches valid on clustered deployments.
//
//	[ns:]refresh-token:{userID}:tokenHash
//	[ns:]session-set:{userID}
type Keys struct {
	Namespace string
}

func (k Keys) prefix() string {
	if k.Namespace == "" {
		return ""
	}
	return k.Namespace + ":"
}

// ValidateAddress checks the (userID, tokenHash) pair that addresses one
// record. Every store backend rejects the same inputs with the same errors.
func ValidateAddress(userID, tokenHash string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	if !isTokenHash(tokenHash) {
		return fmt.Errorf("%w: malformed token hash", ErrInvalidToken)
	}
	return nil
}

// Record returns the key of one refresh-token record.
func (k Keys) Record(userID, tokenHash string) (string, error) {
	if err := ValidateAddress(userID, tokenHash); err != nil {
		return "", err
	}
	return k.prefix() + recordKeyPrefix + "{" + userID + "}:" + tokenHash, nil
}

// SessionSet returns the key of the user's session index.
func (k Keys) SessionSet(userID string) (string, error) {
	if err := ValidateUserID(userID); err != nil {
		return "", err
	}
	return k.prefix() + sessionKeyPrefix + "{" + userID + "}", nil
}

// RecordPattern matches the record keys of userID, or of every user when
// userID is empty.
func (k Keys) RecordPattern(userID string) (string, error) {
	if userID == "" {
		return k.prefix() + recordKeyPrefix + "*", nil
	}
	if err := ValidateUserID(userID); err != nil {
		return "", err
	}
	return k.prefix() + recordKeyPrefix + "{" + userID + "}:*", nil
}

// ParseRecordKey splits a record key produced by [Keys.Record].
func (k Keys) ParseRecordKey(key string) (userID, tokenHash string, ok bool) {
	rest, found := strings.CutPrefix(key, k.prefix()+recordKeyPrefix+"{")
	if !found {
		return "", "", false
	}
	userID, tokenHash, found = strings.Cut(rest, "}:")
	if !found || ValidateUserID(userID) != nil || !isTokenHash(tokenHash) {
		return "", "", false
	}
	return userID, tokenHash, true
}

// ValidateUserID rejects ids that would break key parsing or match patterns.
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUser)
	}
	if len(userID) > maxUserIDLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidUser, maxUserIDLen)
	}
	for i := 0; i < len(userID); i++ {
		c := userID[i]
		if c <= ' ' || c == 0x7f {
			return fmt.Errorf("%w: control or space character", ErrInvalidUser)
		}
		switch c {
		case ':', '*', '?', '[', ']', '{', '}', '\\':
			return fmt.Errorf("%w: reserved character %q", ErrInvalidUser, c)
		}
	}
	return nil
}

func isTokenHash(h string) bool {
	if len(h) != 64 {
		return false
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
