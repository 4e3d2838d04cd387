package refresh

import "errors"

var (
	// ErrNotFound means the record is absent, expired, revoked or unreadable
	// while the store itself answered.
	ErrNotFound = errors.New("refresh token not found")
	// ErrTTLNotApplied is returned when a written record could not be given a
	// positive TTL. The record has been removed.
	ErrTTLNotApplied = errors.New("refresh token ttl not applied")
	// ErrInvalidUser rejects user ids that cannot be embedded in a key.
	ErrInvalidUser = errors.New("invalid user id")
	// ErrInvalidToken rejects empty raw tokens and malformed hashes.
	ErrInvalidToken = errors.New("invalid refresh token")
	// ErrInvalidTTL rejects non-positive lifetimes.
	ErrInvalidTTL = errors.New("refresh token ttl must be positive")
)
