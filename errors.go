package goRefresh

import (
	"errors"

	"github.com/MrEthical07/goRefresh/conn"
	"github.com/MrEthical07/goRefresh/refresh"
	"github.com/MrEthical07/goRefresh/rotation"
)

var (
	// ErrStoreUnavailable means the backing store could not answer. It is
	// retryable and must never end a session.
	ErrStoreUnavailable = conn.ErrUnavailable
	// ErrTimeout is the timeout flavor of ErrStoreUnavailable.
	ErrTimeout = conn.ErrTimeout
	// ErrNotFound means the refresh token is absent, expired or revoked.
	ErrNotFound = refresh.ErrNotFound
	// ErrRotationFailed means the replacement token was not confirmed. The
	// presented token is still valid and the call may be retried with it.
	ErrRotationFailed = rotation.ErrRotationFailed
	// ErrSecurityInconsistency reports a retired token that outlived its
	// delete. It is surfaced through audit and metrics, never to callers.
	ErrSecurityInconsistency = rotation.ErrSecurityInconsistency
	// ErrUserUnknown means no usable user id was supplied.
	ErrUserUnknown = errors.New("user id missing or invalid")
	// ErrTokenInvalid rejects malformed refresh or access tokens.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrEngineNotReady is returned by a nil or closed Service.
	ErrEngineNotReady = errors.New("service not initialized")
	// ErrSessionCreationFailed wraps issue failures after the record was
	// written.
	ErrSessionCreationFailed = errors.New("session creation failed")
)

// IsRetryable reports whether err is a connectivity-class failure that the
// caller should retry instead of treating as an authentication failure. A
// failed rotation is retryable because the presented token survives it.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrRotationFailed)
}
