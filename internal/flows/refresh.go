package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goRefresh/conn"
	"github.com/MrEthical07/goRefresh/refresh"
	"github.com/MrEthical07/goRefresh/rotation"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureUserUnknown
	RefreshFailureDecode
	RefreshFailureNextSecret
	RefreshFailureIssueAccess
	RefreshFailureNotFound
	RefreshFailureUnavailable
	RefreshFailureRotate
)

// RefreshResult carries either the issued token pair or failure metadata.
type RefreshResult struct {
	Failure         RefreshFailureKind
	Err             error
	UserID          string
	Outcome         *rotation.Outcome
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Rotator         Rotator
	NewRefreshToken func() (string, error)
	IssueAccess     AccessIssuer
	RefreshTTL      func() time.Duration
}

// RunRefresh rotates refreshToken for userID and issues the replacement pair.
// The access token is signed before the rotation so a signing failure leaves
// the old refresh token untouched.
func RunRefresh(ctx context.Context, userID, refreshToken string, deps RefreshDeps) RefreshResult {
	if userID == "" {
		return RefreshResult{Failure: RefreshFailureUserUnknown, Err: refresh.ErrInvalidUser}
	}
	if refreshToken == "" {
		return RefreshResult{Failure: RefreshFailureDecode, Err: refresh.ErrInvalidToken, UserID: userID}
	}
	if err := refresh.ValidateUserID(userID); err != nil {
		return RefreshResult{Failure: RefreshFailureUserUnknown, Err: err, UserID: userID}
	}

	next, err := deps.NewRefreshToken()
	if err != nil {
		return RefreshResult{Failure: RefreshFailureNextSecret, Err: err, UserID: userID}
	}

	access, exp, err := deps.IssueAccess(userID, refresh.RecordID(userID, refresh.HashToken(next)))
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssueAccess, Err: err, UserID: userID}
	}

	out, err := deps.Rotator.Rotate(ctx, userID, refreshToken, next, deps.RefreshTTL())
	if err != nil {
		return RefreshResult{Failure: classifyRotateErr(err), Err: err, UserID: userID, Outcome: out}
	}

	return RefreshResult{
		Failure:         RefreshFailureNone,
		UserID:          userID,
		Outcome:         out,
		AccessToken:     access,
		AccessExpiresAt: exp,
		RefreshToken:    next,
	}
}

// classifyRotateErr keeps connectivity failures apart from authentication
// failures. A rotation failure is checked first because its cause may itself
// be a connectivity error.
func classifyRotateErr(err error) RefreshFailureKind {
	switch {
	case errors.Is(err, rotation.ErrRotationFailed):
		return RefreshFailureRotate
	case errors.Is(err, conn.ErrUnavailable):
		return RefreshFailureUnavailable
	case errors.Is(err, refresh.ErrNotFound):
		return RefreshFailureNotFound
	case errors.Is(err, refresh.ErrInvalidToken):
		return RefreshFailureDecode
	default:
		return RefreshFailureUnavailable
	}
}
