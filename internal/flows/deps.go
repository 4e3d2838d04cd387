package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goRefresh/refresh"
	"github.com/MrEthical07/goRefresh/rotation"
)

// Deps groups flow dependency sets. The Service builds this once per storage
// backend and delegates request methods to the matching flow implementation.
type Deps struct {
	Issue   IssueDeps
	Refresh RefreshDeps
	Logout  LogoutDeps
}

// Rotator is the part of rotation.Protocol the refresh flow needs.
type Rotator interface {
	Rotate(ctx context.Context, userID, oldRawToken, newRawToken string, ttl time.Duration, opts ...refresh.StoreOption) (*rotation.Outcome, error)
}

// AccessIssuer mints an access token for userID bound to a record id.
type AccessIssuer func(userID, recordID string) (token string, expiresAt time.Time, err error)
