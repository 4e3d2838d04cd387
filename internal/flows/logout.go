package flows

import (
	"context"

	"github.com/MrEthical07/goRefresh/refresh"
	"github.com/MrEthical07/goRefresh/session"
	"go.uber.org/zap"
)

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Tokens   refresh.TokenStore
	Sessions session.Registry
	Logger   *zap.Logger
}

// LogoutResult reports what a logout removed.
type LogoutResult struct {
	UserID   string
	RecordID string
	Revoked  int
	Err      error
}

// RunLogout revokes one refresh token and drops it from the index. Logging
// out an unknown token succeeds. The record id is derived from the token, so
// no read precedes the delete.
func RunLogout(ctx context.Context, userID, refreshToken string, deps LogoutDeps) LogoutResult {
	if err := refresh.ValidateUserID(userID); err != nil {
		return LogoutResult{UserID: userID, Err: err}
	}
	if refreshToken == "" {
		return LogoutResult{UserID: userID, Err: refresh.ErrInvalidToken}
	}

	hash := refresh.HashToken(refreshToken)
	recordID := refresh.RecordID(userID, hash)
	if err := deps.Tokens.RevokeHash(ctx, userID, hash); err != nil {
		return LogoutResult{UserID: userID, RecordID: recordID, Err: err}
	}

	if deps.Sessions != nil {
		if err := deps.Sessions.RemoveSession(ctx, userID, recordID); err != nil && deps.Logger != nil {
			deps.Logger.Warn("revoked session left in index",
				zap.String("user_id", userID),
				zap.String("record_id", recordID),
				zap.Error(err),
			)
		}
	}

	return LogoutResult{UserID: userID, RecordID: recordID, Revoked: 1}
}

// RunLogoutAll revokes every session of userID as one unit of work.
func RunLogoutAll(ctx context.Context, userID string, deps LogoutDeps) LogoutResult {
	if err := refresh.ValidateUserID(userID); err != nil {
		return LogoutResult{UserID: userID, Err: err}
	}
	n, err := deps.Sessions.RevokeAll(ctx, userID)
	return LogoutResult{UserID: userID, Revoked: n, Err: err}
}
