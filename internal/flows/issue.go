package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goRefresh/refresh"
	"github.com/MrEthical07/goRefresh/session"
	"go.uber.org/zap"
)

// IssueFailureKind classifies issue flow failures for root-level mapping.
type IssueFailureKind int

const (
	IssueFailureNone IssueFailureKind = iota
	IssueFailureInvalidUser
	IssueFailureNextSecret
	IssueFailureIssueAccess
	IssueFailureStore
	IssueFailureIndex
)

// IssueResult carries either the issued token pair or failure metadata.
type IssueResult struct {
	Failure         IssueFailureKind
	Err             error
	UserID          string
	Record          *refresh.Record
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
}

// IssueDeps captures issue flow dependencies.
type IssueDeps struct {
	Tokens          refresh.TokenStore
	Sessions        session.Registry
	NewRefreshToken func() (string, error)
	IssueAccess     AccessIssuer
	RefreshTTL      func() time.Duration
	Logger          *zap.Logger
	// OnOrphan fires when an unindexed record could not be revoked.
	OnOrphan func(userID, recordID string, err error)
}

// RunIssue mints a refresh token, persists it, indexes it and signs a matching
// access token. A record that cannot be indexed is revoked again so that no
// unlisted session survives.
func RunIssue(ctx context.Context, userID string, deps IssueDeps, opts ...refresh.StoreOption) IssueResult {
	if err := refresh.ValidateUserID(userID); err != nil {
		return IssueResult{Failure: IssueFailureInvalidUser, Err: err, UserID: userID}
	}

	raw, err := deps.NewRefreshToken()
	if err != nil {
		return IssueResult{Failure: IssueFailureNextSecret, Err: err, UserID: userID}
	}
	hash := refresh.HashToken(raw)

	access, exp, err := deps.IssueAccess(userID, refresh.RecordID(userID, hash))
	if err != nil {
		return IssueResult{Failure: IssueFailureIssueAccess, Err: err, UserID: userID}
	}

	rec, err := deps.Tokens.Store(ctx, userID, raw, deps.RefreshTTL(), opts...)
	if err != nil {
		kind := IssueFailureStore
		if errors.Is(err, refresh.ErrInvalidUser) {
			kind = IssueFailureInvalidUser
		}
		return IssueResult{Failure: kind, Err: err, UserID: userID}
	}

	if deps.Sessions != nil {
		if err := deps.Sessions.AddSession(ctx, rec); err != nil {
			attempts, revokeErr := refresh.Purge(ctx, deps.Tokens, userID, hash, 0, 0)
			if revokeErr != nil {
				if deps.Logger != nil {
					deps.Logger.Error("unindexed refresh token could not be revoked",
						zap.String("user_id", userID),
						zap.String("record_id", rec.RecordID),
						zap.Int("attempts", attempts),
						zap.Error(revokeErr),
					)
				}
				if deps.OnOrphan != nil {
					deps.OnOrphan(userID, rec.RecordID, revokeErr)
				}
			}
			return IssueResult{Failure: IssueFailureIndex, Err: err, UserID: userID, Record: rec}
		}
	}

	return IssueResult{
		Failure:         IssueFailureNone,
		UserID:          userID,
		Record:          rec,
		AccessToken:     access,
		AccessExpiresAt: exp,
		RefreshToken:    raw,
	}
}
