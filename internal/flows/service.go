package flows

import (
	"context"

	"github.com/MrEthical07/goRefresh/refresh"
)

// Service is the centralized flow runner built once per storage backend.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Issue.Tokens != nil && s.deps.Refresh.Rotator != nil
}

func (s Service) Issue(ctx context.Context, userID string, opts ...refresh.StoreOption) IssueResult {
	return RunIssue(ctx, userID, s.deps.Issue, opts...)
}

func (s Service) Refresh(ctx context.Context, userID, refreshToken string) RefreshResult {
	return RunRefresh(ctx, userID, refreshToken, s.deps.Refresh)
}

func (s Service) Logout(ctx context.Context, userID, refreshToken string) LogoutResult {
	return RunLogout(ctx, userID, refreshToken, s.deps.Logout)
}

func (s Service) LogoutAll(ctx context.Context, userID string) LogoutResult {
	return RunLogoutAll(ctx, userID, s.deps.Logout)
}
