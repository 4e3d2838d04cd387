package goRefresh

import "context"

type userIDContextKey struct{}

// WithUserID attaches the authenticated user id to ctx. [Service.Refresh]
// resolves the token owner from it.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// UserIDFromContext returns the user id stored by WithUserID.
func UserIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	userID, _ := ctx.Value(userIDContextKey{}).(string)
	return userID, userID != ""
}
