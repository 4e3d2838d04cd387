package middleware

import (
	"context"
	"net/http"
	"strings"

	goRefresh "github.com/MrEthical07/goRefresh"
	"github.com/MrEthical07/goRefresh/jwt"
)

// AccessVerifier verifies access tokens. *goRefresh.Service implements it.
type AccessVerifier interface {
	ParseAccess(token string) (*jwt.AccessClaims, error)
}

type accessClaimsContextKey struct{}

func AccessClaimsFromContext(ctx context.Context) (*jwt.AccessClaims, bool) {
	claims, ok := ctx.Value(accessClaimsContextKey{}).(*jwt.AccessClaims)
	return claims, ok
}

// RequireAccess rejects requests without a valid bearer access token. On
// success the claims and the token's user id are attached to the request
// context.
func RequireAccess(v AccessVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.ParseAccess(token)
			if err != nil || claims.UID == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), accessClaimsContextKey{}, claims)
			ctx = goRefresh.WithUserID(ctx, claims.UID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser attaches the user id reported by resolve. It is meant for
// refresh endpoints, where the access token may already have expired and
// the caller's identity comes from an upstream layer.
func RequireUser(resolve func(*http.Request) (string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolve == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			userID, ok := resolve(r)
			if !ok || userID == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(goRefresh.WithUserID(r.Context(), userID)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
