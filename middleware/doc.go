// Package middleware adapts goRefresh to net/http.
//
// # Guards
//
//   - [RequireAccess] verifies a bearer access token and attaches its
//     claims and user id.
//   - [RequireUser] attaches a user id resolved by the caller, for refresh
//     endpoints reached with an expired access token.
//
// Both put the user id where Service.Refresh reads it.
//
// # What this package must NOT do
//
//   - Create tokens or touch the store.
//   - Make decisions beyond pass/reject.
package middleware
