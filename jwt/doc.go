// Package jwt issues and verifies short-lived access tokens.
//
// Access tokens are stateless: they carry the user id and the id of the
// refresh-token record (session) they were minted from, and verifying one
// never touches the token store.
//
// # What this package must NOT do
//
//   - Access Redis or any other I/O.
//   - Import goRefresh, refresh or session.
package jwt
