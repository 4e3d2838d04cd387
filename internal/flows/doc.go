// Package flows contains pure-function orchestrators for the Service
// operations: issue, refresh and logout.
//
// Each flow function (RunIssue, RunRefresh, RunLogout, RunLogoutAll) accepts a
// typed dependency struct and returns a result carrying either the produced
// tokens or a failure kind the root package maps to a public error.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the token store, the session registry,
// the rotation protocol and the access-token issuer. They do NOT own any of
// these resources; ownership stays with the Service.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goRefresh (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency interfaces.
//   - Translate connectivity failures into authentication failures.
package flows
