// Package rotation replaces one refresh token with another without a window
// in which the user holds zero valid tokens.
//
// # Ordering
//
// The new record is written and read back before the old record is touched.
// If the new record cannot be confirmed the old one is left alone and the
// caller may retry with the same old token. Only after confirmation is the
// old record deleted, and its absence is verified; a survivor is a
// [ErrSecurityInconsistency] that is logged, reported and retried while the
// rotation itself still succeeds.
//
// Concurrent rotations of the same old token each mint an independent new
// record. Deleting the old record more than once is harmless.
//
// # Architecture boundaries
//
// [Protocol] owns no state. It drives a [refresh.TokenStore] and, when
// configured, a [session.Registry]; either backend (Redis or in-memory) works.
//
// # What this package must NOT do
//
//   - Delete the old record before the new one is confirmed.
//   - Use in-process locks for correctness.
//   - Issue access tokens or resolve the calling user.
package rotation
