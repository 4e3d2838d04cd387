// Package refresh stores, validates and revokes refresh-token records in the
// backing key-value store.
//
// # Record model
//
// A record is keyed by the owning user and the SHA-256 of the raw token; the
// raw token itself is never written. Record ids are derived deterministically
// from (userID, tokenHash), so the same token always maps to the same id.
// Every record carries a store-enforced TTL; a record whose TTL cannot be
// verified after writing is deleted and the write fails.
//
// # Architecture boundaries
//
// This package owns record encoding, key naming and the [RedisStore]
// operations. It talks to the store only through [conn.Manager]. Rotation
// ordering lives in package rotation and the per-user session index in
// package session.
//
// # What this package must NOT do
//
//   - Report connectivity failures as [ErrNotFound].
//   - Persist raw refresh tokens.
//   - Hold in-process locks for correctness.
package refresh
