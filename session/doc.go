// Package session maintains the per-user index of active refresh-token
// records.
//
// # Index layout
//
// Each user has one Redis hash at session-set:{userID} whose fields are
// record ids and whose values are token hashes. The hash is the set of
// active sessions; the stored hash lets the registry address a record
// without ever holding the raw token.
//
// # Reconciliation
//
// The index is eventually consistent with the records it points at. Entries
// whose record has expired or was deleted elsewhere are dropped lazily the
// next time [RedisRegistry.ListSessions] reads them.
//
// # Architecture boundaries
//
// This package owns the index only. Record payloads are written by package
// refresh; this package reads them to build [Descriptor] values and deletes
// them in bulk for [RedisRegistry.RevokeAll].
//
// # What this package must NOT do
//
//   - Import goRefresh, jwt or rotation (no upward imports).
//   - Return token material in descriptors.
//   - Treat connectivity failures as an empty session list.
package session
