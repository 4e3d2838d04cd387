// Package fallback provides a process-local store used when the durable
// backend is unreachable.
//
// [MemoryStore] satisfies the same record and session-index contracts as the
// Redis implementations. Its data does not survive a restart and is not
// shared with other instances; selecting it is always an explicit, logged
// decision made by the service at startup or on a single failover event.
//
// # What this package must NOT do
//
//   - Claim persistence ([MemoryStore.PersistenceEnabled] is always false).
//   - Switch itself on or off per call.
package fallback
