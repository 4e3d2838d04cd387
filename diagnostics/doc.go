// Package diagnostics builds read-only operational snapshots of the token
// store: how many records exist, their remaining TTLs and whether the
// backend persists data.
//
// # What this package must NOT do
//
//   - Mutate, reconcile or delete anything.
//   - Expose token hashes or record payloads.
package diagnostics
