// Package conn owns the shared connection to the backing key-value store.
//
// A [Manager] wraps a go-redis UniversalClient and adds three things the raw
// client does not give callers: an explicit availability state machine, a
// bounded command timeout on every call, and a typed pipeline primitive that
// returns exactly one [Result] per submitted [Command].
//
// # Availability
//
// The manager moves through Disconnected, Connecting and Connected. Any
// connectivity failure observed on a command flips the state to Disconnected
// before the error is returned to the caller, so [Manager.IsAvailable] never
// reports a stale "available". A background loop retries with exponential
// backoff up to MaxReconnectAttempts; afterwards the manager stays unavailable
// until the next scheduled cycle or a manual [Manager.Reconnect].
//
// # Architecture boundaries
//
// This package knows nothing about refresh tokens or sessions. It does not
// build keys, encode payloads or interpret values.
//
// # What this package must NOT do
//
//   - Translate connectivity failures into "not found".
//   - Hold package-level client state; every component receives the manager explicitly.
package conn
