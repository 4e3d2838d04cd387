// Package goRefresh issues, rotates, validates and revokes refresh tokens
// backed by Redis, with a per-user session index and an in-process fallback
// store.
//
// [Service] is the entry point. Build it with [New] and [Builder.Build]; its
// methods are safe to call from multiple goroutines.
//
// # Architecture boundaries
//
// goRefresh is the public surface. It exposes [Service], [Builder], [Config]
// and value types (TokenPair, MetricsSnapshot, HealthStatus). Storage lives in
// conn, refresh, session and fallback; rotation lives in rotation; flow
// orchestration and audit dispatch live under internal/.
//
// # What this package must NOT do
//
//   - Translate ErrStoreUnavailable or ErrTimeout into an authentication
//     failure.
//   - Switch storage backends per call. The fallback is selected at Build or
//     by one logged failover.
//   - Import any sub-package that re-imports goRefresh (no import cycles).
package goRefresh
