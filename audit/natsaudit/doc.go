// Package natsaudit publishes goRefresh audit events to a NATS subject.
//
// [New] wraps a connected *nats.Conn (or any [Publisher]) as a
// goRefresh.AuditSink. Each event is published as one JSON message. The
// sink runs on the audit dispatcher goroutine, so a slow broker delays
// other events but never a token operation.
//
// # What this package must NOT do
//
//   - Own the connection lifecycle. Callers connect and drain it.
//   - Retry failed publishes. Failures are counted and logged.
package natsaudit
