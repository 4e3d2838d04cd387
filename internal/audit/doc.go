// Package audit relays security-relevant events to a sink without blocking
// the request path.
//
// # Components
//
//   - [Event]: one audit record (type, user, record id, backend, outcome).
//   - [Sink]: event consumer (channel, JSON lines, no-op, or a transport
//     adapter such as the NATS sink).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full
//     semantics.
//
// # Architecture boundaries
//
// This package owns buffering and delivery. Which events to emit is decided
// by the Service.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goRefresh or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
