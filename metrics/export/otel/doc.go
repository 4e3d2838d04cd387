// Package otel mirrors goRefresh counters and the refresh latency
// histogram into OpenTelemetry observable instruments.
//
// [New] registers an Int64ObservableCounter per counter and an
// Int64ObservableGauge per cumulative histogram bucket. A single callback
// reads the service snapshot on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate service state.
package otel
