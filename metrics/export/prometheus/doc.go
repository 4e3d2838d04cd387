// Package prometheus exposes goRefresh metrics as a Prometheus collector.
//
// [NewExporter] wraps a *goRefresh.Service and registers itself in a
// private registry served by [Exporter.Handler]. Counter names are
// refresh_*_total; the single histogram is refresh_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers mount the Handler.
//   - Mutate service state.
package prometheus
