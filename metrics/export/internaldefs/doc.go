// Package internaldefs holds the metric names and bucket boundaries shared
// by the Prometheus and OTel exporters.
//
// Both exporters read from these tables so a metric is named the same way
// whichever backend scrapes it.
//
// # What this package must NOT do
//
//   - Import an exporter package.
//   - Perform I/O.
package internaldefs
