// Package internal holds helpers private to goRefresh, such as refresh-token
// generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: issue, refresh and logout orchestration used by the Service
//   - logger: zap logger construction for the binaries
//
// # What this package must NOT do
//
//   - Export types that appear in the public goRefresh API.
//   - Be imported by any package outside the goRefresh module.
package internal
