// Package gateway wires the pairwire service together and owns its
// lifecycle.
//
// # Overview
//
// New() builds every component from configuration: the SQLite store, the
// pairing engine, the relay router, the shared-mode feature, and one
// adapter per enabled frontend. Run() starts the HTTP operational surface
// and all adapters, then blocks until the context is cancelled or a
// component fails, at which point everything is shut down in order.
//
// # HTTP Endpoints
//
//   - /health       liveness, always 200 while the process runs
//   - /health/ready readiness, requires storage and at least one frontend
//   - /api/stats    JSON counters: waiting threads, open chats, frontends
//
// # Shutdown
//
// Cancellation of the Run context stops adapters first (their contexts
// are children of Run's), then the HTTP server, the dedupe cache, and
// finally the store. A five second timeout bounds the whole sequence.
package gateway
