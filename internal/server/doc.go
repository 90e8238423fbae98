// Package server implements perf-target, an instrumented HTTP service whose
// timing entries can be sampled remotely.
//
// Routes:
//   - GET /data fetches the configured external URL through a transport that
//     records a resource entry, and measures the fetch between two marks
//   - GET /perf-entries drains every snapshot captured since the last drain
//   - GET /perf-entries/stream streams snapshots over a websocket
//   - GET /metrics serves the Prometheus exposition
//   - GET /healthz answers "ok"
//
// Every route except the stream is recorded as an http entry and gzip
// compressed when the client asks for it.
package server
