// Package prometheus exposes goSession metrics through client_golang.
//
// [NewPrometheusExporter] wraps a [goSession.Manager] in a [prometheus.Collector]
// and registers it in a private registry served by Handler. Counter names are
// prefixed gosession_*_total; the single histogram is
// gosession_execute_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry. Callers mount the
//     Handler or register the collector themselves.
//   - Mutate manager state.
package prometheus
