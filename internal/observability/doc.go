// Package observability groups the logging, metrics and tracing subpackages
// used by the engine and the worker.
//
// Subpackages:
//   - logging: slog JSON loggers with epoch/run-ID tagging and context propagation
//   - metrics: Prometheus collectors and Record* helpers
//   - tracing: OpenTelemetry spans for recompute epochs and admin endpoints
package observability
