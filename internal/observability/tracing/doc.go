// Package tracing provides OpenTelemetry tracing integration.
//
// Recompute epochs and ranking passes run inside spans started with
// StartSpan; the worker's admin HTTP endpoints are wrapped with Middleware.
// No exporter is configured here: the process installs a TracerProvider
// and this package picks it up through the otel global.
package tracing
