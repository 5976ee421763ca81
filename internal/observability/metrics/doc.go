// Package metrics provides Prometheus metrics registry and recording utilities.
//
// All metrics are registered with the Prometheus default registry through
// promauto and exposed by the worker on /metrics. Packages record through the
// Record* and Update* helpers rather than touching collectors directly:
//
//	start := time.Now()
//	res, err := engine.Rank(ctx, snap, seeds)
//	metrics.RecordRankPass("converged", res.Iterations, time.Since(start))
package metrics
