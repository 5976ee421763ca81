package metrics

import (
	"time"
)

// RecordGraphUpdate records one graph mutation. op is "upsert" or "remove";
// result is "changed", "noop" or "rejected".
func RecordGraphUpdate(op, result string, affected int) {
	GraphUpdatesTotal.WithLabelValues(op, result).Inc()
	if affected > 0 {
		GraphAffectedNodes.Observe(float64(affected))
	}
}

// UpdateGraphSize sets the node and edge gauges.
func UpdateGraphSize(nodes, edges int) {
	GraphNodes.Set(float64(nodes))
	GraphEdges.Set(float64(edges))
}

// RecordRankPass records the outcome of a ranking pass.
func RecordRankPass(outcome string, iterations int, duration time.Duration) {
	RankPassesTotal.WithLabelValues(outcome).Inc()
	RankIterations.Observe(float64(iterations))
	RankDuration.Observe(duration.Seconds())
}

// RecordRecompute records a finished recompute epoch.
// Status is one of "published", "aborted", "cancelled" or "failed".
func RecordRecompute(status string, duration time.Duration) {
	RecomputeTotal.WithLabelValues(status).Inc()
	RecomputeDuration.Observe(duration.Seconds())
}

// RecordDataErrors adds n rejected records for a stage.
func RecordDataErrors(stage string, n int) {
	if n <= 0 {
		return
	}
	DataErrorsTotal.WithLabelValues(stage).Add(float64(n))
}

// RecordConsistencyViolation records a failed invariant check.
func RecordConsistencyViolation(check string) {
	ConsistencyViolationsTotal.WithLabelValues(check).Inc()
}

// RecordFeedTransition records a feed lifecycle change.
func RecordFeedTransition(from, to string) {
	FeedTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordFetchOutcome records a fetch result reported to the scheduler.
func RecordFetchOutcome(kind string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	FetchOutcomesTotal.WithLabelValues(kind, result).Inc()
}

// UpdateQueueDepth sets the pending item count for feeds and entries.
func UpdateQueueDepth(feeds, entries int) {
	SchedulerQueueDepth.WithLabelValues("feed").Set(float64(feeds))
	SchedulerQueueDepth.WithLabelValues("entry").Set(float64(entries))
}

// UpdateFeedsByState sets the per-state feed gauges.
func UpdateFeedsByState(counts map[string]int) {
	for state, n := range counts {
		FeedsByState.WithLabelValues(state).Set(float64(n))
	}
}

// RecordFeedFetch observes one feed fetch.
func RecordFeedFetch(duration time.Duration) {
	FeedFetchDuration.Observe(duration.Seconds())
}

// RecordIngested adds n entries accepted into the engine.
func RecordIngested(n int) {
	if n > 0 {
		EntriesIngestedTotal.Add(float64(n))
	}
}

// RecordBreakerTransition records a circuit breaker moving to a new state.
func RecordBreakerTransition(name, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(name, to).Inc()
}

// RecordDiscovered adds n newly discovered feeds.
func RecordDiscovered(n int) {
	if n > 0 {
		FeedsDiscoveredTotal.Add(float64(n))
	}
}
