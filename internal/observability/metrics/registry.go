// Package metrics provides centralized Prometheus metrics for the engine and worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Similarity graph metrics
var (
	// GraphNodes is the number of entries participating in the similarity graph
	GraphNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sift_graph_nodes",
			Help: "Number of entries in the similarity graph",
		},
	)

	// GraphEdges is the number of undirected mutual-kNN edges
	GraphEdges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sift_graph_edges",
			Help: "Number of mutual-kNN edges in the similarity graph",
		},
	)

	// GraphUpdatesTotal counts graph mutations by operation and result
	GraphUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_graph_updates_total",
			Help: "Total number of similarity graph updates",
		},
		[]string{"op", "result"},
	)

	// GraphAffectedNodes measures how many nodes one update had to touch
	GraphAffectedNodes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sift_graph_affected_nodes",
			Help:    "Nodes whose adjacency was rebuilt by a single graph update",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)

// Ranking metrics
var (
	// RankIterations measures iterations needed per ranking pass
	RankIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sift_rank_iterations",
			Help:    "Power iterations per personalized ranking pass",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
		},
	)

	// RankDuration measures ranking pass duration in seconds
	RankDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sift_rank_duration_seconds",
			Help:    "Duration of a personalized ranking pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RankPassesTotal counts ranking passes by outcome (converged, approximate, cancelled)
	RankPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_rank_passes_total",
			Help: "Total number of ranking passes by outcome",
		},
		[]string{"outcome"},
	)
)

// Recompute epoch metrics
var (
	// RecomputeTotal counts recompute epochs by status
	RecomputeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_recompute_total",
			Help: "Total number of recompute epochs by status",
		},
		[]string{"status"},
	)

	// RecomputeDuration measures a full recompute epoch in seconds
	RecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sift_recompute_duration_seconds",
			Help:    "Duration of a recompute epoch",
			Buckets: prometheus.DefBuckets,
		},
	)

	// StateVersion is the version of the last published ranking state
	StateVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sift_state_version",
			Help: "Version of the last published ranking state",
		},
	)

	// DataErrorsTotal counts rejected records by pipeline stage
	DataErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_data_errors_total",
			Help: "Total number of rejected records",
		},
		[]string{"stage"},
	)

	// ConsistencyViolationsTotal counts invariant failures by check name
	ConsistencyViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_consistency_violations_total",
			Help: "Total number of detected consistency violations",
		},
		[]string{"check"},
	)
)

// Scheduler metrics
var (
	// SchedulerQueueDepth is the number of pending fetchable items by kind
	SchedulerQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sift_scheduler_queue_depth",
			Help: "Pending fetchable items by kind",
		},
		[]string{"kind"},
	)

	// FeedsByState is the number of feeds in each lifecycle state
	FeedsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sift_feeds",
			Help: "Number of feeds by lifecycle state",
		},
		[]string{"state"},
	)

	// FeedTransitionsTotal counts feed lifecycle transitions
	FeedTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_feed_transitions_total",
			Help: "Total number of feed lifecycle transitions",
		},
		[]string{"from", "to"},
	)

	// FetchOutcomesTotal counts fetch outcomes reported back to the scheduler
	FetchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_fetch_outcomes_total",
			Help: "Total number of fetch outcomes by item kind and result",
		},
		[]string{"kind", "result"},
	)
)

// Worker metrics
var (
	// FeedFetchDuration measures a single feed fetch in seconds
	FeedFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sift_feed_fetch_duration_seconds",
			Help:    "Duration of a single feed fetch",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// EntriesIngestedTotal counts entries accepted into the graph
	EntriesIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sift_entries_ingested_total",
			Help: "Total number of entries ingested into the engine",
		},
	)
)

// Resilience and discovery metrics
var (
	// CircuitBreakerTransitionsTotal counts breaker state changes
	CircuitBreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state changes",
		},
		[]string{"breaker", "to"},
	)

	// FeedsDiscoveredTotal counts feeds found through entry pages
	FeedsDiscoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sift_feeds_discovered_total",
			Help: "Total number of feeds added by discovery",
		},
	)
)
