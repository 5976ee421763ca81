package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dysthesis/sift/internal/pkg/config"
)

// Job names used as the "job" label.
const (
	JobCrawl     = "crawl"
	JobRecompute = "recompute"
	JobPoll      = "poll"
)

// WorkerMetrics holds the worker's job metrics next to its configuration
// metrics.
//
//   - sift_worker_job_runs_total{job,status}
//   - sift_worker_job_duration_seconds{job}
//   - sift_worker_job_last_success_timestamp_seconds{job}
//   - sift_worker_feeds_processed_total
//   - sift_worker_interactions_polled_total
type WorkerMetrics struct {
	*config.ConfigMetrics

	JobRunsTotal            *prometheus.CounterVec
	JobDurationSeconds      *prometheus.HistogramVec
	JobLastSuccess          *prometheus.GaugeVec
	FeedsProcessedTotal     prometheus.Counter
	InteractionsPolledTotal prometheus.Counter
}

// NewWorkerMetrics registers the worker metrics with the default registry.
// Call it once per process.
func NewWorkerMetrics() *WorkerMetrics {
	return NewWorkerMetricsWith(prometheus.DefaultRegisterer)
}

// NewWorkerMetricsWith registers the worker metrics with reg.
func NewWorkerMetricsWith(reg prometheus.Registerer) *WorkerMetrics {
	f := promauto.With(reg)
	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetricsWith("worker", reg),

		JobRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_worker_job_runs_total",
			Help: "Worker job runs by job and status",
		}, []string{"job", "status"}),

		JobDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sift_worker_job_duration_seconds",
			Help:    "Duration of worker jobs in seconds",
			Buckets: []float64{0.1, 1, 5, 30, 60, 300, 900, 1800},
		}, []string{"job"}),

		JobLastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sift_worker_job_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful run per job",
		}, []string{"job"}),

		FeedsProcessedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "sift_worker_feeds_processed_total",
			Help: "Plan items executed across all crawl cycles",
		}),

		InteractionsPolledTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "sift_worker_interactions_polled_total",
			Help: "New interactions seen by the poller",
		}),
	}
}

// RecordJobRun counts one run. status is "success", "failure" or "superseded".
func (m *WorkerMetrics) RecordJobRun(job, status string) {
	m.JobRunsTotal.WithLabelValues(job, status).Inc()
}

// RecordJobDuration observes a job duration in seconds.
func (m *WorkerMetrics) RecordJobDuration(job string, seconds float64) {
	m.JobDurationSeconds.WithLabelValues(job).Observe(seconds)
}

// RecordLastSuccess stamps the current time for job.
func (m *WorkerMetrics) RecordLastSuccess(job string) {
	m.JobLastSuccess.WithLabelValues(job).SetToCurrentTime()
}

// RecordFeedsProcessed adds the plan size of one crawl cycle.
func (m *WorkerMetrics) RecordFeedsProcessed(count int) {
	if count > 0 {
		m.FeedsProcessedTotal.Add(float64(count))
	}
}

// RecordInteractionsPolled adds n newly seen interactions.
func (m *WorkerMetrics) RecordInteractionsPolled(n int) {
	if n > 0 {
		m.InteractionsPolledTotal.Add(float64(n))
	}
}
