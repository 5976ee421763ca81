// Package worker runs the long-lived side of sift: cron-driven crawl
// cycles, recompute epochs and interaction polling, plus the health probes
// an orchestrator needs.
package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dysthesis/sift/internal/pkg/config"
)

// WorkerConfig holds the process-level settings of the worker. Engine
// tunables live in internal/config and fail closed; these fail open.
//
// Environment variables:
//   - CRAWL_SCHEDULE: cron expression for crawl cycles (default "*/15 * * * *")
//   - RECOMPUTE_SCHEDULE: cron expression for recompute epochs (default "0 * * * *")
//   - INTERACTION_POLL_SCHEDULE: cron expression for interaction polling (default "* * * * *")
//   - WORKER_TIMEZONE: IANA timezone the schedules are read in (default "UTC")
//   - CRAWL_TIMEOUT: bound on one crawl cycle, 1m-4h (default 10m)
//   - RECOMPUTE_TIMEOUT: bound on one recompute epoch, 10s-1h (default 5m)
//   - WORKER_HEALTH_PORT: 1024-65535 (default 9091)
//   - METRICS_PORT: 1024-65535 (default 9090)
//   - SIFT_FEEDS_FILE: path of the feeds and tag weights YAML (default "feeds.yaml")
type WorkerConfig struct {
	CrawlSchedule           string
	RecomputeSchedule       string
	InteractionPollSchedule string
	Timezone                string

	CrawlTimeout     time.Duration
	RecomputeTimeout time.Duration

	HealthPort  int
	MetricsPort int

	FeedsFile string
}

// DefaultConfig returns a WorkerConfig with default values.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		CrawlSchedule:           "*/15 * * * *",
		RecomputeSchedule:       "0 * * * *",
		InteractionPollSchedule: "* * * * *",
		Timezone:                "UTC",
		CrawlTimeout:            10 * time.Minute,
		RecomputeTimeout:        5 * time.Minute,
		HealthPort:              9091,
		MetricsPort:             9090,
		FeedsFile:               "feeds.yaml",
	}
}

// Validate checks every field and joins all failures.
func (c *WorkerConfig) Validate() error {
	var errs []error
	for name, schedule := range map[string]string{
		"crawl schedule":            c.CrawlSchedule,
		"recompute schedule":        c.RecomputeSchedule,
		"interaction poll schedule": c.InteractionPollSchedule,
	} {
		if err := config.ValidateCronSchedule(schedule); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := config.ValidateTimezone(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if err := config.ValidateDuration(c.CrawlTimeout, time.Minute, 4*time.Hour); err != nil {
		errs = append(errs, fmt.Errorf("crawl timeout: %w", err))
	}
	if err := config.ValidateDuration(c.RecomputeTimeout, 10*time.Second, time.Hour); err != nil {
		errs = append(errs, fmt.Errorf("recompute timeout: %w", err))
	}
	if err := config.ValidateIntRange(c.HealthPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("health port: %w", err))
	}
	if err := config.ValidateIntRange(c.MetricsPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("metrics port: %w", err))
	}
	if c.HealthPort == c.MetricsPort {
		errs = append(errs, errors.New("health and metrics ports must differ"))
	}
	if c.FeedsFile == "" {
		errs = append(errs, errors.New("feeds file must be set"))
	}
	return errors.Join(errs...)
}

// LoadConfigFromEnv loads the worker configuration over the defaults.
//
// It never fails: an invalid value falls back to its default, is logged
// at WARN and counted in metrics. The error return is kept for callers
// that treat configuration loading uniformly.
func LoadConfigFromEnv(logger *slog.Logger, metrics *WorkerMetrics) (*WorkerConfig, error) {
	cfg := DefaultConfig()
	warn := func(field string, warnings []string) {
		for _, w := range warnings {
			logger.Warn("configuration fallback applied",
				slog.String("field", field),
				slog.String("warning", w))
		}
	}
	cron := func(field, key string, def string) string {
		r := config.LoadEnvWithFallback(key, def, config.ValidateCronSchedule)
		warn(field, config.Observe(metrics.ConfigMetrics, field, r))
		return r.Value
	}

	cfg.CrawlSchedule = cron("crawl_schedule", "CRAWL_SCHEDULE", cfg.CrawlSchedule)
	cfg.RecomputeSchedule = cron("recompute_schedule", "RECOMPUTE_SCHEDULE", cfg.RecomputeSchedule)
	cfg.InteractionPollSchedule = cron("interaction_poll_schedule", "INTERACTION_POLL_SCHEDULE", cfg.InteractionPollSchedule)

	tz := config.LoadEnvWithFallback("WORKER_TIMEZONE", cfg.Timezone, config.ValidateTimezone)
	warn("timezone", config.Observe(metrics.ConfigMetrics, "timezone", tz))
	cfg.Timezone = tz.Value

	crawlTimeout := config.LoadEnvDuration("CRAWL_TIMEOUT", cfg.CrawlTimeout, func(d time.Duration) error {
		return config.ValidateDuration(d, time.Minute, 4*time.Hour)
	})
	warn("crawl_timeout", config.Observe(metrics.ConfigMetrics, "crawl_timeout", crawlTimeout))
	cfg.CrawlTimeout = crawlTimeout.Value

	recomputeTimeout := config.LoadEnvDuration("RECOMPUTE_TIMEOUT", cfg.RecomputeTimeout, func(d time.Duration) error {
		return config.ValidateDuration(d, 10*time.Second, time.Hour)
	})
	warn("recompute_timeout", config.Observe(metrics.ConfigMetrics, "recompute_timeout", recomputeTimeout))
	cfg.RecomputeTimeout = recomputeTimeout.Value

	port := func(v int) error { return config.ValidateIntRange(v, 1024, 65535) }
	health := config.LoadEnvInt("WORKER_HEALTH_PORT", cfg.HealthPort, port)
	warn("health_port", config.Observe(metrics.ConfigMetrics, "health_port", health))
	cfg.HealthPort = health.Value

	metricsPort := config.LoadEnvInt("METRICS_PORT", cfg.MetricsPort, port)
	warn("metrics_port", config.Observe(metrics.ConfigMetrics, "metrics_port", metricsPort))
	cfg.MetricsPort = metricsPort.Value

	cfg.FeedsFile = config.LoadEnvString("SIFT_FEEDS_FILE", cfg.FeedsFile)

	metrics.RecordLoad(time.Now())
	return &cfg, nil
}
