package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dysthesis/sift/internal/observability/logging"
	"github.com/dysthesis/sift/internal/repository"
	"github.com/dysthesis/sift/internal/usecase/fetch"
	"github.com/dysthesis/sift/internal/usecase/scoring"
)

// maxSupersededRestarts bounds how often one recompute job restarts after
// being cancelled by an interaction burst.
const maxSupersededRestarts = 3

// Crawler executes one crawl cycle. *fetch.Service implements it.
type Crawler interface {
	Run(ctx context.Context, now time.Time) (*fetch.CrawlStats, error)
}

// Engine runs recompute epochs. *scoring.Service implements it.
type Engine interface {
	Recompute(ctx context.Context, now time.Time) (*scoring.State, error)
	InteractionsArrived(n int) bool
}

// Runner drives the worker jobs from cron schedules.
type Runner struct {
	cfg          *WorkerConfig
	crawler      Crawler
	engine       Engine
	interactions repository.InteractionReader
	metrics      *WorkerMetrics
	logger       *slog.Logger
	now          func() time.Time

	mu        sync.Mutex
	watermark time.Time
}

// NewRunner wires the jobs. Interactions at or before the construction time
// are assumed to be covered by the first recompute.
func NewRunner(
	cfg *WorkerConfig,
	crawler Crawler,
	engine Engine,
	interactions repository.InteractionReader,
	metrics *WorkerMetrics,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		cfg:          cfg,
		crawler:      crawler,
		engine:       engine,
		interactions: interactions,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
	}
	r.watermark = r.now()
	return r
}

// Run registers the jobs and blocks until ctx is cancelled. Running jobs
// are waited for before it returns.
func (r *Runner) Run(ctx context.Context, onStart func()) error {
	loc, err := time.LoadLocation(r.cfg.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", r.cfg.Timezone, err)
	}
	cl := cronLogger{r.logger}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context)
	}{
		{JobCrawl, r.cfg.CrawlSchedule, r.RunCrawl},
		{JobRecompute, r.cfg.RecomputeSchedule, r.RunRecompute},
		{JobPoll, r.cfg.InteractionPollSchedule, r.PollInteractions},
	}
	for _, job := range jobs {
		run := job.run
		if _, err := c.AddFunc(job.schedule, func() { run(ctx) }); err != nil {
			return fmt.Errorf("schedule %s job: %w", job.name, err)
		}
	}

	c.Start()
	r.logger.Info("worker started",
		slog.String("crawl_schedule", r.cfg.CrawlSchedule),
		slog.String("recompute_schedule", r.cfg.RecomputeSchedule),
		slog.String("poll_schedule", r.cfg.InteractionPollSchedule),
		slog.String("timezone", loc.String()))
	if onStart != nil {
		onStart()
	}

	<-ctx.Done()
	r.logger.Info("worker stopping, waiting for running jobs")
	<-c.Stop().Done()
	return nil
}

// RunCrawl executes one crawl cycle bounded by CrawlTimeout.
func (r *Runner) RunCrawl(ctx context.Context) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CrawlTimeout)
	defer cancel()
	ctx = logging.WithLogger(ctx, r.logger.With(slog.String("job", JobCrawl)))

	stats, err := r.crawler.Run(ctx, r.now())
	r.metrics.RecordJobDuration(JobCrawl, time.Since(start).Seconds())
	if err != nil {
		r.metrics.RecordJobRun(JobCrawl, "failure")
		r.logger.Error("crawl failed", slog.Any("error", err))
		return
	}
	r.metrics.RecordJobRun(JobCrawl, "success")
	r.metrics.RecordLastSuccess(JobCrawl)
	r.metrics.RecordFeedsProcessed(stats.Planned)
	r.logger.Info("crawl completed",
		slog.Int("planned", stats.Planned),
		slog.Int64("feed_items", stats.FeedItems),
		slog.Int64("inserted", stats.Inserted),
		slog.Int64("duplicated", stats.Duplicated),
		slog.Int64("ingested", stats.Ingested),
		slog.Int64("rejected", stats.Rejected),
		slog.Int64("pages", stats.Pages),
		slog.Int64("discovered", stats.Discovered),
		slog.Int64("fetch_errors", stats.FetchErrors),
		slog.Duration("duration", stats.Duration))
}

// RunRecompute runs one epoch bounded by RecomputeTimeout. An epoch
// superseded by new interactions is restarted immediately.
func (r *Runner) RunRecompute(ctx context.Context) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RecomputeTimeout)
	defer cancel()

	var (
		st  *scoring.State
		err error
	)
	for attempt := 0; ; attempt++ {
		st, err = r.engine.Recompute(ctx, r.now())
		if !errors.Is(err, scoring.ErrSuperseded) || attempt == maxSupersededRestarts {
			break
		}
		r.metrics.RecordJobRun(JobRecompute, "superseded")
		r.logger.Info("recompute superseded, restarting", slog.Int("attempt", attempt+1))
	}
	r.metrics.RecordJobDuration(JobRecompute, time.Since(start).Seconds())
	if err != nil {
		r.metrics.RecordJobRun(JobRecompute, "failure")
		r.logger.Error("recompute failed", slog.Any("error", err))
		return
	}
	r.metrics.RecordJobRun(JobRecompute, "success")
	r.metrics.RecordLastSuccess(JobRecompute)
	r.logger.Info("recompute published",
		slog.Uint64("epoch", st.Epoch),
		slog.Bool("approximate", st.Approximate),
		slog.Int("scored", len(st.Scores)),
		slog.Int("transitions", len(st.Transitions)))
}

// PollInteractions counts interactions recorded since the previous poll
// and tells the engine about them.
func (r *Runner) PollInteractions(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	events, err := r.interactions.ListInteractions(ctx, r.watermark)
	r.metrics.RecordJobDuration(JobPoll, time.Since(start).Seconds())
	if err != nil {
		r.metrics.RecordJobRun(JobPoll, "failure")
		r.logger.Error("interaction poll failed", slog.Any("error", err))
		return
	}

	// ListInteractions is inclusive of since, so events stamped exactly at
	// the watermark were already counted by the previous poll.
	n := 0
	latest := r.watermark
	for _, ev := range events {
		if !ev.At.After(r.watermark) {
			continue
		}
		n++
		if ev.At.After(latest) {
			latest = ev.At
		}
	}
	r.watermark = latest
	r.metrics.RecordJobRun(JobPoll, "success")
	r.metrics.RecordInteractionsPolled(n)
	if n == 0 {
		return
	}
	cancelled := r.engine.InteractionsArrived(n)
	r.logger.Debug("interactions arrived",
		slog.Int("count", n),
		slog.Bool("cancelled_recompute", cancelled))
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ logger *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.Any("error", err))...)
}
