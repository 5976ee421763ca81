package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appconfig "github.com/dysthesis/sift/internal/config"
	"github.com/dysthesis/sift/internal/domain/entity"
	"github.com/dysthesis/sift/internal/handler/http/respond"
	pgRepo "github.com/dysthesis/sift/internal/infra/adapter/persistence/postgres"
	"github.com/dysthesis/sift/internal/infra/db"
	"github.com/dysthesis/sift/internal/infra/embedder"
	"github.com/dysthesis/sift/internal/infra/fetcher"
	workerPkg "github.com/dysthesis/sift/internal/infra/worker"
	"github.com/dysthesis/sift/internal/observability/logging"
	"github.com/dysthesis/sift/internal/observability/metrics"
	pkgconfig "github.com/dysthesis/sift/internal/pkg/config"
	"github.com/dysthesis/sift/internal/repository"
	"github.com/dysthesis/sift/internal/usecase/bias"
	fetchUC "github.com/dysthesis/sift/internal/usecase/fetch"
	"github.com/dysthesis/sift/internal/usecase/schedule"
	"github.com/dysthesis/sift/internal/usecase/scoring"
)

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("worker exited", slog.String("error", respond.SanitizeError(err)))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	workerMetrics := workerPkg.NewWorkerMetrics()
	workerConfig, err := workerPkg.LoadConfigFromEnv(logger, workerMetrics)
	if err != nil {
		return fmt.Errorf("load worker configuration: %w", err)
	}
	if err := workerConfig.Validate(); err != nil {
		return fmt.Errorf("invalid worker configuration: %w", err)
	}
	logger.Info("worker configuration loaded",
		slog.String("crawl_schedule", workerConfig.CrawlSchedule),
		slog.String("recompute_schedule", workerConfig.RecomputeSchedule),
		slog.String("poll_schedule", workerConfig.InteractionPollSchedule),
		slog.String("timezone", workerConfig.Timezone),
		slog.Duration("crawl_timeout", workerConfig.CrawlTimeout),
		slog.Duration("recompute_timeout", workerConfig.RecomputeTimeout),
		slog.Int("health_port", workerConfig.HealthPort),
		slog.Int("metrics_port", workerConfig.MetricsPort),
		slog.String("feeds_file", workerConfig.FeedsFile))

	engineConfig, err := appconfig.LoadEngineConfig()
	if err != nil {
		return err
	}
	feedsFile, err := appconfig.LoadFeeds(workerConfig.FeedsFile)
	if err != nil {
		return err
	}

	database, err := initDatabase(ctx, logger, engineConfig.Scoring.Graph.Dimension)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	entries := pgRepo.NewEntryRepo(database)
	feeds := pgRepo.NewFeedRepo(database)
	interactions := pgRepo.NewInteractionRepo(database)

	sched, err := schedule.New(engineConfig.Schedule)
	if err != nil {
		return err
	}
	scorer, err := bias.New(feedsFile.TagWeights, engineConfig.BiasOptions()...)
	if err != nil {
		return err
	}
	engine, err := scoring.NewService(engineConfig.Scoring, scorer, sched, interactions, feeds, logger)
	if err != nil {
		return err
	}
	emb, err := embedder.New(engineConfig.Scoring.Graph.Dimension)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := restoreFeeds(ctx, logger, sched, feeds, feedsFile.Entities(), now); err != nil {
		return err
	}
	if err := restoreEntries(ctx, logger, engine, sched, emb, entries, now); err != nil {
		return err
	}

	rssFetcher, pageFetcher, crawlConfig := setupFetchers(logger, workerMetrics)
	var pages fetchUC.PageFetcher
	if pageFetcher != nil {
		pages = pageFetcher
	}
	crawler, err := fetchUC.NewService(crawlConfig, sched, engine, entries, feeds, rssFetcher, pages, emb)
	if err != nil {
		return err
	}

	breakers := []breakerSource{rssFetcher}
	if pageFetcher != nil {
		breakers = append(breakers, pageFetcher)
	}
	startMetricsServer(ctx, logger, workerConfig.MetricsPort, engine, sched, breakers)

	healthServer := workerPkg.NewHealthServer(fmt.Sprintf(":%d", workerConfig.HealthPort), logger)
	healthServer.AddCheck("database", func(ctx context.Context) error { return database.PingContext(ctx) })
	healthServer.AddCheck("engine", func(context.Context) error {
		if engine.Current() == nil {
			return errors.New("no ranking published yet")
		}
		return nil
	})
	go func() {
		if err := healthServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()

	runner := workerPkg.NewRunner(workerConfig, crawler, engine, interactions, workerMetrics, logger)

	// The first epoch runs before the schedule starts so readiness does
	// not wait for the first cron tick.
	runner.RunRecompute(ctx)

	return runner.Run(ctx, func() {
		healthServer.SetReady(true)
	})
}

// initDatabase opens the pool and applies the schema for the configured
// embedding dimension.
func initDatabase(ctx context.Context, logger *slog.Logger, dim int) (*sql.DB, error) {
	poolConfig, warnings := db.ConnectionConfigFromEnv()
	for _, w := range warnings {
		logger.Warn("database pool configuration fallback applied", slog.String("warning", w))
	}
	database, err := db.Open(ctx, os.Getenv("DATABASE_URL"), poolConfig)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(ctx, database, dim); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return database, nil
}

// restoreFeeds loads persisted feeds with their ids and adaptive state,
// then adds configured feeds that are not tracked yet.
func restoreFeeds(ctx context.Context, logger *slog.Logger, sched *schedule.Scheduler, repo repository.FeedRepository, configured []entity.Feed, now time.Time) error {
	stored, err := repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list feeds: %w", err)
	}
	for _, f := range stored {
		if _, err := sched.AddFeed(f, now); err != nil {
			logger.Warn("skipping stored feed", slog.Int64("feed_id", f.ID), slog.Any("error", err))
		}
	}

	added := 0
	for _, f := range configured {
		id, err := sched.AddFeed(f, now)
		if errors.Is(err, entity.ErrInvalidData) {
			continue
		}
		if err != nil {
			return fmt.Errorf("add configured feed %q: %w", f.URL, err)
		}
		f.ID = id
		if err := repo.Upsert(ctx, &f); err != nil {
			return fmt.Errorf("persist configured feed %q: %w", f.URL, err)
		}
		added++
	}
	metrics.UpdateFeedsByState(sched.StateCounts())
	logger.Info("feeds restored", slog.Int("stored", len(stored)), slog.Int("added", added))
	return nil
}

// restoreEntries rebuilds the engine's graph and the embedder's corpus from
// stored entries and re-queues entries still waiting for their page.
func restoreEntries(
	ctx context.Context,
	logger *slog.Logger,
	engine *scoring.Service,
	sched *schedule.Scheduler,
	emb *embedder.TFIDF,
	repo repository.EntryRepository,
	now time.Time,
) error {
	embedded, err := repo.ListEmbedded(ctx)
	if err != nil {
		return fmt.Errorf("list embedded entries: %w", err)
	}
	for _, e := range embedded {
		emb.Observe(e.Title + "\n" + e.Content)
	}
	report := engine.Ingest(ctx, embedded)

	pending, err := repo.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending entries: %w", err)
	}
	queued := 0
	for _, e := range pending {
		if sched.EnqueueEntry(entity.EntryTarget{EntryID: e.ID, FeedID: e.FeedID, URL: e.URL}, now) {
			queued++
		}
	}
	logger.Info("entries restored",
		slog.Int("accepted", report.Accepted),
		slog.Int("rejected", len(report.Rejected)),
		slog.Int("queued", queued))
	return nil
}

// setupFetchers builds the feed and page fetchers and the crawl settings.
// The page fetcher is nil when PAGE_FETCH_ENABLED is false.
func setupFetchers(logger *slog.Logger, m *workerPkg.WorkerMetrics) (*fetcher.RSSFetcher, *fetcher.PageFetcher, fetchUC.Config) {
	httpConfig, warnings := fetcher.LoadConfigFromEnv()
	for _, w := range warnings {
		logger.Warn("fetch configuration fallback applied", slog.String("warning", w))
	}
	if err := httpConfig.Validate(); err != nil {
		logger.Warn("invalid fetch configuration, using defaults", slog.Any("error", err))
		httpConfig = fetcher.DefaultConfig()
	}

	crawlConfig := loadCrawlConfig(logger, m)
	rss := fetcher.NewRSSFetcher(httpConfig)

	enabled := pkgconfig.LoadEnvBool("PAGE_FETCH_ENABLED", true)
	for _, w := range pkgconfig.Observe(m.ConfigMetrics, "page_fetch_enabled", enabled) {
		logger.Warn("configuration fallback applied", slog.String("field", "page_fetch_enabled"), slog.String("warning", w))
	}
	if !enabled.Value {
		logger.Info("page fetching disabled, entries are embedded from feed content")
		return rss, nil, crawlConfig
	}
	logger.Info("page fetching enabled",
		slog.Int("content_threshold", crawlConfig.ContentThreshold),
		slog.Duration("timeout", httpConfig.Timeout))
	return rss, fetcher.NewPageFetcher(httpConfig), crawlConfig
}

// loadCrawlConfig reads CRAWL_* variables over fetch.DefaultConfig.
func loadCrawlConfig(logger *slog.Logger, m *workerPkg.WorkerMetrics) fetchUC.Config {
	cfg := fetchUC.DefaultConfig()
	warn := func(field string, warnings []string) {
		for _, w := range warnings {
			logger.Warn("configuration fallback applied", slog.String("field", field), slog.String("warning", w))
		}
	}

	parallelism := pkgconfig.LoadEnvInt("CRAWL_PARALLELISM", cfg.Parallelism, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1, 64)
	})
	warn("crawl_parallelism", pkgconfig.Observe(m.ConfigMetrics, "crawl_parallelism", parallelism))
	cfg.Parallelism = parallelism.Value

	limit := pkgconfig.LoadEnvInt("CRAWL_PLAN_LIMIT", cfg.PlanLimit, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 0, 100000)
	})
	warn("crawl_plan_limit", pkgconfig.Observe(m.ConfigMetrics, "crawl_plan_limit", limit))
	cfg.PlanLimit = limit.Value

	threshold := pkgconfig.LoadEnvInt("CRAWL_CONTENT_THRESHOLD", cfg.ContentThreshold, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 0, 1000000)
	})
	warn("crawl_content_threshold", pkgconfig.Observe(m.ConfigMetrics, "crawl_content_threshold", threshold))
	cfg.ContentThreshold = threshold.Value

	ratePerSecond := pkgconfig.LoadEnvFloat("CRAWL_RATE_PER_SECOND", cfg.RatePerSecond, func(v float64) error {
		return pkgconfig.ValidateFloatRange(v, 0.01, 1000)
	})
	warn("crawl_rate_per_second", pkgconfig.Observe(m.ConfigMetrics, "crawl_rate_per_second", ratePerSecond))
	cfg.RatePerSecond = ratePerSecond.Value

	burst := pkgconfig.LoadEnvInt("CRAWL_BURST", cfg.Burst, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1, 1000)
	})
	warn("crawl_burst", pkgconfig.Observe(m.ConfigMetrics, "crawl_burst", burst))
	cfg.Burst = burst.Value

	return cfg
}
