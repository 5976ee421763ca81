package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dysthesis/sift/internal/domain/entity"
	"github.com/dysthesis/sift/internal/observability/logging"
	"github.com/dysthesis/sift/internal/observability/metrics"
	"github.com/dysthesis/sift/internal/repository"
	"github.com/dysthesis/sift/internal/usecase/schedule"
)

// Config controls how a crawl cycle executes the plan.
type Config struct {
	// Parallelism bounds concurrent fetches.
	Parallelism int
	// PlanLimit caps the items taken from the plan per cycle; 0 takes all.
	PlanLimit int
	// ContentThreshold is the feed content length below which the entry
	// page is fetched before the entry is embedded.
	ContentThreshold int
	// RatePerSecond and Burst shape outgoing requests across all hosts.
	RatePerSecond float64
	Burst         int
}

func DefaultConfig() Config {
	return Config{
		Parallelism:      8,
		PlanLimit:        200,
		ContentThreshold: 500,
		RatePerSecond:    5,
		Burst:            5,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Parallelism < 1 || c.Parallelism > 64:
		return &entity.ConfigurationError{Field: "parallelism", Message: fmt.Sprintf("must be between 1 and 64, got %d", c.Parallelism)}
	case c.PlanLimit < 0:
		return &entity.ConfigurationError{Field: "plan_limit", Message: "must not be negative"}
	case c.ContentThreshold < 0:
		return &entity.ConfigurationError{Field: "content_threshold", Message: "must not be negative"}
	case !(c.RatePerSecond > 0):
		return &entity.ConfigurationError{Field: "rate_per_second", Message: "must be positive"}
	case c.Burst < 1:
		return &entity.ConfigurationError{Field: "burst", Message: "must be at least 1"}
	}
	return nil
}

// CrawlStats summarises one cycle.
type CrawlStats struct {
	Planned     int
	FeedItems   int64
	Inserted    int64
	Duplicated  int64
	Ingested    int64
	Rejected    int64
	Queued      int64
	Pages       int64
	Discovered  int64
	FetchErrors int64
	Duration    time.Duration
}

// Service runs crawl cycles.
type Service struct {
	cfg      Config
	sched    *schedule.Scheduler
	engine   Engine
	entries  repository.EntryRepository
	feeds    repository.FeedRepository
	fetcher  FeedFetcher
	pages    PageFetcher
	embedder Embedder
	limiter  *rate.Limiter
}

// NewService wires a crawl service. pages may be nil, in which case every
// entry is embedded from its feed content, including entries queued
// before page fetching was turned off.
func NewService(
	cfg Config,
	sched *schedule.Scheduler,
	engine Engine,
	entries repository.EntryRepository,
	feeds repository.FeedRepository,
	fetcher FeedFetcher,
	pages PageFetcher,
	embedder Embedder,
) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		cfg:      cfg,
		sched:    sched,
		engine:   engine,
		entries:  entries,
		feeds:    feeds,
		fetcher:  fetcher,
		pages:    pages,
		embedder: embedder,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}, nil
}

// Run executes the items due at now. Individual fetch failures are
// reported to the scheduler and do not fail the cycle; storage errors and
// cancellation do.
func (s *Service) Run(ctx context.Context, now time.Time) (*CrawlStats, error) {
	logger := logging.FromContext(ctx)
	start := time.Now()

	plan := s.sched.Plan(now, s.cfg.PlanLimit)
	stats := &CrawlStats{Planned: len(plan)}
	if len(plan) == 0 {
		return stats, nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.Parallelism)
	for _, item := range plan {
		eg.Go(func() error {
			if err := s.limiter.Wait(egCtx); err != nil {
				return err
			}
			switch t := item.(type) {
			case entity.FeedTarget:
				return s.fetchFeed(egCtx, t, now, stats)
			case entity.EntryTarget:
				return s.fetchEntry(egCtx, t, now, stats)
			}
			return nil
		})
	}
	err := eg.Wait()

	stats.Duration = time.Since(start)
	logger.Info("crawl cycle completed",
		slog.Int("planned", stats.Planned),
		slog.Int64("feed_items", stats.FeedItems),
		slog.Int64("inserted", stats.Inserted),
		slog.Int64("duplicated", stats.Duplicated),
		slog.Int64("ingested", stats.Ingested),
		slog.Int64("queued", stats.Queued),
		slog.Int64("pages", stats.Pages),
		slog.Int64("discovered", stats.Discovered),
		slog.Int64("fetch_errors", stats.FetchErrors),
		slog.Duration("duration", stats.Duration),
	)
	if err != nil {
		return stats, fmt.Errorf("crawl: %w", err)
	}
	return stats, nil
}

func (s *Service) fetchFeed(ctx context.Context, t entity.FeedTarget, now time.Time, stats *CrawlStats) error {
	logger := logging.FromContext(ctx).With(slog.Int64("feed_id", t.FeedID))

	start := time.Now()
	items, err := s.fetcher.Fetch(ctx, t.URL)
	metrics.RecordFeedFetch(time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		atomic.AddInt64(&stats.FetchErrors, 1)
		logger.Warn("failed to fetch feed", slog.String("url", t.URL), slog.Any("error", err))
		s.report(ctx, t, false, 0, now)
		return nil
	}

	inserted, err := s.storeItems(ctx, t.FeedID, items, now, stats)
	if err != nil {
		return fmt.Errorf("feed %d: %w", t.FeedID, err)
	}
	s.report(ctx, t, true, float64(inserted), now)
	return nil
}

// storeItems creates entries for items not seen before and returns how
// many were created. Entries created before a storage error are still
// handed to the engine.
func (s *Service) storeItems(ctx context.Context, feedID int64, items []FeedItem, now time.Time, stats *CrawlStats) (int, error) {
	atomic.AddInt64(&stats.FeedItems, int64(len(items)))
	if len(items) == 0 {
		return 0, nil
	}

	urls := make([]string, 0, len(items))
	for _, it := range items {
		urls = append(urls, it.URL)
	}
	exists, err := s.entries.ExistsByURLBatch(ctx, urls)
	if err != nil {
		return 0, fmt.Errorf("check existing entries: %w", err)
	}

	var feedTags []string
	if f, ok := s.sched.Feed(feedID); ok {
		feedTags = f.Tags
	}

	seen := make(map[string]bool, len(items))
	batch := make([]entity.Entry, 0, len(items))
	defer func() { s.ingest(ctx, batch, stats) }()
	inserted := 0
	for _, it := range items {
		if err := entity.ValidateEntryURL(it.URL); err != nil {
			atomic.AddInt64(&stats.Rejected, 1)
			metrics.RecordDataErrors("crawl", 1)
			logging.FromContext(ctx).Debug("skipping feed item",
				slog.Int64("feed_id", feedID), slog.String("url", it.URL), slog.Any("error", err))
			continue
		}
		if exists[it.URL] || seen[it.URL] {
			atomic.AddInt64(&stats.Duplicated, 1)
			continue
		}
		seen[it.URL] = true

		e := entity.Entry{
			FeedID:      feedID,
			URL:         it.URL,
			Title:       it.Title,
			Content:     it.Content,
			Tags:        entity.NormalizeTags(append(append([]string(nil), feedTags...), it.Categories...)),
			PublishedAt: it.PublishedAt,
			FetchedAt:   now,
		}
		if e.PublishedAt.IsZero() {
			e.PublishedAt = now
		}
		thin := s.pages != nil && len(it.Content) < s.cfg.ContentThreshold
		if !thin {
			e.Embedding = s.embedder.Embed(document(e.Title, e.Content))
		}
		if err := s.entries.Create(ctx, &e); err != nil {
			return inserted, fmt.Errorf("create entry: %w", err)
		}
		inserted++
		atomic.AddInt64(&stats.Inserted, 1)

		if thin {
			if s.sched.EnqueueEntry(entity.EntryTarget{EntryID: e.ID, FeedID: feedID, URL: e.URL}, now) {
				atomic.AddInt64(&stats.Queued, 1)
			}
			continue
		}
		batch = append(batch, e)
	}
	return inserted, nil
}

func (s *Service) fetchEntry(ctx context.Context, t entity.EntryTarget, now time.Time, stats *CrawlStats) error {
	logger := logging.FromContext(ctx).With(slog.Int64("entry_id", t.EntryID))

	e, err := s.entries.Get(ctx, t.EntryID)
	if errors.Is(err, entity.ErrNotFound) {
		// Deleted since it was queued; retire it.
		s.report(ctx, t, true, 0, now)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load entry %d: %w", t.EntryID, err)
	}

	text := e.Content
	var links []string
	if s.pages != nil {
		page, err := s.pages.FetchPage(ctx, t.URL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			atomic.AddInt64(&stats.FetchErrors, 1)
			logger.Warn("failed to fetch entry page", slog.String("url", t.URL), slog.Any("error", err))
			s.report(ctx, t, false, 0, now)
			if s.sched.EntryQueued(t.EntryID) {
				return nil
			}
			// Out of attempts: score the entry from its feed content.
			logger.Info("entry page unavailable, embedding feed content", slog.Int("attempts", t.Attempts+1))
			return s.embed(ctx, e, text, stats)
		}
		atomic.AddInt64(&stats.Pages, 1)
		if len(page.Text) > len(text) {
			text = page.Text
		}
		links = page.FeedLinks
	}

	if err := s.embed(ctx, e, text, stats); err != nil {
		return err
	}
	if err := s.discover(ctx, e, links, now, stats); err != nil {
		return err
	}
	s.report(ctx, t, true, 0, now)
	return nil
}

// embed stores the entry's embedding of text and hands it to the engine.
func (s *Service) embed(ctx context.Context, e *entity.Entry, text string, stats *CrawlStats) error {
	e.Embedding = s.embedder.Embed(document(e.Title, text))
	if err := s.entries.SaveEmbedding(ctx, e.ID, e.Embedding); err != nil {
		return fmt.Errorf("save embedding for entry %d: %w", e.ID, err)
	}
	s.ingest(ctx, []entity.Entry{*e}, stats)
	return nil
}

// discover registers feeds advertised by an entry page as ephemeral
// feeds tagged like the entry.
func (s *Service) discover(ctx context.Context, from *entity.Entry, links []string, now time.Time, stats *CrawlStats) error {
	logger := logging.FromContext(ctx)
	for _, link := range links {
		if err := entity.ValidateURL(link); err != nil {
			logger.Debug("skipping discovered feed", slog.String("url", link), slog.Any("error", err))
			continue
		}
		f, created, err := s.sched.Discover(link, from.Tags, from.ID, now)
		if err != nil || !created {
			continue
		}
		if err := s.feeds.Upsert(ctx, &f); err != nil {
			return fmt.Errorf("persist discovered feed %q: %w", link, err)
		}
		atomic.AddInt64(&stats.Discovered, 1)
		metrics.RecordDiscovered(1)
		logger.Info("feed discovered",
			slog.Int64("feed_id", f.ID),
			slog.String("url", f.URL),
			slog.Int64("from_entry", from.ID))
	}
	return nil
}

func (s *Service) ingest(ctx context.Context, batch []entity.Entry, stats *CrawlStats) {
	if len(batch) == 0 {
		return
	}
	report := s.engine.Ingest(ctx, batch)
	metrics.RecordIngested(report.Accepted)
	atomic.AddInt64(&stats.Ingested, int64(report.Accepted+report.Unchanged))
	atomic.AddInt64(&stats.Rejected, int64(len(report.Rejected)))
}

// report records an outcome and persists the feed's adaptive state.
// Scheduler and persistence errors here are logged: the fetch itself
// already happened and the next cycle re-reads the state.
func (s *Service) report(ctx context.Context, item entity.FetchableItem, success bool, change float64, now time.Time) {
	logger := logging.FromContext(ctx)
	if err := s.sched.RecordOutcome(item, success, change, now); err != nil {
		logger.Warn("failed to record fetch outcome", slog.String("item", item.Key()), slog.Any("error", err))
		return
	}
	t, ok := item.(entity.FeedTarget)
	if !ok {
		return
	}
	f, ok := s.sched.Feed(t.FeedID)
	if !ok {
		return
	}
	if err := s.feeds.Upsert(context.WithoutCancel(ctx), &f); err != nil {
		logger.Warn("failed to persist feed state", slog.Int64("feed_id", f.ID), slog.Any("error", err))
	}
}

func document(title, body string) string {
	if title == "" {
		return body
	}
	return title + "\n" + body
}
