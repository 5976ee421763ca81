package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/dysthesis/sift/internal/domain/entity"
	"github.com/dysthesis/sift/internal/observability/logging"
	"github.com/dysthesis/sift/internal/observability/metrics"
	"github.com/dysthesis/sift/internal/observability/tracing"
	"github.com/dysthesis/sift/internal/repository"
	"github.com/dysthesis/sift/internal/usecase/bias"
	"github.com/dysthesis/sift/internal/usecase/graph"
	"github.com/dysthesis/sift/internal/usecase/rank"
	"github.com/dysthesis/sift/internal/usecase/schedule"
)

// Config holds the engine parameters the service wires together.
type Config struct {
	Graph graph.Config
	Rank  rank.Config
	// HalfLife is the interaction decay half-life.
	HalfLife time.Duration
	// InteractionWindow limits the history read per epoch. Zero reads all of it.
	InteractionWindow time.Duration
	// CancelThreshold is the interaction batch size that cancels an
	// in-flight recompute. Zero disables cancellation.
	CancelThreshold int
}

// DefaultConfig returns a 14-day half-life and a cancel threshold of 50.
func DefaultConfig(dimension int) Config {
	g := graph.DefaultConfig()
	g.Dimension = dimension
	return Config{
		Graph:           g,
		Rank:            rank.DefaultConfig(),
		HalfLife:        14 * 24 * time.Hour,
		CancelThreshold: 50,
	}
}

// Validate checks the service's own fields; the graph and rank configs are
// validated by their constructors.
func (c Config) Validate() error {
	if c.HalfLife <= 0 {
		return &entity.ConfigurationError{Field: "half_life", Message: fmt.Sprintf("must be positive, got %s", c.HalfLife)}
	}
	if c.InteractionWindow < 0 {
		return &entity.ConfigurationError{Field: "interaction_window", Message: "must not be negative"}
	}
	if c.CancelThreshold < 0 {
		return &entity.ConfigurationError{Field: "cancel_threshold", Message: "must not be negative"}
	}
	return nil
}

// IngestReport summarises one Ingest batch.
type IngestReport struct {
	Accepted  int
	Unchanged int
	// Rejected holds one *entity.DataError per refused entry.
	Rejected []error
}

// Service owns the similarity graph, the ranking engine and the entry
// catalog, and publishes a new State per recompute epoch.
type Service struct {
	cfg    Config
	graph  *graph.Graph
	ranker *rank.Engine
	bias   *bias.Scorer
	sched  *schedule.Scheduler

	interactions repository.InteractionReader
	feeds        repository.FeedStateStore
	logger       *slog.Logger

	catalogMu sync.RWMutex
	catalog   map[int64]entity.Entry

	state atomic.Pointer[State]
	epoch atomic.Uint64
	group singleflight.Group

	runMu  sync.Mutex
	cancel context.CancelCauseFunc
}

// NewService builds the graph and ranking engine from cfg. feeds may be nil,
// in which case lifecycle changes are only returned in State.
func NewService(
	cfg Config,
	scorer *bias.Scorer,
	sched *schedule.Scheduler,
	interactions repository.InteractionReader,
	feeds repository.FeedStateStore,
	logger *slog.Logger,
) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g, err := graph.New(cfg.Graph)
	if err != nil {
		return nil, err
	}
	r, err := rank.New(cfg.Rank)
	if err != nil {
		return nil, err
	}
	if scorer == nil || sched == nil || interactions == nil {
		return nil, &entity.ConfigurationError{Field: "dependencies", Message: "scorer, scheduler and interaction reader are required"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:          cfg,
		graph:        g,
		ranker:       r,
		bias:         scorer,
		sched:        sched,
		interactions: interactions,
		feeds:        feeds,
		logger:       logger,
		catalog:      make(map[int64]entity.Entry),
	}, nil
}

// Graph exposes the similarity graph for inspection.
func (s *Service) Graph() *graph.Graph { return s.graph }

// Current returns the last published State, or nil before the first epoch.
func (s *Service) Current() *State { return s.state.Load() }

// Entry returns the catalogued entry without its embedding.
func (s *Service) Entry(id int64) (entity.Entry, bool) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	e, ok := s.catalog[id]
	return e, ok
}

// Ingest validates entries and upserts them into the graph. A malformed
// entry is rejected with a DataError and the rest of the batch continues.
// Re-ingesting an entry with an unchanged embedding is a no-op for the
// graph, though its catalog metadata is refreshed.
func (s *Service) Ingest(ctx context.Context, entries []entity.Entry) IngestReport {
	var report IngestReport
	dim := s.graph.Config().Dimension
	for i := range entries {
		e := entries[i]
		if err := e.Validate(dim); err != nil {
			report.Rejected = append(report.Rejected, err)
			if s.graph.Remove(e.ID) {
				s.forget(e.ID)
			}
			continue
		}
		changed, err := s.graph.Upsert(e.ID, e.Embedding)
		if err != nil {
			report.Rejected = append(report.Rejected, err)
			s.forget(e.ID)
			continue
		}
		if changed {
			report.Accepted++
		} else {
			report.Unchanged++
		}
		e.Embedding = nil
		s.catalogMu.Lock()
		s.catalog[e.ID] = e
		s.catalogMu.Unlock()
	}

	if n := len(report.Rejected); n > 0 {
		metrics.RecordDataErrors("ingest", n)
		logger := logging.FromContext(ctx)
		for _, err := range report.Rejected {
			if entity.IsRecoverable(err) {
				logger.Warn("entry rejected", slog.Any("error", err))
				continue
			}
			logger.Error("entry rejected", slog.Any("error", err))
		}
	}
	return report
}

// Remove drops an entry from the graph and the catalog.
func (s *Service) Remove(id int64) bool {
	removed := s.graph.Remove(id)
	s.forget(id)
	return removed
}

func (s *Service) forget(id int64) {
	s.catalogMu.Lock()
	delete(s.catalog, id)
	s.catalogMu.Unlock()
}

// InteractionsArrived notifies the service of n new interactions. A batch
// of at least CancelThreshold cancels the in-flight recompute, whose partial
// work would be stale; it reports whether a recompute was cancelled. The
// caller is expected to trigger a fresh Recompute.
func (s *Service) InteractionsArrived(n int) bool {
	if s.cfg.CancelThreshold == 0 || n < s.cfg.CancelThreshold {
		return false
	}
	s.runMu.Lock()
	cancel := s.cancel
	s.runMu.Unlock()
	if cancel == nil {
		return false
	}
	cancel(ErrSuperseded)
	return true
}

// Recompute runs one epoch and publishes its State. Concurrent callers share
// a single run.
//
// A ConsistencyViolation, a failure to read interactions or a cancellation
// aborts the epoch: the error is returned and the previously published State
// stays current. Rejected interactions and a non-converged ranking are
// logged and do not abort.
func (s *Service) Recompute(ctx context.Context, now time.Time) (*State, error) {
	v, err, _ := s.group.Do("recompute", func() (any, error) {
		return s.recompute(ctx, now)
	})
	if err != nil {
		return nil, err
	}
	return v.(*State), nil
}

func (s *Service) recompute(ctx context.Context, now time.Time) (st *State, err error) {
	epoch := s.epoch.Add(1)
	runID := logging.NewRunID()
	logger := logging.WithEpoch(s.logger, epoch, runID)
	ctx = logging.WithLogger(ctx, logger)
	ctx, span := tracing.StartSpan(ctx, "scoring.recompute",
		attribute.Int64("epoch", int64(epoch)),
		attribute.String("run_id", runID),
	)

	runCtx, cancel := context.WithCancelCause(ctx)
	s.runMu.Lock()
	s.cancel = cancel
	s.runMu.Unlock()

	start := time.Now()
	defer func() {
		s.runMu.Lock()
		s.cancel = nil
		s.runMu.Unlock()
		cancel(nil)

		status := "published"
		switch {
		case err == nil:
		case errors.Is(err, entity.ErrConsistency):
			status = "aborted"
		case runCtx.Err() != nil:
			status = "cancelled"
		default:
			status = "failed"
		}
		metrics.RecordRecompute(status, time.Since(start))
		tracing.EndSpan(span, err)
	}()

	abandoned := func() error {
		if runCtx.Err() == nil {
			return nil
		}
		cause := context.Cause(runCtx)
		logger.Info("recompute cancelled", slog.Any("cause", cause))
		return fmt.Errorf("recompute epoch %d: %w", epoch, cause)
	}
	if err := abandoned(); err != nil {
		return nil, err
	}

	snap, err := s.graph.Snapshot()
	if err != nil {
		logger.Error("graph snapshot failed, keeping previous state", slog.Any("error", err))
		return nil, fmt.Errorf("recompute epoch %d: %w", epoch, err)
	}

	var since time.Time
	if s.cfg.InteractionWindow > 0 {
		since = now.Add(-s.cfg.InteractionWindow)
	}
	events, err := s.interactions.ListInteractions(runCtx, since)
	if err != nil {
		if cerr := abandoned(); cerr != nil {
			return nil, cerr
		}
		logger.Error("failed to read interactions", slog.Any("error", err))
		return nil, fmt.Errorf("recompute epoch %d: list interactions: %w", epoch, err)
	}
	valid := events[:0:0]
	rejected := 0
	for _, ev := range events {
		if verr := ev.Validate(); verr != nil {
			rejected++
			logger.Warn("interaction rejected", slog.Any("error", verr))
			continue
		}
		valid = append(valid, ev)
	}
	metrics.RecordDataErrors("interactions", rejected)

	seeds := rank.Seeds(valid, now, s.cfg.HalfLife)
	res, err := s.ranker.Rank(runCtx, snap, seeds)
	var warn *entity.ConvergenceWarning
	switch {
	case errors.As(err, &warn):
		logger.Warn("ranking did not converge, publishing approximate scores",
			slog.Int("iterations", warn.Iterations),
			slog.Float64("residual", warn.Residual))
	case err != nil:
		if cerr := abandoned(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("recompute epoch %d: %w", epoch, err)
	}
	if len(res.Unknown) > 0 {
		logger.Warn("interactions reference entries outside the graph", slog.Int("count", len(res.Unknown)))
	}

	entries := make([]entity.Entry, 0, snap.Len())
	s.catalogMu.RLock()
	for _, id := range snap.IDs {
		if e, ok := s.catalog[id]; ok {
			entries = append(entries, e)
		}
	}
	s.catalogMu.RUnlock()

	scores := s.bias.Apply(bias.Input{Entries: entries, Affinity: res.Scores, Seeds: res.Seeds})
	byFeed := make(map[int64][]float64)
	feedOf := make(map[int64]int64, len(entries))
	for _, e := range entries {
		byFeed[e.FeedID] = append(byFeed[e.FeedID], scores[e.ID])
		feedOf[e.ID] = e.FeedID
	}
	feedScores := make(map[int64]float64, len(byFeed))
	for id, xs := range byFeed {
		feedScores[id] = s.bias.FeedScore(xs)
	}

	if !finite(scores) || !finite(feedScores) {
		metrics.RecordConsistencyViolation("finite_scores")
		cv := &entity.ConsistencyViolation{Check: "finite_scores", Detail: "non-finite score after tag bias"}
		logger.Error("scores are not finite, keeping previous state", slog.Any("error", cv))
		s.ranker.Reset()
		return nil, fmt.Errorf("recompute epoch %d: %w", epoch, cv)
	}

	// Publication point: nothing below may be skipped once the scheduler
	// has seen this epoch.
	if err := abandoned(); err != nil {
		return nil, err
	}

	var transitions []entity.FeedTransition
	for _, f := range s.sched.Feeds() {
		score, ok := feedScores[f.ID]
		if !ok && f.State != entity.FeedEphemeral {
			continue
		}
		transitions = append(transitions, s.sched.OnScoreUpdate(epoch, schedule.ScoreUpdate{
			Target:  entity.FeedTarget{FeedID: f.ID},
			Score:   score,
			Entries: len(byFeed[f.ID]),
		}, now)...)
	}
	for id, score := range scores {
		s.sched.OnScoreUpdate(epoch, schedule.ScoreUpdate{Target: entity.EntryTarget{EntryID: id}, Score: score}, now)
	}

	st = &State{
		Epoch:        epoch,
		RunID:        runID,
		GraphVersion: snap.Version,
		ComputedAt:   now,
		Approximate:  res.Approximate,
		Affinity:     maps.Clone(res.Scores),
		Scores:       scores,
		FeedScores:   feedScores,
		Transitions:  transitions,
		feedOf:       feedOf,
	}
	s.state.Store(st)

	edges := 0
	for i := 0; i < snap.Len(); i++ {
		edges += snap.Degree(i)
	}
	metrics.UpdateGraphSize(snap.Len(), edges/2)
	metrics.UpdateFeedsByState(s.sched.StateCounts())
	span.SetAttributes(
		attribute.Int("entries", len(scores)),
		attribute.Int("transitions", len(transitions)),
		attribute.Bool("approximate", res.Approximate),
	)
	logger.Info("recompute published",
		slog.Int("entries", len(scores)),
		slog.Int("feeds", len(feedScores)),
		slog.Int("transitions", len(transitions)),
		slog.Int("iterations", res.Iterations),
		slog.Bool("approximate", res.Approximate),
		slog.Duration("duration", time.Since(start)))

	s.persist(ctx, logger, transitions)
	return st, nil
}

// persist logs and stores transitions after publication, then saves the
// feed's new state so a restart does not resume fetching a pruned feed.
// Store failures are logged; the scheduler already holds the authoritative
// state.
func (s *Service) persist(ctx context.Context, logger *slog.Logger, transitions []entity.FeedTransition) {
	for _, t := range transitions {
		logger.Info("feed transition",
			slog.Int64("feed_id", t.FeedID),
			slog.String("from", t.From.String()),
			slog.String("to", t.To.String()),
			slog.Float64("score", t.Score),
			slog.Float64("threshold", t.Threshold))
		if s.feeds == nil {
			continue
		}
		if err := s.feeds.RecordTransition(ctx, t); err != nil {
			logger.Error("failed to persist feed transition",
				slog.Int64("feed_id", t.FeedID),
				slog.Any("error", err))
		}
		f, ok := s.sched.Feed(t.FeedID)
		if !ok {
			continue
		}
		if err := s.feeds.Upsert(ctx, &f); err != nil {
			logger.Error("failed to persist feed state",
				slog.Int64("feed_id", t.FeedID),
				slog.String("state", f.State.String()),
				slog.Any("error", err))
		}
	}
}

// finite reports whether every score is a finite number.
func finite(scores map[int64]float64) bool {
	for _, v := range scores {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
