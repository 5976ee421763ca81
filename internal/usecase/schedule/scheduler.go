// Package schedule decides what to fetch next and manages the feed
// lifecycle (active, ephemeral, pruned) from recompute-epoch scores.
//
// The scheduler performs no I/O. Fetching happens outside; the fetcher
// reports back through RecordOutcome, and the scoring service pushes feed
// and entry scores through OnScoreUpdate once per epoch.
package schedule

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dysthesis/sift/internal/domain/entity"
	"github.com/dysthesis/sift/internal/observability/metrics"
)

type feedItem struct {
	mu sync.Mutex

	feed     entity.Feed
	addedAt  time.Time
	attempts int
	failures int
	lastTry  *time.Time

	history   []float64
	below     int
	lastEpoch uint64
	evaluated bool
	entries   int
}

type entryItem struct {
	mu sync.Mutex

	target    entity.EntryTarget
	score     float64
	notBefore time.Time
	done      bool
}

// Scheduler owns the fetch queue. The maps are guarded by mu; each item
// has its own mutex so outcomes for different items never contend.
type Scheduler struct {
	cfg Config

	mu      sync.RWMutex
	feeds   map[int64]*feedItem
	entries map[int64]*entryItem
	urls    map[string]int64
	maxID   int64
}

// New validates cfg and returns an empty Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		cfg:     cfg,
		feeds:   make(map[int64]*feedItem),
		entries: make(map[int64]*entryItem),
		urls:    make(map[string]int64),
	}, nil
}

// Config returns the scheduler configuration.
func (s *Scheduler) Config() Config { return s.cfg }

func urlKey(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

// AddFeed registers a feed. Feeds loaded from configuration arrive Active;
// persisted feeds keep their stored state and adaptive fields. A zero ID is
// assigned the next free identifier. The assigned ID is returned.
func (s *Scheduler) AddFeed(f entity.Feed, now time.Time) (int64, error) {
	key := urlKey(f.URL)
	if key == "" {
		return 0, &entity.ValidationError{Field: "url", Message: "URL is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.urls[key]; ok {
		return id, fmt.Errorf("add feed %q: already tracked as %d: %w", f.URL, id, entity.ErrInvalidData)
	}
	if f.ID == 0 {
		f.ID = s.maxID + 1
	}
	if _, ok := s.feeds[f.ID]; ok {
		return 0, fmt.Errorf("add feed %d: duplicate id: %w", f.ID, entity.ErrInvalidData)
	}
	f.Tags = entity.NormalizeTags(f.Tags)
	s.feeds[f.ID] = &feedItem{feed: f, addedAt: now}
	s.urls[key] = f.ID
	s.maxID = max(s.maxID, f.ID)
	return f.ID, nil
}

// Discover tracks a feed surfaced by an entry's content. A new feed starts
// Ephemeral with no refresh-interval prior. It returns the feed and whether
// it was newly created; an already tracked URL returns the existing feed.
func (s *Scheduler) Discover(url string, tags []string, fromEntry int64, now time.Time) (entity.Feed, bool, error) {
	key := urlKey(url)
	if key == "" {
		return entity.Feed{}, false, &entity.ValidationError{Field: "url", Message: "URL is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.urls[key]; ok {
		it := s.feeds[id]
		it.mu.Lock()
		defer it.mu.Unlock()
		return it.feed, false, nil
	}

	from := fromEntry
	f := entity.Feed{
		ID:             s.maxID + 1,
		URL:            url,
		Tags:           entity.NormalizeTags(tags),
		State:          entity.FeedEphemeral,
		DiscoveredFrom: &from,
	}
	s.feeds[f.ID] = &feedItem{feed: f, addedAt: now}
	s.urls[key] = f.ID
	s.maxID = f.ID
	return f, true, nil
}

// EnqueueEntry schedules an entry's content for fetching. It reports
// whether the entry was newly queued.
func (s *Scheduler) EnqueueEntry(target entity.EntryTarget, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[target.EntryID]; ok {
		return false
	}
	target.Attempts = 0
	target.LastAttemptAt = nil
	s.entries[target.EntryID] = &entryItem{target: target, notBefore: now}
	return true
}

// Feed returns a copy of the feed's current state.
func (s *Scheduler) Feed(id int64) (entity.Feed, bool) {
	s.mu.RLock()
	it, ok := s.feeds[id]
	s.mu.RUnlock()
	if !ok {
		return entity.Feed{}, false
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.feed, true
}

// Feeds returns copies of every tracked feed ordered by id.
func (s *Scheduler) Feeds() []entity.Feed {
	s.mu.RLock()
	items := make([]*feedItem, 0, len(s.feeds))
	for _, it := range s.feeds {
		items = append(items, it)
	}
	s.mu.RUnlock()

	out := make([]entity.Feed, 0, len(items))
	for _, it := range items {
		it.mu.Lock()
		out = append(out, it.feed)
		it.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b entity.Feed) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// History returns the recent epoch scores of a feed, oldest first.
func (s *Scheduler) History(id int64) []float64 {
	s.mu.RLock()
	it, ok := s.feeds[id]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	return slices.Clone(it.history)
}

// PendingEntries returns the number of queued entry fetches.
func (s *Scheduler) PendingEntries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// EntryQueued reports whether an entry fetch is still queued. An entry
// leaves the queue on success or after EntryMaxAttempts failures.
func (s *Scheduler) EntryQueued(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

// RecordOutcome applies a fetch result to one item atomically.
//
// For a feed, observedChange is the number of new entries the fetch found
// and feeds the refresh-interval estimate. For an entry it is ignored; a
// success retires the item and a failure backs off exponentially until
// EntryMaxAttempts is reached.
func (s *Scheduler) RecordOutcome(item entity.FetchableItem, success bool, observedChange float64, now time.Time) error {
	if math.IsNaN(observedChange) || observedChange < 0 {
		return &entity.DataError{Field: "observed_change", Message: fmt.Sprintf("must be a non-negative number, got %v", observedChange)}
	}

	switch v := item.(type) {
	case entity.FeedTarget:
		metrics.RecordFetchOutcome("feed", success)
		return s.recordFeed(v.FeedID, success, int(math.Round(observedChange)), now)
	case entity.EntryTarget:
		metrics.RecordFetchOutcome("entry", success)
		return s.recordEntry(v.EntryID, success, now)
	default:
		return fmt.Errorf("record outcome: unsupported item %T: %w", item, entity.ErrInvalidData)
	}
}

func (s *Scheduler) recordFeed(id int64, success bool, newEntries int, now time.Time) error {
	s.mu.RLock()
	it, ok := s.feeds[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("record outcome for feed %d: %w", id, entity.ErrNotFound)
	}

	it.mu.Lock()
	defer it.mu.Unlock()
	it.attempts++
	at := now
	it.lastTry = &at
	if !success {
		it.failures++
		return nil
	}
	it.failures = 0

	if last := it.feed.LastFetchedAt; last != nil {
		it.feed.EstimatedInterval = s.cfg.UpdateEstimate(it.feed.EstimatedInterval, now.Sub(*last), newEntries)
	} else if newEntries > 0 && it.feed.State == entity.FeedEphemeral {
		// First probe of a discovered feed: the only reference point is discovery.
		it.feed.EstimatedInterval = s.cfg.UpdateEstimate(0, now.Sub(it.addedAt), newEntries)
	}
	it.feed.LastFetchedAt = &at
	return nil
}

func (s *Scheduler) recordEntry(id int64, success bool, now time.Time) error {
	s.mu.RLock()
	it, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("record outcome for entry %d: %w", id, entity.ErrNotFound)
	}

	it.mu.Lock()
	at := now
	it.target.LastAttemptAt = &at
	it.target.Attempts++
	if !success && it.target.Attempts < s.cfg.EntryMaxAttempts {
		backoff := s.cfg.EntryRetryBackoff << (it.target.Attempts - 1)
		if backoff <= 0 || backoff > s.cfg.MaxInterval {
			backoff = s.cfg.MaxInterval
		}
		it.notBefore = now.Add(backoff)
		it.mu.Unlock()
		return nil
	}
	it.done = true
	it.mu.Unlock()

	s.mu.Lock()
	if cur, ok := s.entries[id]; ok && cur == it {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	return nil
}

// ScoreUpdate carries one recompute epoch's score for a feed or entry.
// Entries is the number of the feed's entries that contributed.
type ScoreUpdate struct {
	Target  entity.FetchableItem
	Score   float64
	Entries int
}

// OnScoreUpdate applies an epoch's score and returns any lifecycle
// transitions it caused.
//
// Each feed is evaluated at most once per epoch; a repeated or older epoch
// is ignored. An Active feed is pruned after PruneAfterEpochs consecutive
// epochs below its adaptive threshold. An Ephemeral feed with enough
// entries is promoted once it reaches the promotion threshold, or pruned
// after PruneAfterEpochs consecutive epochs short of it; one still short of
// entries after EphemeralMaxProbes fetches is pruned. Its score is not
// added to the history until it has enough entries. Pruned is terminal and
// never produces another transition.
func (s *Scheduler) OnScoreUpdate(epoch uint64, u ScoreUpdate, now time.Time) []entity.FeedTransition {
	switch v := u.Target.(type) {
	case entity.FeedTarget:
		return s.scoreFeed(epoch, v.FeedID, u, now)
	case entity.EntryTarget:
		s.mu.RLock()
		it, ok := s.entries[v.EntryID]
		s.mu.RUnlock()
		if ok {
			it.mu.Lock()
			it.score = u.Score
			it.mu.Unlock()
		}
	}
	return nil
}

func (s *Scheduler) scoreFeed(epoch uint64, id int64, u ScoreUpdate, now time.Time) []entity.FeedTransition {
	s.mu.RLock()
	it, ok := s.feeds[id]
	s.mu.RUnlock()
	if !ok || math.IsNaN(u.Score) {
		return nil
	}

	it.mu.Lock()
	defer it.mu.Unlock()
	if it.evaluated && epoch <= it.lastEpoch {
		return nil
	}
	it.evaluated = true
	it.lastEpoch = epoch
	it.entries = u.Entries
	it.feed.Quality = u.Score

	if it.feed.State == entity.FeedPruned {
		return nil
	}

	threshold := s.cfg.PruneThreshold(it.history)
	from := it.feed.State
	to := from
	reason := ""
	trusted := true

	switch from {
	case entity.FeedActive:
		if u.Score < threshold {
			it.below++
			if it.below >= s.cfg.PruneAfterEpochs {
				to = entity.FeedPruned
				reason = fmt.Sprintf("score below %.4g for %d consecutive epochs", threshold, it.below)
			}
		} else {
			it.below = 0
		}
	case entity.FeedEphemeral:
		threshold = s.cfg.PromotionThreshold()
		if u.Entries < s.cfg.MinEntriesForEstimate {
			trusted = false
			if s.cfg.EphemeralMaxProbes > 0 && it.attempts >= s.cfg.EphemeralMaxProbes {
				to = entity.FeedPruned
				reason = fmt.Sprintf("%d entries after %d fetches", u.Entries, it.attempts)
			}
			break
		}
		if u.Score >= threshold {
			to = entity.FeedActive
			reason = fmt.Sprintf("score reached promotion threshold %.4g", threshold)
			it.below = 0
		} else {
			it.below++
			if it.below >= s.cfg.PruneAfterEpochs {
				to = entity.FeedPruned
				reason = fmt.Sprintf("score short of promotion threshold %.4g for %d epochs", threshold, it.below)
			}
		}
	}

	if trusted {
		it.history = append(it.history, u.Score)
		if len(it.history) > s.cfg.HistorySize {
			it.history = it.history[len(it.history)-s.cfg.HistorySize:]
		}
		_, it.feed.Consistency = meanVariance(it.history)
	}

	if to == from {
		return nil
	}
	it.feed.State = to
	metrics.RecordFeedTransition(from.String(), to.String())
	return []entity.FeedTransition{{
		FeedID:    id,
		From:      from,
		To:        to,
		Epoch:     epoch,
		Score:     u.Score,
		Threshold: threshold,
		Reason:    reason,
		At:        now,
	}}
}

// StateCounts returns the number of feeds per lifecycle state.
func (s *Scheduler) StateCounts() map[string]int {
	counts := map[string]int{
		entity.FeedActive.String():    0,
		entity.FeedEphemeral.String(): 0,
		entity.FeedPruned.String():    0,
	}
	for _, f := range s.Feeds() {
		counts[f.State.String()]++
	}
	return counts
}
