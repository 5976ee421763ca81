package schedule

import (
	"container/heap"
	"iter"
	"time"

	"github.com/dysthesis/sift/internal/domain/entity"
	"github.com/dysthesis/sift/internal/observability/metrics"
)

// candidate is a due item with its ordering keys.
type candidate struct {
	item     entity.FetchableItem
	priority float64
	quality  float64
	kind     int // 0 feed, 1 entry
	id       int64
}

// less orders by priority, then quality, then feeds before entries, then id.
func (a candidate) less(b candidate) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if a.quality != b.quality {
		return a.quality > b.quality
	}
	if a.kind != b.kind {
		return a.kind < b.kind
	}
	return a.id < b.id
}

type candidateHeap []candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// NextFetch yields the items due at now, highest priority first.
//
// The sequence is lazy and restartable: every range re-reads the current
// state, so outcomes and score updates recorded between iterations are
// reflected. Only one item is popped per step, so a consumer that stops
// early pays O(n + k log n).
func (s *Scheduler) NextFetch(now time.Time) iter.Seq[entity.FetchableItem] {
	return func(yield func(entity.FetchableItem) bool) {
		h := s.collect(now)
		heap.Init(&h)
		for h.Len() > 0 {
			c := heap.Pop(&h).(candidate)
			if !yield(c.item) {
				return
			}
		}
	}
}

// Plan returns up to limit due items in priority order. A non-positive
// limit returns every due item.
func (s *Scheduler) Plan(now time.Time, limit int) []entity.FetchableItem {
	var out []entity.FetchableItem
	for it := range s.NextFetch(now) {
		out = append(out, it)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// collect snapshots every due item and its priority.
func (s *Scheduler) collect(now time.Time) candidateHeap {
	s.mu.RLock()
	feeds := make([]*feedItem, 0, len(s.feeds))
	for _, it := range s.feeds {
		feeds = append(feeds, it)
	}
	entries := make([]*entryItem, 0, len(s.entries))
	for _, it := range s.entries {
		entries = append(entries, it)
	}
	s.mu.RUnlock()

	quality := make(map[int64]float64, len(feeds))
	var h candidateHeap
	pendingFeeds := 0
	for _, it := range feeds {
		it.mu.Lock()
		quality[it.feed.ID] = it.feed.Quality
		c, due := s.feedCandidate(it, now)
		if it.feed.State.Schedulable() {
			pendingFeeds++
		}
		it.mu.Unlock()
		if due {
			h = append(h, c)
		}
	}

	for _, it := range entries {
		it.mu.Lock()
		if it.done || now.Before(it.notBefore) {
			it.mu.Unlock()
			continue
		}
		t := it.target
		q := quality[t.FeedID]
		t.Priority = s.cfg.boost(q) * (1 + max(it.score, 0))
		it.mu.Unlock()
		h = append(h, candidate{item: t, priority: t.Priority, quality: q, kind: 1, id: t.EntryID})
	}

	metrics.UpdateQueueDepth(pendingFeeds, len(entries))
	return h
}

// feedCandidate computes whether a feed is due and its priority.
// Caller holds it.mu.
func (s *Scheduler) feedCandidate(it *feedItem, now time.Time) (candidate, bool) {
	f := it.feed
	if !f.State.Schedulable() {
		return candidate{}, false
	}

	var interval time.Duration
	if f.State == entity.FeedEphemeral {
		interval = s.cfg.ProbeInterval
	} else {
		interval = s.cfg.EffectiveInterval(f.EstimatedInterval, f.Quality)
	}
	for i := 0; i < it.failures && interval < s.cfg.MaxInterval; i++ {
		interval *= 2
	}
	interval = min(interval, s.cfg.MaxInterval)

	ref := it.addedAt
	if f.LastFetchedAt != nil {
		ref = *f.LastFetchedAt
	}
	if it.lastTry != nil && it.lastTry.After(ref) {
		ref = *it.lastTry
	}

	var ratio float64
	if f.LastFetchedAt == nil && it.lastTry == nil {
		// Never attempted: due immediately.
		ratio = max(1, float64(now.Sub(ref))/float64(interval))
	} else {
		ratio = float64(now.Sub(ref)) / float64(interval)
	}
	if ratio < 1 {
		return candidate{}, false
	}

	priority := ratio * s.cfg.boost(f.Quality)
	if f.State == entity.FeedEphemeral {
		priority = min(ratio, s.cfg.ProbePriorityCap)
	}

	target := entity.FeedTarget{
		FeedID: f.ID,
		URL:    f.URL,
		FetchMeta: entity.FetchMeta{
			Priority:      priority,
			LastAttemptAt: it.lastTry,
			Attempts:      it.attempts,
		},
	}
	return candidate{item: target, priority: priority, quality: f.Quality, kind: 0, id: f.ID}, true
}
