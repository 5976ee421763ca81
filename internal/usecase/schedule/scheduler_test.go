package schedule

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dysthesis/sift/internal/domain/entity"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T, mutate func(*Config)) *Scheduler {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func addFeed(t *testing.T, s *Scheduler, url string) int64 {
	t.Helper()
	id, err := s.AddFeed(entity.Feed{URL: url}, t0)
	require.NoError(t, err)
	return id
}

func feedTarget(id int64) entity.FeedTarget { return entity.FeedTarget{FeedID: id} }

func keys(items []entity.FetchableItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Key()
	}
	return out
}

/* ─── 1. Configuration ─── */

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "alpha zero", mutate: func(c *Config) { c.Alpha = 0 }, field: "alpha"},
		{name: "alpha above one", mutate: func(c *Config) { c.Alpha = 1.5 }, field: "alpha"},
		{name: "max below min", mutate: func(c *Config) { c.MaxInterval = time.Minute }, field: "max_interval"},
		{name: "negative bonus", mutate: func(c *Config) { c.MaxConsistencyBonus = -1 }, field: "max_consistency_bonus"},
		{name: "no hysteresis", mutate: func(c *Config) { c.PruneAfterEpochs = 0 }, field: "prune_after_epochs"},
		{name: "min history above size", mutate: func(c *Config) { c.MinHistory = 20 }, field: "min_history"},
		{name: "negative probe limit", mutate: func(c *Config) { c.EphemeralMaxProbes = -1 }, field: "ephemeral_max_probes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			var cfgErr *entity.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

/* ─── 2. Refresh-interval estimation ─── */

func TestUpdateEstimate(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name       string
		estimate   time.Duration
		sinceLast  time.Duration
		newEntries int
		want       time.Duration
	}{
		{name: "no prior adopts observation", estimate: 0, sinceLast: 4 * time.Hour, newEntries: 2, want: 2 * time.Hour},
		{name: "ewma with new entries", estimate: 2 * time.Hour, sinceLast: time.Hour, newEntries: 1, want: 102 * time.Minute},
		{name: "nothing new backs off", estimate: time.Hour, sinceLast: 30 * time.Minute, newEntries: 0, want: 78 * time.Minute},
		{name: "clamped to min", estimate: 0, sinceLast: time.Minute, newEntries: 10, want: 5 * time.Minute},
		{name: "clamped to max", estimate: 0, sinceLast: 30 * 24 * time.Hour, newEntries: 1, want: 7 * 24 * time.Hour},
		{name: "zero elapsed keeps estimate", estimate: time.Hour, sinceLast: 0, newEntries: 3, want: time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cfg.UpdateEstimate(tt.estimate, tt.sinceLast, tt.newEntries)
			assert.InDelta(t, float64(tt.want), float64(got), float64(time.Millisecond))
		})
	}
}

func TestEffectiveInterval(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Hour, cfg.EffectiveInterval(0, 0), "default prior")
	assert.Equal(t, 40*time.Minute, cfg.EffectiveInterval(time.Hour, 0.5))
	assert.Equal(t, time.Hour, cfg.EffectiveInterval(time.Hour, -3), "negative quality earns no boost")
	assert.Equal(t, 5*time.Minute, cfg.EffectiveInterval(6*time.Minute, 9))
}

func TestRecordOutcome_UpdatesEstimate(t *testing.T) {
	s := newScheduler(t, nil)
	id := addFeed(t, s, "https://a.example/feed")

	require.NoError(t, s.RecordOutcome(feedTarget(id), true, 3, t0))
	f, _ := s.Feed(id)
	assert.Zero(t, f.EstimatedInterval, "first fetch only establishes a reference point")
	assert.Equal(t, t0, *f.LastFetchedAt)

	require.NoError(t, s.RecordOutcome(feedTarget(id), true, 2, t0.Add(4*time.Hour)))
	f, _ = s.Feed(id)
	assert.Equal(t, 2*time.Hour, f.EstimatedInterval)

	require.NoError(t, s.RecordOutcome(feedTarget(id), true, 0, t0.Add(5*time.Hour)))
	f, _ = s.Feed(id)
	assert.InDelta(t, float64(156*time.Minute), float64(f.EstimatedInterval), float64(time.Millisecond))
}

func TestRecordOutcome_Errors(t *testing.T) {
	s := newScheduler(t, nil)
	id := addFeed(t, s, "https://a.example/feed")

	assert.ErrorIs(t, s.RecordOutcome(feedTarget(99), true, 1, t0), entity.ErrNotFound)
	assert.ErrorIs(t, s.RecordOutcome(entity.EntryTarget{EntryID: 5}, true, 0, t0), entity.ErrNotFound)
	assert.ErrorIs(t, s.RecordOutcome(feedTarget(id), true, -1, t0), entity.ErrInvalidData)
}

/* ─── 3. Fetch ordering ─── */

func TestNextFetch_PriorityOrder(t *testing.T) {
	s := newScheduler(t, nil)
	a := addFeed(t, s, "https://a.example/feed")
	b := addFeed(t, s, "https://b.example/feed")
	c := addFeed(t, s, "https://c.example/feed")
	for _, id := range []int64{a, b, c} {
		require.NoError(t, s.RecordOutcome(feedTarget(id), true, 0, t0))
	}
	s.OnScoreUpdate(1, ScoreUpdate{Target: feedTarget(b), Score: 0.5}, t0)

	assert.Empty(t, s.Plan(t0.Add(30*time.Minute), 0), "nothing is due before its interval")

	// b's boosted interval is 40m; a and c share 60m and tie on priority and quality.
	plan := s.Plan(t0.Add(45*time.Minute), 0)
	assert.Equal(t, []string{"feed:2"}, keys(plan))

	plan = s.Plan(t0.Add(time.Hour), 0)
	assert.Equal(t, []string{"feed:2", "feed:1", "feed:3"}, keys(plan))
	assert.InDelta(t, 1.5*1.5, plan[0].Meta().Priority, 1e-9)
	assert.InDelta(t, 1.0, plan[1].Meta().Priority, 1e-9)

	assert.Equal(t, []string{"feed:2"}, keys(s.Plan(t0.Add(time.Hour), 1)))
}

func TestNextFetch_RestartableAndLazy(t *testing.T) {
	s := newScheduler(t, nil)
	a := addFeed(t, s, "https://a.example/feed")
	addFeed(t, s, "https://b.example/feed")
	now := t0.Add(time.Minute)

	seq := s.NextFetch(now)
	var first []string
	for it := range seq {
		first = append(first, it.Key())
		break
	}
	assert.Equal(t, []string{"feed:1"}, first)

	require.NoError(t, s.RecordOutcome(feedTarget(a), true, 1, now))

	var second []string
	for it := range seq {
		second = append(second, it.Key())
	}
	assert.Equal(t, []string{"feed:2"}, second, "ranging again reflects the recorded outcome")
}

func TestNextFetch_EphemeralProbing(t *testing.T) {
	s := newScheduler(t, nil)
	active := addFeed(t, s, "https://a.example/feed")
	eph, created, err := s.Discover("https://found.example/rss", []string{"Go"}, 42, t0)
	require.NoError(t, err)
	require.True(t, created)

	plan := s.Plan(t0, 0)
	require.Len(t, plan, 2)
	assert.Equal(t, entity.FeedKey(active), plan[0].Key())
	assert.Equal(t, entity.FeedKey(eph.ID), plan[1].Key())
	assert.Equal(t, 0.5, plan[1].Meta().Priority, "probing priority is capped")

	require.NoError(t, s.RecordOutcome(feedTarget(eph.ID), true, 0, t0))
	assert.Empty(t, keysFor(s.Plan(t0.Add(5*time.Hour), 0), eph.ID))
	assert.Len(t, keysFor(s.Plan(t0.Add(6*time.Hour), 0), eph.ID), 1)
}

func keysFor(items []entity.FetchableItem, feedID int64) []string {
	var out []string
	for _, it := range items {
		if ft, ok := it.(entity.FeedTarget); ok && ft.FeedID == feedID {
			out = append(out, ft.Key())
		}
	}
	return out
}

func TestNextFetch_FailureBacksOffFeed(t *testing.T) {
	s := newScheduler(t, nil)
	id := addFeed(t, s, "https://a.example/feed")
	require.NoError(t, s.RecordOutcome(feedTarget(id), true, 0, t0))
	require.NoError(t, s.RecordOutcome(feedTarget(id), false, 0, t0.Add(time.Hour)))

	assert.Empty(t, s.Plan(t0.Add(2*time.Hour), 0), "one failure doubles the interval")
	plan := s.Plan(t0.Add(3*time.Hour), 0)
	require.Len(t, plan, 1)
	assert.Equal(t, 2, plan[0].Meta().Attempts)
}

func TestEntryFetch_BackoffAndDrop(t *testing.T) {
	s := newScheduler(t, func(c *Config) { c.EntryMaxAttempts = 3 })
	feed := addFeed(t, s, "https://a.example/feed")
	require.NoError(t, s.RecordOutcome(feedTarget(feed), true, 0, t0))
	s.OnScoreUpdate(1, ScoreUpdate{Target: feedTarget(feed), Score: 1}, t0)

	target := entity.EntryTarget{EntryID: 55, FeedID: feed, URL: "https://a.example/post"}
	assert.True(t, s.EnqueueEntry(target, t0))
	assert.False(t, s.EnqueueEntry(target, t0))

	plan := s.Plan(t0, 0)
	require.Equal(t, []string{"entry:55"}, keys(plan))
	assert.InDelta(t, 2.0, plan[0].Meta().Priority, 1e-12)

	s.OnScoreUpdate(2, ScoreUpdate{Target: target, Score: 0.5}, t0)
	assert.InDelta(t, 3.0, s.Plan(t0, 0)[0].Meta().Priority, 1e-12)

	require.NoError(t, s.RecordOutcome(target, false, 0, t0))
	assert.Empty(t, s.Plan(t0.Add(59*time.Second), 0))
	assert.Len(t, s.Plan(t0.Add(time.Minute), 0), 1)

	require.NoError(t, s.RecordOutcome(target, false, 0, t0.Add(time.Minute)))
	assert.Empty(t, s.Plan(t0.Add(2*time.Minute), 0), "second failure waits two minutes")
	assert.Len(t, s.Plan(t0.Add(3*time.Minute), 0), 1)

	require.NoError(t, s.RecordOutcome(target, false, 0, t0.Add(3*time.Minute)))
	assert.Zero(t, s.PendingEntries(), "dropped after max attempts")
}

func TestEntryFetch_SuccessRetires(t *testing.T) {
	s := newScheduler(t, nil)
	target := entity.EntryTarget{EntryID: 7, FeedID: 1}
	s.EnqueueEntry(target, t0)
	require.NoError(t, s.RecordOutcome(target, true, 0, t0))
	assert.Zero(t, s.PendingEntries())
	assert.ErrorIs(t, s.RecordOutcome(target, true, 0, t0), entity.ErrNotFound)
}

func TestRecordOutcome_ConcurrentNoLostUpdates(t *testing.T) {
	s := newScheduler(t, nil)
	a := addFeed(t, s, "https://a.example/feed")
	b := addFeed(t, s, "https://b.example/feed")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, id := range []int64{a, b} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.RecordOutcome(feedTarget(id), false, 0, t0)
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Plan(t0, 0)
		}()
	}
	wg.Wait()

	plan := s.Plan(t0.Add(8*24*time.Hour), 0)
	require.Len(t, plan, 2)
	for _, it := range plan {
		assert.Equal(t, 50, it.Meta().Attempts, it.Key())
	}
}

/* ─── 4. Lifecycle ─── */

func TestDiscover(t *testing.T) {
	s := newScheduler(t, nil)
	addFeed(t, s, "https://a.example/feed")
	_, err := s.AddFeed(entity.Feed{ID: 10, URL: "https://b.example/feed"}, t0)
	require.NoError(t, err)

	f, created, err := s.Discover("https://new.example/atom.xml", []string{" Rust "}, 3, t0)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(11), f.ID)
	assert.Equal(t, entity.FeedEphemeral, f.State)
	assert.Equal(t, []string{"rust"}, f.Tags)
	assert.Equal(t, int64(3), *f.DiscoveredFrom)
	assert.Zero(t, f.EstimatedInterval)

	again, created, err := s.Discover("https://new.example/atom.xml/", nil, 4, t0)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, f.ID, again.ID)

	_, created, err = s.Discover("https://a.example/feed", nil, 4, t0)
	require.NoError(t, err)
	assert.False(t, created, "configured feeds are not rediscovered")

	_, _, err = s.Discover(" ", nil, 1, t0)
	assert.ErrorIs(t, err, entity.ErrInvalidData)
}

func TestAddFeed_Duplicates(t *testing.T) {
	s := newScheduler(t, nil)
	addFeed(t, s, "https://a.example/feed")
	_, err := s.AddFeed(entity.Feed{URL: "https://a.example/feed/"}, t0)
	assert.ErrorIs(t, err, entity.ErrInvalidData)
	_, err = s.AddFeed(entity.Feed{ID: 1, URL: "https://b.example/feed"}, t0)
	assert.ErrorIs(t, err, entity.ErrInvalidData)
}

func TestOnScoreUpdate_Hysteresis(t *testing.T) {
	s := newScheduler(t, func(c *Config) {
		c.BaseThreshold = 0.3
		c.MaxConsistencyBonus = 0
		c.PruneAfterEpochs = 3
	})
	id := addFeed(t, s, "https://a.example/feed")

	scores := []float64{0.5, 0.1, 0.1, 0.5, 0.1, 0.1}
	epoch := uint64(0)
	for _, score := range scores {
		epoch++
		assert.Empty(t, s.OnScoreUpdate(epoch, ScoreUpdate{Target: feedTarget(id), Score: score}, t0), "epoch %d", epoch)
	}
	f, _ := s.Feed(id)
	require.Equal(t, entity.FeedActive, f.State)

	epoch++
	transitions := s.OnScoreUpdate(epoch, ScoreUpdate{Target: feedTarget(id), Score: 0.1}, t0)
	want := []entity.FeedTransition{{
		FeedID:    id,
		From:      entity.FeedActive,
		To:        entity.FeedPruned,
		Epoch:     epoch,
		Score:     0.1,
		Threshold: 0.3,
		At:        t0,
	}}
	if diff := cmp.Diff(want, transitions, cmpopts.IgnoreFields(entity.FeedTransition{}, "Reason")); diff != "" {
		t.Errorf("transition mismatch (-want +got):\n%s", diff)
	}

	for e := epoch + 1; e < epoch+4; e++ {
		assert.Empty(t, s.OnScoreUpdate(e, ScoreUpdate{Target: feedTarget(id), Score: 0.05}, t0))
	}
	assert.Empty(t, s.Plan(t0.Add(30*24*time.Hour), 0), "pruned feeds are never scheduled")
}

func TestOnScoreUpdate_SameEpochNotDoubleCounted(t *testing.T) {
	s := newScheduler(t, func(c *Config) {
		c.BaseThreshold = 0.3
		c.MaxConsistencyBonus = 0
		c.PruneAfterEpochs = 2
	})
	id := addFeed(t, s, "https://a.example/feed")

	for i := 0; i < 5; i++ {
		assert.Empty(t, s.OnScoreUpdate(1, ScoreUpdate{Target: feedTarget(id), Score: 0.1}, t0))
	}
	assert.Len(t, s.History(id), 1)
	assert.Len(t, s.OnScoreUpdate(2, ScoreUpdate{Target: feedTarget(id), Score: 0.1}, t0), 1)
}

func TestOnScoreUpdate_ConsistencyProtectsSteadyFeed(t *testing.T) {
	s := newScheduler(t, func(c *Config) {
		c.BaseThreshold = 0.3
		c.MaxConsistencyBonus = 0.25
		c.VarianceScale = 0.01
		c.PruneAfterEpochs = 1
		c.MinHistory = 3
		c.HistorySize = 10
	})
	steady := addFeed(t, s, "https://steady.example/feed")
	erratic := addFeed(t, s, "https://erratic.example/feed")

	for epoch := uint64(1); epoch <= 10; epoch++ {
		erraticScore := 0.95
		if epoch%2 == 0 {
			erraticScore = 0.45
		}
		assert.Empty(t, s.OnScoreUpdate(epoch, ScoreUpdate{Target: feedTarget(steady), Score: 0.7}, t0))
		assert.Empty(t, s.OnScoreUpdate(epoch, ScoreUpdate{Target: feedTarget(erratic), Score: erraticScore}, t0))
	}

	cfg := s.Config()
	assert.InDelta(t, 0.05, cfg.PruneThreshold(s.History(steady)), 1e-9)
	assert.InDelta(t, 0.3-0.25/7.25, cfg.PruneThreshold(s.History(erratic)), 1e-9)

	assert.Empty(t, s.OnScoreUpdate(11, ScoreUpdate{Target: feedTarget(steady), Score: 0.1}, t0),
		"a consistently good feed survives one dip below the base threshold")
	transitions := s.OnScoreUpdate(11, ScoreUpdate{Target: feedTarget(erratic), Score: 0.1}, t0)
	require.Len(t, transitions, 1)
	assert.Equal(t, entity.FeedPruned, transitions[0].To)

	f, _ := s.Feed(steady)
	assert.Equal(t, entity.FeedActive, f.State)
}

func TestConsistencyBonus_RequiresGoodMean(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseThreshold = 0.3
	cfg.MaxConsistencyBonus = 0.2
	assert.Zero(t, cfg.ConsistencyBonus([]float64{0.1, 0.1, 0.1}), "consistently bad earns no leniency")
	assert.Zero(t, cfg.ConsistencyBonus([]float64{0.9}), "too little history")
	assert.InDelta(t, 0.2, cfg.ConsistencyBonus([]float64{0.9, 0.9, 0.9}), 1e-9)
}

func TestOnScoreUpdate_EphemeralLifecycle(t *testing.T) {
	s := newScheduler(t, func(c *Config) {
		c.BaseThreshold = 0.3
		c.PromotionMargin = 0.1
		c.PruneAfterEpochs = 2
		c.MinEntriesForEstimate = 5
	})
	good, _, err := s.Discover("https://good.example/rss", nil, 1, t0)
	require.NoError(t, err)
	poor, _, err := s.Discover("https://poor.example/rss", nil, 1, t0)
	require.NoError(t, err)

	assert.Empty(t, s.OnScoreUpdate(1, ScoreUpdate{Target: feedTarget(good.ID), Score: 0.9, Entries: 3}, t0),
		"too few entries for an estimate")

	tr := s.OnScoreUpdate(2, ScoreUpdate{Target: feedTarget(good.ID), Score: 0.45, Entries: 5}, t0)
	require.Len(t, tr, 1)
	assert.Equal(t, entity.FeedEphemeral, tr[0].From)
	assert.Equal(t, entity.FeedActive, tr[0].To)
	assert.InDelta(t, 0.4, tr[0].Threshold, 1e-12)

	// 0.35 clears the steady-state threshold but not the stricter promotion one.
	assert.Empty(t, s.OnScoreUpdate(1, ScoreUpdate{Target: feedTarget(poor.ID), Score: 0.35, Entries: 6}, t0))
	tr = s.OnScoreUpdate(2, ScoreUpdate{Target: feedTarget(poor.ID), Score: 0.35, Entries: 6}, t0)
	require.Len(t, tr, 1)
	assert.Equal(t, entity.FeedPruned, tr[0].To)

	counts := s.StateCounts()
	assert.Equal(t, map[string]int{"active": 1, "ephemeral": 0, "pruned": 1}, counts)
}

func TestOnScoreUpdate_UnproductiveEphemeralPruned(t *testing.T) {
	s := newScheduler(t, func(c *Config) {
		c.MinEntriesForEstimate = 5
		c.EphemeralMaxProbes = 3
	})
	quiet, _, err := s.Discover("https://quiet.example/rss", nil, 1, t0)
	require.NoError(t, err)
	target := feedTarget(quiet.ID)

	at := t0
	for epoch := uint64(1); epoch <= 2; epoch++ {
		at = at.Add(6 * time.Hour)
		require.NoError(t, s.RecordOutcome(target, true, 0, at))
		assert.Empty(t, s.OnScoreUpdate(epoch, ScoreUpdate{Target: target, Entries: 0}, at))
	}
	assert.Empty(t, s.History(quiet.ID), "scores without enough entries are not history")

	at = at.Add(6 * time.Hour)
	require.NoError(t, s.RecordOutcome(target, false, 0, at))
	tr := s.OnScoreUpdate(3, ScoreUpdate{Target: target, Score: 0.2, Entries: 2}, at)
	require.Len(t, tr, 1)
	assert.Equal(t, entity.FeedEphemeral, tr[0].From)
	assert.Equal(t, entity.FeedPruned, tr[0].To)
	assert.Equal(t, "2 entries after 3 fetches", tr[0].Reason)

	assert.Empty(t, s.Plan(at.Add(24*time.Hour), 10), "pruned feeds are not fetched")
}

func TestOnScoreUpdate_ProbeLimitDisabled(t *testing.T) {
	s := newScheduler(t, func(c *Config) { c.EphemeralMaxProbes = 0 })
	quiet, _, err := s.Discover("https://quiet.example/rss", nil, 1, t0)
	require.NoError(t, err)
	for i := range 20 {
		require.NoError(t, s.RecordOutcome(feedTarget(quiet.ID), true, 0, t0.Add(time.Duration(i+1)*time.Hour)))
	}
	assert.Empty(t, s.OnScoreUpdate(1, ScoreUpdate{Target: feedTarget(quiet.ID)}, t0.Add(24*time.Hour)))
	f, _ := s.Feed(quiet.ID)
	assert.Equal(t, entity.FeedEphemeral, f.State)
}
