package rank

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dysthesis/sift/internal/domain/entity"
	"github.com/dysthesis/sift/internal/usecase/graph"
)

func triangle(t *testing.T) *graph.Snapshot {
	t.Helper()
	g, err := graph.New(graph.Config{K: 2, Dimension: 3, Shards: 1})
	require.NoError(t, err)
	for id, vec := range map[int64][]float32{
		1: {1, 0, 0},
		2: {0, 1, 0},
		3: {0, 0, 1},
	} {
		_, err := g.Upsert(id, vec)
		require.NoError(t, err)
	}
	snap, err := g.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Edges(), 3)
	return snap
}

// chain: 1-2-3-4 path plus an isolated 5.
func chain() *graph.Snapshot {
	return graph.NewSnapshot(1, map[int64][]graph.Neighbor{
		1: {{ID: 2, Weight: 0.9}},
		2: {{ID: 1, Weight: 0.9}, {ID: 3, Weight: 0.4}},
		3: {{ID: 2, Weight: 0.4}, {ID: 4, Weight: -0.2}},
		4: {{ID: 3, Weight: -0.2}},
		5: {},
	})
}

func newEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func TestRank_ClosedFormTriangle(t *testing.T) {
	e := newEngine(t, func(c *Config) {
		c.Tolerance = 1e-12
		c.MaxIterations = 500
		c.WarmStart = false
	})

	res, err := e.Rank(context.Background(), triangle(t), map[int64]float64{1: 1})
	require.NoError(t, err)

	d := 0.85
	assert.InDelta(t, (2-d)/(2+d), res.Score(1), 1e-6)
	assert.InDelta(t, d/(2+d), res.Score(2), 1e-6)
	assert.InDelta(t, d/(2+d), res.Score(3), 1e-6)
	assert.InDelta(t, 1.0, res.Mass(), 1e-6)
	assert.False(t, res.Approximate)
}

func TestRank_MassConservation(t *testing.T) {
	tests := []struct {
		name  string
		seeds map[int64]float64
		want  float64
	}{
		{name: "single like", seeds: map[int64]float64{1: 3}, want: 1},
		{name: "two likes", seeds: map[int64]float64{1: 1, 4: 2}, want: 1},
		{name: "like and dislike", seeds: map[int64]float64{1: 1, 4: -1}, want: 0},
		{name: "isolated seed", seeds: map[int64]float64{5: 0.2}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, func(c *Config) { c.Tolerance = 1e-10; c.MaxIterations = 1000; c.WarmStart = false })
			res, err := e.Rank(context.Background(), chain(), tt.seeds)
			require.NoError(t, err)

			var signed float64
			for _, v := range res.Scores {
				signed += v
			}
			assert.InDelta(t, tt.want, signed, 1e-6, "signed mass equals the signed restart mass")

			var seedMass float64
			for _, v := range res.Seeds {
				seedMass += math.Abs(v)
			}
			assert.InDelta(t, 1.0, seedMass, 1e-12)
		})
	}
}

func TestRank_IsolatedSeedKeepsMass(t *testing.T) {
	e := newEngine(t, func(c *Config) { c.Tolerance = 1e-12; c.MaxIterations = 1000 })
	res, err := e.Rank(context.Background(), chain(), map[int64]float64{5: 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Score(5), 1e-9)
	assert.Zero(t, res.Score(1))
}

func TestRank_DislikePropagatesNegative(t *testing.T) {
	e := newEngine(t, nil)
	res, err := e.Rank(context.Background(), chain(), map[int64]float64{1: -1})
	require.NoError(t, err)

	assert.Less(t, res.Score(1), 0.0)
	assert.Less(t, res.Score(2), 0.0)
	assert.Less(t, res.Score(2), res.Score(3), "negative mass fades with distance")
	assert.Zero(t, res.Score(5))
}

func TestRank_NoSeeds(t *testing.T) {
	e := newEngine(t, nil)
	res, err := e.Rank(context.Background(), chain(), nil)
	require.NoError(t, err)
	assert.Len(t, res.Scores, 5)
	assert.Zero(t, res.Mass())
	assert.Zero(t, res.Iterations)
}

func TestRank_UnknownSeedsIgnored(t *testing.T) {
	e := newEngine(t, nil)
	res, err := e.Rank(context.Background(), chain(), map[int64]float64{1: 1, 99: 1, 42: math.NaN()})
	require.NoError(t, err)
	assert.Equal(t, []int64{42, 99}, res.Unknown)
	assert.InDelta(t, 1.0, res.Seeds[1], 1e-12)
}

func TestRank_IterationCapIsApproximate(t *testing.T) {
	e := newEngine(t, func(c *Config) { c.MaxIterations = 2; c.Tolerance = 1e-12; c.WarmStart = false })

	res, err := e.Rank(context.Background(), triangle(t), map[int64]float64{1: 1})
	require.NotNil(t, res)
	var warn *entity.ConvergenceWarning
	require.ErrorAs(t, err, &warn)
	assert.True(t, entity.IsRecoverable(err))
	assert.Equal(t, 2, warn.Iterations)
	assert.True(t, res.Approximate)
	assert.Greater(t, res.Score(1), res.Score(2))
}

func TestRank_Cancellation(t *testing.T) {
	e := newEngine(t, nil)
	snap := triangle(t)

	first, err := e.Rank(context.Background(), snap, map[int64]float64{1: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := e.Rank(ctx, snap, map[int64]float64{2: 1})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)

	// The previous solution is still cached.
	again, err := e.Rank(context.Background(), snap, map[int64]float64{1: 1})
	require.NoError(t, err)
	assert.Same(t, first, again)
}

func TestRank_WarmStart(t *testing.T) {
	snap := chain()
	seeds := map[int64]float64{1: 1}
	shifted := map[int64]float64{1: 1, 3: 0.01}

	cold := newEngine(t, func(c *Config) { c.WarmStart = false; c.Tolerance = 1e-9; c.MaxIterations = 1000 })
	coldRes, err := cold.Rank(context.Background(), snap, shifted)
	require.NoError(t, err)

	warm := newEngine(t, func(c *Config) { c.Tolerance = 1e-9; c.MaxIterations = 1000 })
	_, err = warm.Rank(context.Background(), snap, seeds)
	require.NoError(t, err)
	warmRes, err := warm.Rank(context.Background(), snap, shifted)
	require.NoError(t, err)

	assert.Less(t, warmRes.Iterations, coldRes.Iterations)
	for id, v := range coldRes.Scores {
		assert.InDelta(t, v, warmRes.Score(id), 1e-7, "entry %d", id)
	}

	// Same graph version and seeds: the cached result is returned as is.
	cached, err := warm.Rank(context.Background(), snap, shifted)
	require.NoError(t, err)
	assert.Same(t, warmRes, cached)
}

func TestRank_Reset(t *testing.T) {
	snap := chain()
	seeds := map[int64]float64{1: 1}

	e := newEngine(t, func(c *Config) { c.Tolerance = 1e-9; c.MaxIterations = 1000 })
	first, err := e.Rank(context.Background(), snap, seeds)
	require.NoError(t, err)

	e.Reset()
	again, err := e.Rank(context.Background(), snap, seeds)
	require.NoError(t, err)
	assert.NotSame(t, first, again, "cache must not survive a reset")
	assert.Equal(t, first.Iterations, again.Iterations, "cold start after reset")
	for id, v := range first.Scores {
		assert.InDelta(t, v, again.Score(id), 1e-9, "entry %d", id)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{name: "damping one", cfg: Config{Damping: 1, Tolerance: 1e-6, MaxIterations: 10}, field: "damping"},
		{name: "damping negative", cfg: Config{Damping: -0.1, Tolerance: 1e-6, MaxIterations: 10}, field: "damping"},
		{name: "zero tolerance", cfg: Config{Damping: 0.5, MaxIterations: 10}, field: "tolerance"},
		{name: "no iterations", cfg: Config{Damping: 0.5, Tolerance: 1e-6}, field: "max_iterations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			var cfgErr *entity.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestDecay(t *testing.T) {
	h := 24 * time.Hour
	assert.Equal(t, 1.0, Decay(0, h))
	assert.Equal(t, 1.0, Decay(-time.Hour, h), "future timestamps count as fresh")
	assert.InDelta(t, 0.5, Decay(h, h), 1e-12)
	assert.InDelta(t, 0.25, Decay(2*h, h), 1e-12)
	assert.Greater(t, Decay(1000*h, h), 0.0)
}

func TestSeeds(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := 24 * time.Hour

	seeds := Seeds([]entity.Interaction{
		{EntryID: 1, Kind: entity.Like, At: now},
		{EntryID: 2, Kind: entity.Like, At: now.Add(-2 * h)},
		{EntryID: 2, Kind: entity.Dislike, At: now.Add(-h)},
		{EntryID: 3, Kind: entity.Like, At: now.Add(-h)},
		{EntryID: 3, Kind: entity.Like, At: now.Add(-h)},
		{EntryID: 0, Kind: entity.Like, At: now},
	}, now, h)

	require.Len(t, seeds, 3)
	assert.InDelta(t, 1.0, seeds[1], 1e-12)
	assert.InDelta(t, -(0.25 + 0.5), seeds[2], 1e-12, "latest kind sets the sign, every timestamp adds magnitude")
	assert.InDelta(t, 1.0, seeds[3], 1e-12)
}
