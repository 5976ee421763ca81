// Package rank computes personalized affinity scores by a random walk with
// restart over a similarity graph snapshot.
package rank

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dysthesis/sift/internal/domain/entity"
	"github.com/dysthesis/sift/internal/observability/metrics"
	"github.com/dysthesis/sift/internal/observability/tracing"
	"github.com/dysthesis/sift/internal/usecase/graph"
)

// Config holds the walk parameters.
type Config struct {
	// Damping is the share of mass diffused along edges per iteration.
	Damping float64
	// Tolerance is the L1 change below which the walk has converged.
	Tolerance float64
	// MaxIterations bounds a pass on disconnected or adversarial graphs.
	MaxIterations int
	// WarmStart starts each pass from the previous solution.
	WarmStart bool
}

// DefaultConfig returns damping 0.85, tolerance 1e-6 and a 100-iteration cap.
func DefaultConfig() Config {
	return Config{
		Damping:       0.85,
		Tolerance:     1e-6,
		MaxIterations: 100,
		WarmStart:     true,
	}
}

// Validate returns a *entity.ConfigurationError for out-of-range parameters.
func (c Config) Validate() error {
	if math.IsNaN(c.Damping) || c.Damping < 0 || c.Damping >= 1 {
		return &entity.ConfigurationError{Field: "damping", Message: fmt.Sprintf("must be in [0,1), got %v", c.Damping)}
	}
	if !(c.Tolerance > 0) {
		return &entity.ConfigurationError{Field: "tolerance", Message: fmt.Sprintf("must be positive, got %v", c.Tolerance)}
	}
	if c.MaxIterations <= 0 {
		return &entity.ConfigurationError{Field: "max_iterations", Message: fmt.Sprintf("must be positive, got %d", c.MaxIterations)}
	}
	return nil
}

// Result is the output of one ranking pass.
//
// A Result may be returned again from the engine's cache, so it is shared
// and must be treated as read-only; copy Scores before modifying it.
type Result struct {
	// Scores maps every entry in the snapshot to its signed affinity.
	Scores map[int64]float64
	// Seeds is the normalized restart vector actually used (Σ|r| = 1).
	Seeds map[int64]float64
	// Unknown lists seed ids absent from the snapshot; they were ignored.
	Unknown       []int64
	Iterations    int
	Residual      float64
	Approximate   bool
	GraphVersion  uint64
	SeedPrint     uint64
	vector        []float64
	snapshotOrder []int64
}

// Score returns the affinity of id, zero for unknown ids.
func (r *Result) Score(id int64) float64 { return r.Scores[id] }

// Mass returns Σ|score|.
func (r *Result) Mass() float64 {
	var m float64
	for _, v := range r.Scores {
		m += math.Abs(v)
	}
	return m
}

// Engine runs ranking passes and keeps the previous result for warm starts.
type Engine struct {
	cfg Config

	mu   sync.Mutex
	last *Result
}

// New validates cfg and returns an Engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Rank runs personalized PageRank over snap with the signed seed weights.
//
// The restart vector is the seeds normalized to Σ|r| = 1; disliked seeds
// carry negative mass through the same walk and scores are not clipped.
// Edge weights w ∈ [-1,1] become transition weights (1+w)/2, row-normalized;
// an entry with no usable edge keeps its mass through a self-loop.
//
// When the iteration cap is hit the best estimate is returned together with
// a *entity.ConvergenceWarning and Result.Approximate set. Cancelling ctx
// aborts the pass and discards the partial vector; the engine's previous
// result is kept for the next warm start.
func (e *Engine) Rank(ctx context.Context, snap *graph.Snapshot, seeds map[int64]float64) (res *Result, err error) {
	ctx, span := tracing.StartSpan(ctx, "rank.pass",
		attribute.Int("nodes", snap.Len()),
		attribute.Int("seeds", len(seeds)),
		attribute.Int64("graph_version", int64(snap.Version)),
	)
	start := time.Now()
	defer func() {
		outcome := "converged"
		iterations := 0
		switch {
		case res == nil:
			outcome = "cancelled"
		case res.Approximate:
			outcome = "approximate"
		}
		if res != nil {
			iterations = res.Iterations
			span.SetAttributes(attribute.Int("iterations", iterations), attribute.Float64("residual", res.Residual))
		}
		metrics.RecordRankPass(outcome, iterations, time.Since(start))
		tracing.EndSpan(span, err)
	}()

	n := snap.Len()
	restart := make([]float64, n)
	normSeeds := make(map[int64]float64, len(seeds))
	var unknown []int64
	var total float64
	for id, w := range seeds {
		if _, ok := snap.Index(id); !ok {
			unknown = append(unknown, id)
			continue
		}
		if math.IsNaN(w) || math.IsInf(w, 0) {
			unknown = append(unknown, id)
			continue
		}
		total += math.Abs(w)
	}
	slices.Sort(unknown)
	if total > 0 {
		for id, w := range seeds {
			if i, ok := snap.Index(id); ok && !math.IsNaN(w) && !math.IsInf(w, 0) && w != 0 {
				restart[i] = w / total
				normSeeds[id] = w / total
			}
		}
	}
	seedPrint := fingerprint(normSeeds)

	if cached := e.cached(snap.Version, seedPrint); cached != nil {
		return cached, nil
	}

	res = &Result{
		Seeds:         normSeeds,
		Unknown:       unknown,
		GraphVersion:  snap.Version,
		SeedPrint:     seedPrint,
		snapshotOrder: snap.IDs,
	}
	if total == 0 {
		res.vector = make([]float64, n)
		res.Scores = toMap(snap.IDs, res.vector)
		e.remember(res)
		return res, nil
	}

	rows := transition(snap)
	cur := e.initial(snap, restart)
	next := make([]float64, n)
	d := e.cfg.Damping

	converged := false
	for it := 1; it <= e.cfg.MaxIterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("rank pass cancelled at iteration %d: %w", it, err)
		}

		for i := range next {
			next[i] = (1 - d) * restart[i]
		}
		for j, row := range rows {
			if cur[j] == 0 {
				continue
			}
			mass := d * cur[j]
			if row == nil {
				next[j] += mass
				continue
			}
			for _, t := range row {
				next[t.to] += mass * t.p
			}
		}

		var delta float64
		for i := range next {
			delta += math.Abs(next[i] - cur[i])
		}
		cur, next = next, cur
		res.Iterations = it
		res.Residual = delta
		if delta < e.cfg.Tolerance {
			converged = true
			break
		}
	}

	res.vector = slices.Clone(cur)
	res.Scores = toMap(snap.IDs, res.vector)
	e.remember(res)

	if !converged {
		res.Approximate = true
		return res, &entity.ConvergenceWarning{
			Iterations: res.Iterations,
			Residual:   res.Residual,
			Tolerance:  e.cfg.Tolerance,
		}
	}
	return res, nil
}

type step struct {
	to int
	p  float64
}

// transition builds row-stochastic rows. A nil row means a self-loop.
func transition(snap *graph.Snapshot) [][]step {
	rows := make([][]step, snap.Len())
	for i := range rows {
		targets, weights := snap.Row(i)
		var sum float64
		for _, w := range weights {
			sum += (1 + w) / 2
		}
		if sum <= 0 {
			continue
		}
		row := make([]step, 0, len(targets))
		for k, t := range targets {
			if p := (1 + weights[k]) / 2; p > 0 {
				row = append(row, step{to: t, p: p / sum})
			}
		}
		rows[i] = row
	}
	return rows
}

// initial returns the previous solution mapped onto snap when warm starts
// are enabled, otherwise the restart vector.
func (e *Engine) initial(snap *graph.Snapshot, restart []float64) []float64 {
	start := slices.Clone(restart)
	if !e.cfg.WarmStart {
		return start
	}
	e.mu.Lock()
	last := e.last
	e.mu.Unlock()
	if last == nil {
		return start
	}
	warm := make([]float64, snap.Len())
	var nonZero bool
	for k, id := range last.snapshotOrder {
		if i, ok := snap.Index(id); ok {
			warm[i] = last.vector[k]
			nonZero = nonZero || warm[i] != 0
		}
	}
	if !nonZero {
		return start
	}
	return warm
}

func (e *Engine) cached(version, seedPrint uint64) *Result {
	if !e.cfg.WarmStart {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last != nil && !e.last.Approximate && e.last.GraphVersion == version && e.last.SeedPrint == seedPrint {
		return e.last
	}
	return nil
}

func (e *Engine) remember(r *Result) {
	e.mu.Lock()
	e.last = r
	e.mu.Unlock()
}

// Reset drops the warm-start state so the next pass starts cold.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.last = nil
	e.mu.Unlock()
}

func toMap(ids []int64, v []float64) map[int64]float64 {
	out := make(map[int64]float64, len(ids))
	for i, id := range ids {
		out[id] = v[i]
	}
	return out
}

// fingerprint hashes the normalized seed vector in id order.
func fingerprint(seeds map[int64]float64) uint64 {
	ids := make([]int64, 0, len(seeds))
	for id := range seeds {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	h := fnv.New64a()
	var buf [16]byte
	for _, id := range ids {
		binary.LittleEndian.PutUint64(buf[:8], uint64(id))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(seeds[id]))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}
