// Package graph maintains the mutual-k-nearest-neighbour similarity graph
// over entry embeddings.
//
// Nodes live in an arena and refer to each other by arena index. Writers
// (Upsert, Remove) are serialized by a single writer mutex; the adjacency
// lists readers see are guarded by sharded RWMutexes so concurrent
// Neighbors calls only contend with a writer touching the same shard.
package graph

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dysthesis/sift/internal/domain/entity"
	"github.com/dysthesis/sift/internal/observability/metrics"
)

// Config holds the graph parameters.
type Config struct {
	// K is the neighbourhood size of the mutual-kNN relation.
	K int
	// Dimension is the fixed embedding dimension D.
	Dimension int
	// Shards is the number of reader lock shards.
	Shards int
}

// DefaultConfig returns a configuration with K=10 and 16 lock shards.
// Dimension has no sensible default and must be set by the caller.
func DefaultConfig() Config {
	return Config{K: 10, Shards: 16}
}

// Validate returns a *entity.ConfigurationError for out-of-range parameters.
func (c Config) Validate() error {
	if c.K <= 0 {
		return &entity.ConfigurationError{Field: "k", Message: fmt.Sprintf("must be positive, got %d", c.K)}
	}
	if c.Dimension <= 0 {
		return &entity.ConfigurationError{Field: "dimension", Message: fmt.Sprintf("must be positive, got %d", c.Dimension)}
	}
	if c.Shards <= 0 {
		return &entity.ConfigurationError{Field: "shards", Message: fmt.Sprintf("must be positive, got %d", c.Shards)}
	}
	return nil
}

// Neighbor is one end of a mutual-kNN edge as seen from the other end.
type Neighbor struct {
	ID     int64
	Weight float64
}

// candidate is a directed top-k member: arena index plus similarity.
type candidate struct {
	idx int
	sim float64
}

// link is a materialised mutual edge.
type link struct {
	idx int
	id  int64
	w   float64
}

type node struct {
	id   int64
	vec  []float32
	norm float64

	// topK is sorted by similarity descending, ties by lower id.
	topK []candidate
	// rev holds the arena indices of nodes that have this node in their topK.
	rev map[int]struct{}

	// adj is the only field read outside the writer mutex; guarded by the shard lock.
	adj []link
}

type shard struct {
	mu sync.RWMutex
}

// Graph is the similarity graph. The zero value is not usable; call New.
type Graph struct {
	cfg Config

	writeMu sync.Mutex

	indexMu sync.RWMutex
	index   map[int64]int
	arena   []*node
	free    []int

	shards []shard

	version atomic.Uint64
	edges   int

	snapMu sync.Mutex
	snap   *Snapshot
}

// New creates an empty graph.
func New(cfg Config) (*Graph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Graph{
		cfg:    cfg,
		index:  make(map[int64]int),
		shards: make([]shard, cfg.Shards),
	}, nil
}

// Config returns the configuration the graph was built with.
func (g *Graph) Config() Config { return g.cfg }

// Version increases on every mutation that changed the graph.
func (g *Graph) Version() uint64 { return g.version.Load() }

// Len returns the number of entries in the graph.
func (g *Graph) Len() int {
	g.indexMu.RLock()
	defer g.indexMu.RUnlock()
	return len(g.index)
}

// Contains reports whether id currently participates in the graph.
func (g *Graph) Contains(id int64) bool {
	g.indexMu.RLock()
	defer g.indexMu.RUnlock()
	_, ok := g.index[id]
	return ok
}

// Neighbors returns the mutual-kNN neighbours of id ordered by weight
// descending, ties by lower id. Unknown ids have no neighbours.
func (g *Graph) Neighbors(id int64) []Neighbor {
	g.indexMu.RLock()
	i, ok := g.index[id]
	var n *node
	if ok {
		n = g.arena[i]
	}
	g.indexMu.RUnlock()
	if n == nil {
		return nil
	}

	s := g.shardFor(i)
	s.mu.RLock()
	out := make([]Neighbor, len(n.adj))
	for j, l := range n.adj {
		out[j] = Neighbor{ID: l.id, Weight: l.w}
	}
	s.mu.RUnlock()
	return out
}

// Upsert inserts or replaces the embedding of id and re-evaluates every
// neighbourhood the change can affect. It reports whether the graph changed.
//
// A vector of the wrong dimension is rejected with a *entity.DataError and
// the entry is taken out of the graph until a valid vector arrives.
// Re-upserting an identical vector is a no-op.
func (g *Graph) Upsert(id int64, vec []float32) (bool, error) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	if err := entity.ValidateEmbedding(id, vec, g.cfg.Dimension); err != nil {
		removed := false
		if i, ok := g.lookup(id); ok {
			g.commit(g.detach(i, true), i)
			removed = true
		}
		metrics.RecordGraphUpdate("upsert", "rejected", 0)
		return removed, err
	}

	dirty := make(map[int]struct{})
	i, exists := g.lookup(id)
	if exists {
		if slices.Equal(g.arena[i].vec, vec) {
			metrics.RecordGraphUpdate("upsert", "noop", 0)
			return false, nil
		}
		for k := range g.detach(i, false) {
			dirty[k] = struct{}{}
		}
		n := g.arena[i]
		n.vec = slices.Clone(vec)
		n.norm = norm(vec)
	} else {
		i = g.alloc(id, vec)
	}

	for k := range g.attach(i) {
		dirty[k] = struct{}{}
	}
	g.commit(dirty, -1)
	metrics.RecordGraphUpdate("upsert", "changed", len(dirty))
	return true, nil
}

// Remove deletes id and all incident edges. It reports whether id was present.
func (g *Graph) Remove(id int64) bool {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	i, ok := g.lookup(id)
	if !ok {
		return false
	}
	dirty := g.detach(i, true)
	g.commit(dirty, i)
	metrics.RecordGraphUpdate("remove", "changed", len(dirty))
	return true
}

// Edges returns every undirected edge once, with A < B, sorted by (A, B).
// It fails with the snapshot's *entity.ConsistencyViolation.
func (g *Graph) Edges() ([]entity.Edge, error) {
	snap, err := g.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Edges(), nil
}

func (g *Graph) lookup(id int64) (int, bool) {
	g.indexMu.RLock()
	defer g.indexMu.RUnlock()
	i, ok := g.index[id]
	return i, ok
}

func (g *Graph) shardFor(i int) *shard {
	return &g.shards[i%len(g.shards)]
}

func (g *Graph) alloc(id int64, vec []float32) int {
	n := &node{id: id, vec: slices.Clone(vec), norm: norm(vec), rev: make(map[int]struct{})}

	g.indexMu.Lock()
	defer g.indexMu.Unlock()
	var i int
	if len(g.free) > 0 {
		i = g.free[len(g.free)-1]
		g.free = g.free[:len(g.free)-1]
		g.arena[i] = n
	} else {
		i = len(g.arena)
		g.arena = append(g.arena, n)
	}
	g.index[id] = i
	return i
}

// detach removes node i from every top-k list, recomputing those lists
// from scratch, and clears i's own top-k. It returns the set of nodes whose
// mutual adjacency must be rebuilt. When drop is true i is also taken out
// of the index so later scans skip it.
func (g *Graph) detach(i int, drop bool) map[int]struct{} {
	n := g.arena[i]
	dirty := map[int]struct{}{i: {}}

	for _, c := range n.topK {
		delete(g.arena[c.idx].rev, i)
		dirty[c.idx] = struct{}{}
	}
	n.topK = nil

	if drop {
		g.indexMu.Lock()
		delete(g.index, n.id)
		g.indexMu.Unlock()
	}

	holders := make([]int, 0, len(n.rev))
	for h := range n.rev {
		holders = append(holders, h)
	}
	slices.Sort(holders)
	n.rev = make(map[int]struct{})

	for _, h := range holders {
		g.rescan(h, i)
		dirty[h] = struct{}{}
		for _, c := range g.arena[h].topK {
			dirty[c.idx] = struct{}{}
		}
	}
	return dirty
}

// attach computes i's own top-k and offers i to every other node's top-k.
func (g *Graph) attach(i int) map[int]struct{} {
	dirty := map[int]struct{}{i: {}}
	g.rescan(i, -1)
	for _, c := range g.arena[i].topK {
		dirty[c.idx] = struct{}{}
	}

	n := g.arena[i]
	if n.norm == 0 {
		return dirty
	}
	for j, u := range g.arena {
		if u == nil || j == i || !g.live(j) || u.norm == 0 {
			continue
		}
		sim := cosine(u.vec, u.norm, n.vec, n.norm)
		evicted, inserted := g.offer(j, candidate{idx: i, sim: sim})
		if !inserted {
			continue
		}
		dirty[j] = struct{}{}
		if evicted >= 0 {
			dirty[evicted] = struct{}{}
		}
	}
	return dirty
}

// live reports whether arena slot j holds an indexed node.
func (g *Graph) live(j int) bool {
	n := g.arena[j]
	if n == nil {
		return false
	}
	idx, ok := g.lookup(n.id)
	return ok && idx == j
}

// rescan recomputes the top-k of node h by scanning every live node,
// ignoring skip.
func (g *Graph) rescan(h, skip int) {
	n := g.arena[h]
	for _, c := range n.topK {
		delete(g.arena[c.idx].rev, h)
	}
	n.topK = n.topK[:0]
	if n.norm == 0 {
		return
	}

	for j, u := range g.arena {
		if j == h || j == skip || u == nil || u.norm == 0 || !g.live(j) {
			continue
		}
		g.offer(h, candidate{idx: j, sim: cosine(n.vec, n.norm, u.vec, u.norm)})
	}
}

// offer inserts c into h's top-k if it qualifies. It returns the evicted
// arena index (or -1) and whether c was inserted.
func (g *Graph) offer(h int, c candidate) (int, bool) {
	n := g.arena[h]
	k := g.cfg.K
	if len(n.topK) == k && !g.better(c, n.topK[k-1]) {
		return -1, false
	}

	pos, _ := slices.BinarySearchFunc(n.topK, c, func(a, b candidate) int {
		switch {
		case g.better(a, b):
			return -1
		case g.better(b, a):
			return 1
		}
		return 0
	})
	n.topK = slices.Insert(n.topK, pos, c)
	g.arena[c.idx].rev[h] = struct{}{}

	evicted := -1
	if len(n.topK) > k {
		last := n.topK[k]
		n.topK = n.topK[:k]
		delete(g.arena[last.idx].rev, h)
		evicted = last.idx
	}
	return evicted, true
}

// better orders candidates by similarity, ties broken by lower entry id.
func (g *Graph) better(a, b candidate) bool {
	if a.sim != b.sim {
		return a.sim > b.sim
	}
	return g.arena[a.idx].id < g.arena[b.idx].id
}

// commit rebuilds the mutual adjacency of every dirty node, frees the
// removed slot if any, and bumps the version.
func (g *Graph) commit(dirty map[int]struct{}, removed int) {
	ordered := make([]int, 0, len(dirty))
	for i := range dirty {
		ordered = append(ordered, i)
	}
	slices.Sort(ordered)

	for _, i := range ordered {
		n := g.arena[i]
		var adj []link
		if i != removed {
			for _, c := range n.topK {
				if _, mutual := n.rev[c.idx]; mutual {
					adj = append(adj, link{idx: c.idx, id: g.arena[c.idx].id, w: c.sim})
				}
			}
		}
		s := g.shardFor(i)
		s.mu.Lock()
		g.edges += len(adj) - len(n.adj)
		n.adj = adj
		s.mu.Unlock()
	}

	if removed >= 0 {
		g.indexMu.Lock()
		g.arena[removed] = nil
		g.free = append(g.free, removed)
		g.indexMu.Unlock()
	}

	g.version.Add(1)
	metrics.UpdateGraphSize(g.Len(), g.edges/2)
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// cosine returns the cosine similarity clamped to [-1, 1].
// Both norms must be non-zero.
func cosine(a []float32, na float64, b []float32, nb float64) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return max(-1, min(1, dot/(na*nb)))
}

// Cosine is the similarity measure used for edge weights. It returns
// ok=false when either vector has zero norm, which never forms an edge.
func Cosine(a, b []float32) (float64, bool) {
	if len(a) != len(b) {
		return 0, false
	}
	na, nb := norm(a), norm(b)
	if na == 0 || nb == 0 {
		return -1, false
	}
	return cosine(a, na, b, nb), true
}
