package graph

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/dysthesis/sift/internal/domain/entity"
	"github.com/dysthesis/sift/internal/observability/metrics"
)

// Snapshot is an immutable compressed-sparse-row copy of the graph taken at
// one version. Ranking passes iterate over a Snapshot so they never observe
// a graph being mutated.
type Snapshot struct {
	Version uint64
	// IDs lists entry ids in ascending order; position is the node index.
	IDs     []int64
	Offsets []int
	Targets []int
	Weights []float64

	pos map[int64]int
}

// Len returns the number of nodes.
func (s *Snapshot) Len() int { return len(s.IDs) }

// Index returns the node index of id.
func (s *Snapshot) Index(id int64) (int, bool) {
	i, ok := s.pos[id]
	return i, ok
}

// Row returns the neighbour indices and weights of node i.
func (s *Snapshot) Row(i int) ([]int, []float64) {
	lo, hi := s.Offsets[i], s.Offsets[i+1]
	return s.Targets[lo:hi], s.Weights[lo:hi]
}

// Degree returns the number of neighbours of node i.
func (s *Snapshot) Degree(i int) int { return s.Offsets[i+1] - s.Offsets[i] }

// Edges returns each undirected edge once with A < B, sorted.
func (s *Snapshot) Edges() []entity.Edge {
	var out []entity.Edge
	for i := range s.IDs {
		targets, weights := s.Row(i)
		for k, j := range targets {
			if s.IDs[i] < s.IDs[j] {
				out = append(out, entity.Edge{A: s.IDs[i], B: s.IDs[j], Weight: weights[k]})
			}
		}
	}
	slices.SortFunc(out, func(a, b entity.Edge) int {
		if a.A != b.A {
			return cmp.Compare(a.A, b.A)
		}
		return cmp.Compare(a.B, b.B)
	})
	return out
}

// CheckSymmetry verifies that every edge has an identically weighted
// reverse edge and that there are no self-loops.
func (s *Snapshot) CheckSymmetry() error {
	for i := range s.IDs {
		targets, weights := s.Row(i)
		for k, j := range targets {
			if i == j {
				return &entity.ConsistencyViolation{Check: "self-loop", A: s.IDs[i], B: s.IDs[i], Detail: "node links to itself"}
			}
			rt, rw := s.Row(j)
			found := false
			for m, back := range rt {
				if back == i {
					found = true
					if rw[m] != weights[k] {
						return &entity.ConsistencyViolation{
							Check:  "symmetry",
							A:      s.IDs[i],
							B:      s.IDs[j],
							Detail: fmt.Sprintf("weight %v differs from reverse weight %v", weights[k], rw[m]),
						}
					}
					break
				}
			}
			if !found {
				return &entity.ConsistencyViolation{Check: "symmetry", A: s.IDs[i], B: s.IDs[j], Detail: "reverse edge missing"}
			}
		}
	}
	return nil
}

// NewSnapshot builds a snapshot directly from an adjacency map. It does
// not check symmetry; callers that need the guarantee call CheckSymmetry.
func NewSnapshot(version uint64, adj map[int64][]Neighbor) *Snapshot {
	ids := make([]int64, 0, len(adj))
	for id := range adj {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	snap := &Snapshot{Version: version, IDs: ids, Offsets: make([]int, len(ids)+1), pos: make(map[int64]int, len(ids))}
	for p, id := range ids {
		snap.pos[id] = p
	}
	for p, id := range ids {
		for _, n := range adj[id] {
			if j, ok := snap.pos[n.ID]; ok {
				snap.Targets = append(snap.Targets, j)
				snap.Weights = append(snap.Weights, n.Weight)
			}
		}
		snap.Offsets[p+1] = len(snap.Targets)
	}
	return snap
}

// Snapshot returns an immutable copy of the current graph. Consecutive
// calls at the same version return the same *Snapshot. An asymmetric
// adjacency yields a *entity.ConsistencyViolation and no snapshot.
func (g *Graph) Snapshot() (*Snapshot, error) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	v := g.version.Load()
	g.snapMu.Lock()
	cached := g.snap
	g.snapMu.Unlock()
	if cached != nil && cached.Version == v {
		return cached, nil
	}

	snap := g.buildSnapshot(v)
	if err := snap.CheckSymmetry(); err != nil {
		metrics.RecordConsistencyViolation("symmetry")
		return nil, err
	}

	g.snapMu.Lock()
	g.snap = snap
	g.snapMu.Unlock()
	return snap, nil
}

// buildSnapshot copies adjacency into CSR form. Caller holds writeMu.
func (g *Graph) buildSnapshot(v uint64) *Snapshot {
	g.indexMu.RLock()
	ids := make([]int64, 0, len(g.index))
	for id := range g.index {
		ids = append(ids, id)
	}
	g.indexMu.RUnlock()
	slices.Sort(ids)

	snap := &Snapshot{
		Version: v,
		IDs:     ids,
		Offsets: make([]int, len(ids)+1),
		pos:     make(map[int64]int, len(ids)),
	}
	for p, id := range ids {
		snap.pos[id] = p
	}
	for p, id := range ids {
		i, _ := g.lookup(id)
		n := g.arena[i]
		for _, l := range n.adj {
			snap.Targets = append(snap.Targets, snap.pos[l.id])
			snap.Weights = append(snap.Weights, l.w)
		}
		snap.Offsets[p+1] = len(snap.Targets)
	}
	return snap
}

// CheckInvariants recomputes every node's top-k by brute force and
// verifies that the stored top-k lists, the reverse index and the mutual
// adjacency all agree with it. It is O(N²·D) and intended for tests and
// the worker's periodic self-check.
func (g *Graph) CheckInvariants() error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	for i, n := range g.arena {
		if n == nil || !g.live(i) {
			continue
		}
		want := g.bruteTopK(i)
		if len(want) != len(n.topK) {
			return &entity.ConsistencyViolation{
				Check:  "top-k",
				A:      n.id,
				B:      n.id,
				Detail: fmt.Sprintf("stored %d candidates, expected %d", len(n.topK), len(want)),
			}
		}
		for k := range want {
			if want[k].idx != n.topK[k].idx || math.Abs(want[k].sim-n.topK[k].sim) > 1e-12 {
				return &entity.ConsistencyViolation{
					Check:  "top-k",
					A:      n.id,
					B:      g.arena[n.topK[k].idx].id,
					Detail: fmt.Sprintf("candidate %d differs from brute force", k),
				}
			}
			if _, ok := g.arena[want[k].idx].rev[i]; !ok {
				return &entity.ConsistencyViolation{Check: "reverse-index", A: n.id, B: g.arena[want[k].idx].id, Detail: "holder missing from reverse index"}
			}
		}
		for h := range n.rev {
			if !slices.ContainsFunc(g.arena[h].topK, func(c candidate) bool { return c.idx == i }) {
				return &entity.ConsistencyViolation{Check: "reverse-index", A: n.id, B: g.arena[h].id, Detail: "stale reverse entry"}
			}
		}
		for _, l := range n.adj {
			if l.idx == i {
				return &entity.ConsistencyViolation{Check: "self-loop", A: n.id, B: n.id, Detail: "node links to itself"}
			}
			_, mine := n.rev[l.idx]
			theirs := slices.ContainsFunc(n.topK, func(c candidate) bool { return c.idx == l.idx })
			if !mine || !theirs {
				return &entity.ConsistencyViolation{Check: "mutual-knn", A: n.id, B: l.id, Detail: "edge without mutual membership"}
			}
		}
		mutual := 0
		for _, c := range n.topK {
			if _, ok := n.rev[c.idx]; ok {
				mutual++
			}
		}
		if mutual != len(n.adj) {
			return &entity.ConsistencyViolation{
				Check:  "mutual-knn",
				A:      n.id,
				B:      n.id,
				Detail: fmt.Sprintf("%d mutual pairs but %d edges", mutual, len(n.adj)),
			}
		}
	}

	snap := g.buildSnapshot(g.version.Load())
	return snap.CheckSymmetry()
}

func (g *Graph) bruteTopK(h int) []candidate {
	n := g.arena[h]
	if n.norm == 0 {
		return nil
	}
	var all []candidate
	for j, u := range g.arena {
		if j == h || u == nil || u.norm == 0 || !g.live(j) {
			continue
		}
		all = append(all, candidate{idx: j, sim: cosine(n.vec, n.norm, u.vec, u.norm)})
	}
	slices.SortFunc(all, func(a, b candidate) int {
		switch {
		case g.better(a, b):
			return -1
		case g.better(b, a):
			return 1
		}
		return 0
	})
	if len(all) > g.cfg.K {
		all = all[:g.cfg.K]
	}
	return all
}
