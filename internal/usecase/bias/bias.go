// Package bias combines graph affinity with tag overlap into final entry
// scores and aggregates entry scores into feed scores.
//
// For a candidate x and an interacted seed y with signed share
// s_y = r_y / Σ|r|, the attributable weight is
//
//	weight(x,y) = affinity(x) · s_y · W(x,y)
//
// where W(x,y) sums the tag weights of the tags x and y share. Attributing
// x's affinity to seed y by y's share of the seed mass is an approximation:
// exact attribution would need one walk per seed. The tag-bias term is
// B(x) = Σ_{y≠x} s_y·W(x,y); it is oriented by the sign of the affinity so
// that agreeing tags amplify either sign, squashed into (-1,1), and applied
// as a multiplier:
//
//	final(x) = affinity(x) · (1 + A/(1+|A|)),  A = sign(affinity)·B(x)
//
// The multiplier stays in (0,2): tags modulate graph affinity but can never
// flip or erase it.
package bias

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/dysthesis/sift/internal/domain/entity"
)

// Default feed aggregation parameters.
const (
	DefaultFeedTopK     = 10
	DefaultTrimFraction = 0.2
)

// Scorer holds the tag-weight table and feed aggregation settings.
type Scorer struct {
	weights  map[string]float64
	feedTopK int
	trim     float64
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithFeedTopK sets how many of a feed's best entries enter its score.
func WithFeedTopK(k int) Option {
	return func(s *Scorer) { s.feedTopK = k }
}

// WithTrimFraction sets the share trimmed from each end before averaging.
func WithTrimFraction(f float64) Option {
	return func(s *Scorer) { s.trim = f }
}

// New builds a Scorer. Tag names are normalized like entry tags; a
// non-positive or non-finite weight is a *entity.ConfigurationError.
func New(weights map[string]float64, opts ...Option) (*Scorer, error) {
	s := &Scorer{
		weights:  make(map[string]float64, len(weights)),
		feedTopK: DefaultFeedTopK,
		trim:     DefaultTrimFraction,
	}
	for tag, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w <= 0 {
			return nil, &entity.ConfigurationError{
				Field:   "tag_weights." + tag,
				Message: fmt.Sprintf("weight must be positive, got %v", w),
			}
		}
		norm := entity.NormalizeTags([]string{tag})
		if len(norm) == 0 {
			return nil, &entity.ConfigurationError{Field: "tag_weights", Message: "empty tag name"}
		}
		s.weights[norm[0]] = w
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.feedTopK <= 0 {
		return nil, &entity.ConfigurationError{Field: "feed_top_k", Message: fmt.Sprintf("must be positive, got %d", s.feedTopK)}
	}
	if math.IsNaN(s.trim) || s.trim < 0 || s.trim >= 0.5 {
		return nil, &entity.ConfigurationError{Field: "trim_fraction", Message: fmt.Sprintf("must be in [0,0.5), got %v", s.trim)}
	}
	return s, nil
}

// Weight returns the weight of tag, 1 when the table has no entry.
func (s *Scorer) Weight(tag string) float64 {
	if w, ok := s.weights[tag]; ok {
		return w
	}
	return 1
}

// Overlap sums the weights of tags present in both normalized, sorted sets.
func (s *Scorer) Overlap(a, b []string) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch c := cmp.Compare(a[i], b[j]); {
		case c == 0:
			sum += s.Weight(a[i])
			i++
			j++
		case c < 0:
			i++
		default:
			j++
		}
	}
	return sum
}

// Seed is an interacted entry with its signed share of the seed mass.
type Seed struct {
	ID    int64
	Share float64
	Tags  []string
}

// Shares normalizes signed seed weights to Σ|share| = 1, attaching tags.
// The result is ordered by id.
func Shares(seeds map[int64]float64, tags func(id int64) []string) []Seed {
	var total float64
	for _, w := range seeds {
		total += math.Abs(w)
	}
	if total == 0 {
		return nil
	}
	out := make([]Seed, 0, len(seeds))
	for id, w := range seeds {
		if w == 0 {
			continue
		}
		out = append(out, Seed{ID: id, Share: w / total, Tags: tags(id)})
	}
	slices.SortFunc(out, func(a, b Seed) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Contribution is the approximated part of x's score attributable to seed y.
func (s *Scorer) Contribution(x entity.Entry, affinity float64, y Seed) float64 {
	if x.ID == y.ID {
		return 0
	}
	return affinity * y.Share * s.Overlap(x.Tags, y.Tags)
}

// Term returns the raw tag-bias term B(x).
func (s *Scorer) Term(x entity.Entry, seeds []Seed) float64 {
	var b float64
	for _, y := range seeds {
		if y.ID == x.ID {
			continue
		}
		b += y.Share * s.Overlap(x.Tags, y.Tags)
	}
	return b
}

// Score returns the final score of x given its graph affinity.
func (s *Scorer) Score(x entity.Entry, affinity float64, seeds []Seed) float64 {
	if affinity == 0 {
		return 0
	}
	a := s.Term(x, seeds)
	if affinity < 0 {
		a = -a
	}
	return affinity * (1 + a/(1+math.Abs(a)))
}

// Input is everything Apply needs for one epoch.
type Input struct {
	Entries  []entity.Entry
	Affinity map[int64]float64
	Seeds    map[int64]float64
}

// Apply scores every entry in the input.
func (s *Scorer) Apply(in Input) map[int64]float64 {
	tags := make(map[int64][]string, len(in.Entries))
	for _, e := range in.Entries {
		tags[e.ID] = e.Tags
	}
	seeds := Shares(in.Seeds, func(id int64) []string { return tags[id] })

	out := make(map[int64]float64, len(in.Entries))
	for _, e := range in.Entries {
		out[e.ID] = s.Score(e, in.Affinity[e.ID], seeds)
	}
	return out
}

// FeedScore is the trimmed mean of a feed's top-K entry scores: the best K
// scores are kept, floor(n·trim) are dropped from each end, and the rest
// averaged. A feed with no scored entries scores 0.
func (s *Scorer) FeedScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sorted := slices.Clone(scores)
	slices.SortFunc(sorted, func(a, b float64) int { return cmp.Compare(b, a) })
	if len(sorted) > s.feedTopK {
		sorted = sorted[:s.feedTopK]
	}
	cut := int(math.Floor(float64(len(sorted)) * s.trim))
	kept := sorted[cut : len(sorted)-cut]

	var sum float64
	for _, v := range kept {
		sum += v
	}
	return sum / float64(len(kept))
}
