package scoring

import (
	"cmp"
	"slices"
	"time"

	"github.com/dysthesis/sift/internal/domain/entity"
)

// State is the published result of one recompute epoch. It is never
// mutated after publication; readers may hold it for as long as they like.
type State struct {
	Epoch        uint64
	RunID        string
	GraphVersion uint64
	ComputedAt   time.Time
	// Approximate is set when the ranking pass hit its iteration cap.
	Approximate bool

	// Affinity is the signed personalized-rank score of every entry.
	Affinity map[int64]float64
	// Scores is the final per-entry score after tag bias.
	Scores map[int64]float64
	// FeedScores holds the score of every feed with at least one entry.
	FeedScores map[int64]float64
	// Transitions are the feed lifecycle changes this epoch caused.
	Transitions []entity.FeedTransition

	feedOf map[int64]int64
}

// ScoredEntry is one row of a ranked listing.
type ScoredEntry struct {
	EntryID int64
	FeedID  int64
	Score   float64
}

// EntryScore returns the final score of an entry.
func (s *State) EntryScore(id int64) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s.Scores[id]
	return v, ok
}

// FeedScore returns the score of a feed.
func (s *State) FeedScore(id int64) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s.FeedScores[id]
	return v, ok
}

// Ranked returns entries ordered by descending score, ties by ascending id.
// A non-positive limit returns every entry.
func (s *State) Ranked(limit int) []ScoredEntry {
	if s == nil {
		return nil
	}
	out := make([]ScoredEntry, 0, len(s.Scores))
	for id, v := range s.Scores {
		out = append(out, ScoredEntry{EntryID: id, FeedID: s.feedOf[id], Score: v})
	}
	slices.SortFunc(out, func(a, b ScoredEntry) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.EntryID, b.EntryID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
