package entity

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// InteractionState is the latest user signal recorded against an entry.
type InteractionState int

const (
	StateNone InteractionState = iota
	StateLiked
	StateDisliked
	StateRead
)

func (s InteractionState) String() string {
	switch s {
	case StateLiked:
		return "liked"
	case StateDisliked:
		return "disliked"
	case StateRead:
		return "read"
	default:
		return "none"
	}
}

// ParseInteractionState is the inverse of InteractionState.String.
func ParseInteractionState(s string) (InteractionState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return StateNone, nil
	case "liked":
		return StateLiked, nil
	case "disliked":
		return StateDisliked, nil
	case "read":
		return StateRead, nil
	}
	return StateNone, &ValidationError{Field: "state", Message: fmt.Sprintf("unknown interaction state %q", s)}
}

// Entry is a single item published by a feed. Content and embedding are
// immutable once embedded; scores are always derived and never stored here.
type Entry struct {
	ID          int64
	FeedID      int64
	URL         string
	Title       string
	Content     string
	Embedding   []float32
	Tags        []string
	PublishedAt time.Time
	FetchedAt   time.Time
	State       InteractionState
}

// Validate checks the entry against the engine's embedding dimension.
// Tags are normalised in place.
func (e *Entry) Validate(dim int) error {
	if e.ID <= 0 {
		return &DataError{EntryID: e.ID, Field: "id", Message: "must be positive"}
	}
	if err := ValidateEmbedding(e.ID, e.Embedding, dim); err != nil {
		return err
	}
	e.Tags = NormalizeTags(e.Tags)
	return nil
}

// ValidateEmbedding rejects missing, wrongly sized or non-finite vectors.
func ValidateEmbedding(id int64, vec []float32, dim int) error {
	if len(vec) == 0 {
		return &DataError{EntryID: id, Field: "embedding", Message: "missing embedding"}
	}
	if len(vec) != dim {
		return &DataError{
			EntryID: id,
			Field:   "embedding",
			Message: fmt.Sprintf("dimension mismatch: got %d, want %d", len(vec), dim),
		}
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &DataError{
				EntryID: id,
				Field:   "embedding",
				Message: fmt.Sprintf("non-finite component at index %d", i),
			}
		}
	}
	return nil
}
