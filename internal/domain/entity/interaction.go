package entity

import (
	"fmt"
	"strings"
	"time"
)

// InteractionKind is an explicit user signal.
type InteractionKind int

const (
	Like InteractionKind = iota + 1
	Dislike
)

func (k InteractionKind) String() string {
	switch k {
	case Like:
		return "like"
	case Dislike:
		return "dislike"
	default:
		return fmt.Sprintf("InteractionKind(%d)", int(k))
	}
}

// Sign is +1 for likes and -1 for dislikes.
func (k InteractionKind) Sign() float64 {
	if k == Dislike {
		return -1
	}
	return 1
}

// ParseInteractionKind accepts "like" and "dislike" in any case.
func ParseInteractionKind(s string) (InteractionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "like":
		return Like, nil
	case "dislike":
		return Dislike, nil
	}
	return 0, &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown interaction kind %q", s)}
}

// Interaction is an append-only like/dislike event.
type Interaction struct {
	EntryID int64
	Kind    InteractionKind
	At      time.Time
}

// Validate validates the Interaction fields.
func (i Interaction) Validate() error {
	if i.EntryID <= 0 {
		return &DataError{EntryID: i.EntryID, Field: "entry_id", Message: "must be positive"}
	}
	if i.Kind != Like && i.Kind != Dislike {
		return &DataError{EntryID: i.EntryID, Field: "kind", Message: "must be like or dislike"}
	}
	if i.At.IsZero() {
		return &DataError{EntryID: i.EntryID, Field: "at", Message: "timestamp is required"}
	}
	return nil
}

// Edge is an undirected mutual-kNN edge. A is always the lower id.
type Edge struct {
	A, B   int64
	Weight float64
}
