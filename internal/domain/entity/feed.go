package entity

import (
	"fmt"
	"strings"
	"time"
)

// FeedState is the lifecycle state of a feed in the scheduler.
type FeedState int

const (
	FeedActive FeedState = iota
	FeedEphemeral
	FeedPruned
)

func (s FeedState) String() string {
	switch s {
	case FeedActive:
		return "active"
	case FeedEphemeral:
		return "ephemeral"
	case FeedPruned:
		return "pruned"
	default:
		return fmt.Sprintf("FeedState(%d)", int(s))
	}
}

// ParseFeedState is the inverse of FeedState.String.
func ParseFeedState(s string) (FeedState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "":
		return FeedActive, nil
	case "ephemeral":
		return FeedEphemeral, nil
	case "pruned":
		return FeedPruned, nil
	}
	return FeedActive, &ValidationError{Field: "state", Message: fmt.Sprintf("unknown feed state %q", s)}
}

// Schedulable reports whether feeds in this state are still fetched.
func (s FeedState) Schedulable() bool { return s != FeedPruned }

// Feed is a subscribed (or discovered) source together with the adaptive
// state the scheduler maintains for it.
type Feed struct {
	ID   int64
	URL  string
	Name string
	Tags []string

	State FeedState
	// EstimatedInterval is the EWMA of the inter-publication interval.
	// Zero means no estimate yet.
	EstimatedInterval time.Duration
	Quality           float64
	// Consistency is the variance of recent feed scores.
	Consistency    float64
	LastFetchedAt  *time.Time
	DiscoveredFrom *int64
}

// Validate validates the Feed entity fields.
func (f *Feed) Validate() error {
	if err := ValidateURL(f.URL); err != nil {
		return err
	}
	if f.EstimatedInterval < 0 {
		return &ValidationError{Field: "estimated_interval", Message: "must not be negative"}
	}
	f.Tags = NormalizeTags(f.Tags)
	return nil
}

// FeedTransition records a lifecycle change for persistence and audit.
type FeedTransition struct {
	FeedID    int64
	From      FeedState
	To        FeedState
	Epoch     uint64
	Score     float64
	Threshold float64
	Reason    string
	At        time.Time
}

func (t FeedTransition) String() string {
	return fmt.Sprintf("feed %d: %s -> %s at epoch %d (%s)", t.FeedID, t.From, t.To, t.Epoch, t.Reason)
}
