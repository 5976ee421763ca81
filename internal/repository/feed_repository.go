package repository

import (
	"context"

	"github.com/dysthesis/sift/internal/domain/entity"
)

type FeedRepository interface {
	List(ctx context.Context) ([]entity.Feed, error)
	FeedStateStore
}

// FeedStateStore persists feed lifecycle changes: the audit row and the
// state the feed is left in.
type FeedStateStore interface {
	// Upsert inserts the feed or updates its adaptive state, keyed by URL.
	// The stored ID is written back to feed.
	Upsert(ctx context.Context, feed *entity.Feed) error
	TransitionRecorder
}

// TransitionRecorder persists feed lifecycle transitions for audit.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, t entity.FeedTransition) error
}
