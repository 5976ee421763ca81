package repository

import (
	"context"
	"time"

	"github.com/dysthesis/sift/internal/domain/entity"
)

// InteractionReader is the read-only view of user interactions the ranking
// engine consumes.
type InteractionReader interface {
	// ListInteractions returns interactions at or after since, oldest first.
	// A zero since returns the full history.
	ListInteractions(ctx context.Context, since time.Time) ([]entity.Interaction, error)
}

type InteractionRepository interface {
	InteractionReader
	Record(ctx context.Context, i entity.Interaction) error
}
