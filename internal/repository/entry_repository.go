package repository

import (
	"context"

	"github.com/dysthesis/sift/internal/domain/entity"
)

type EntryRepository interface {
	// ListEmbedded returns every entry that has an embedding, ordered by id.
	ListEmbedded(ctx context.Context) ([]entity.Entry, error)
	// ListPending returns entries without an embedding, ordered by id.
	ListPending(ctx context.Context) ([]entity.Entry, error)
	Get(ctx context.Context, id int64) (*entity.Entry, error)
	// ExistsByURLBatch reports which of the given URLs are already stored.
	ExistsByURLBatch(ctx context.Context, urls []string) (map[string]bool, error)
	// Create inserts the entry and sets its ID.
	Create(ctx context.Context, entry *entity.Entry) error
	SaveEmbedding(ctx context.Context, id int64, vec []float32) error
	UpdateState(ctx context.Context, id int64, state entity.InteractionState) error
	Delete(ctx context.Context, id int64) error
}
