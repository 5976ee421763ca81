package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dysthesis/sift/internal/domain/entity"
	"github.com/dysthesis/sift/internal/repository"
)

type InteractionRepo struct{ db *sql.DB }

func NewInteractionRepo(db *sql.DB) repository.InteractionRepository {
	return &InteractionRepo{db: db}
}

// ListInteractions returns interactions at or after since, oldest first.
// A row with an unrecognised kind is returned with a zero Kind so the
// engine rejects it as a data error instead of failing the whole read.
func (repo *InteractionRepo) ListInteractions(ctx context.Context, since time.Time) ([]entity.Interaction, error) {
	const query = `
SELECT entry_id, kind, at
FROM interactions
WHERE at >= $1
ORDER BY at ASC, id ASC`
	rows, err := repo.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("ListInteractions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]entity.Interaction, 0, 64)
	for rows.Next() {
		var (
			i    entity.Interaction
			kind string
		)
		if err := rows.Scan(&i.EntryID, &kind, &i.At); err != nil {
			return nil, fmt.Errorf("ListInteractions: %w", err)
		}
		i.Kind, _ = entity.ParseInteractionKind(kind)
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListInteractions: %w", err)
	}
	return out, nil
}

func (repo *InteractionRepo) Record(ctx context.Context, i entity.Interaction) error {
	if err := i.Validate(); err != nil {
		return fmt.Errorf("Record: %w", err)
	}
	const query = `INSERT INTO interactions (entry_id, kind, at) VALUES ($1, $2, $3)`
	if _, err := repo.db.ExecContext(ctx, query, i.EntryID, i.Kind.String(), i.At); err != nil {
		return fmt.Errorf("Record: %w", err)
	}
	return nil
}
