package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/dysthesis/sift/internal/domain/entity"
	"github.com/dysthesis/sift/internal/repository"
)

type EntryRepo struct{ db *sql.DB }

func NewEntryRepo(db *sql.DB) repository.EntryRepository {
	return &EntryRepo{db: db}
}

const entryColumns = `id, feed_id, url, title, content, tags, embedding, state, published_at, fetched_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (entity.Entry, error) {
	var (
		e         entity.Entry
		tagsJSON  []byte
		vec       pgvector.Vector
		embedded  sql.NullString
		state     string
		published sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.FeedID, &e.URL, &e.Title, &e.Content, &tagsJSON,
		&embedded, &state, &published, &e.FetchedAt); err != nil {
		return e, err
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &e.Tags); err != nil {
			return e, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if embedded.Valid {
		if err := vec.Scan(embedded.String); err != nil {
			return e, fmt.Errorf("scan embedding: %w", err)
		}
		e.Embedding = vec.Slice()
	}
	s, err := entity.ParseInteractionState(state)
	if err != nil {
		return e, err
	}
	e.State = s
	if published.Valid {
		e.PublishedAt = published.Time
	}
	return e, nil
}

// ListEmbedded returns every entry with an embedding, ordered by id.
func (repo *EntryRepo) ListEmbedded(ctx context.Context) ([]entity.Entry, error) {
	return repo.list(ctx, "ListEmbedded", "embedding IS NOT NULL")
}

// ListPending returns entries still waiting for their page to be fetched.
func (repo *EntryRepo) ListPending(ctx context.Context) ([]entity.Entry, error) {
	return repo.list(ctx, "ListPending", "embedding IS NULL")
}

func (repo *EntryRepo) list(ctx context.Context, op, where string) ([]entity.Entry, error) {
	query := `
SELECT ` + entryColumns + `
FROM entries
WHERE ` + where + `
ORDER BY id ASC`
	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]entity.Entry, 0, 256)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return entries, nil
}

func (repo *EntryRepo) Get(ctx context.Context, id int64) (*entity.Entry, error) {
	const query = `
SELECT ` + entryColumns + `
FROM entries
WHERE id = $1
LIMIT 1`
	e, err := scanEntry(repo.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Get entry %d: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &e, nil
}

// ExistsByURLBatch checks many URLs in one round trip.
func (repo *EntryRepo) ExistsByURLBatch(ctx context.Context, urls []string) (map[string]bool, error) {
	result := make(map[string]bool, len(urls))
	if len(urls) == 0 {
		return result, nil
	}
	const query = `SELECT url FROM entries WHERE url = ANY($1)`
	rows, err := repo.db.QueryContext(ctx, query, urls)
	if err != nil {
		return nil, fmt.Errorf("ExistsByURLBatch: QueryContext: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("ExistsByURLBatch: Scan: %w", err)
		}
		result[url] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ExistsByURLBatch: rows.Err: %w", err)
	}
	return result, nil
}

func (repo *EntryRepo) Create(ctx context.Context, e *entity.Entry) error {
	tags, err := json.Marshal(tagsOrEmpty(e.Tags))
	if err != nil {
		return fmt.Errorf("Create: marshal tags: %w", err)
	}
	var published sql.NullTime
	if !e.PublishedAt.IsZero() {
		published = sql.NullTime{Time: e.PublishedAt, Valid: true}
	}
	const query = `
INSERT INTO entries (feed_id, url, title, content, tags, embedding, state, published_at, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`
	err = repo.db.QueryRowContext(ctx, query,
		e.FeedID, e.URL, e.Title, e.Content, tags, vectorArg(e.Embedding),
		e.State.String(), published, e.FetchedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (repo *EntryRepo) SaveEmbedding(ctx context.Context, id int64, vec []float32) error {
	if len(vec) == 0 {
		return &entity.DataError{EntryID: id, Field: "embedding", Message: "missing embedding"}
	}
	const query = `UPDATE entries SET embedding = $2 WHERE id = $1`
	return repo.execOne(ctx, "SaveEmbedding", id, query, id, pgvector.NewVector(vec))
}

func (repo *EntryRepo) UpdateState(ctx context.Context, id int64, state entity.InteractionState) error {
	const query = `UPDATE entries SET state = $2 WHERE id = $1`
	return repo.execOne(ctx, "UpdateState", id, query, id, state.String())
}

func (repo *EntryRepo) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM entries WHERE id = $1`
	return repo.execOne(ctx, "Delete", id, query, id)
}

func (repo *EntryRepo) execOne(ctx context.Context, op string, id int64, query string, args ...any) error {
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s entry %d: %w", op, id, entity.ErrNotFound)
	}
	return nil
}

func vectorArg(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	return pgvector.NewVector(vec)
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
