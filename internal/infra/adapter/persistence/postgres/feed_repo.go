package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dysthesis/sift/internal/domain/entity"
	"github.com/dysthesis/sift/internal/repository"
)

type FeedRepo struct{ db *sql.DB }

func NewFeedRepo(db *sql.DB) repository.FeedRepository {
	return &FeedRepo{db: db}
}

func (repo *FeedRepo) List(ctx context.Context) ([]entity.Feed, error) {
	const query = `
SELECT id, url, name, tags, state, estimated_interval, quality, consistency, last_fetched_at, discovered_from
FROM feeds
ORDER BY id ASC`
	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	feeds := make([]entity.Feed, 0, 50)
	for rows.Next() {
		var (
			f          entity.Feed
			tagsJSON   []byte
			state      string
			intervalNs int64
			lastFetch  sql.NullTime
			discovered sql.NullInt64
		)
		if err := rows.Scan(&f.ID, &f.URL, &f.Name, &tagsJSON, &state, &intervalNs,
			&f.Quality, &f.Consistency, &lastFetch, &discovered); err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		if len(tagsJSON) > 0 {
			if err := json.Unmarshal(tagsJSON, &f.Tags); err != nil {
				return nil, fmt.Errorf("List: unmarshal tags: %w", err)
			}
		}
		if f.State, err = entity.ParseFeedState(state); err != nil {
			return nil, fmt.Errorf("List: feed %d: %w", f.ID, err)
		}
		f.EstimatedInterval = time.Duration(intervalNs)
		if lastFetch.Valid {
			t := lastFetch.Time
			f.LastFetchedAt = &t
		}
		if discovered.Valid {
			id := discovered.Int64
			f.DiscoveredFrom = &id
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// Upsert writes the feed and its adaptive state, keyed by URL. The id is
// only used on insert; an existing row keeps its id, which is written back.
func (repo *FeedRepo) Upsert(ctx context.Context, f *entity.Feed) error {
	if f.ID <= 0 {
		return &entity.ValidationError{Field: "id", Message: "feed id must be assigned before persisting"}
	}
	tags, err := json.Marshal(tagsOrEmpty(f.Tags))
	if err != nil {
		return fmt.Errorf("Upsert: marshal tags: %w", err)
	}
	var lastFetch sql.NullTime
	if f.LastFetchedAt != nil {
		lastFetch = sql.NullTime{Time: *f.LastFetchedAt, Valid: true}
	}
	var discovered sql.NullInt64
	if f.DiscoveredFrom != nil {
		discovered = sql.NullInt64{Int64: *f.DiscoveredFrom, Valid: true}
	}
	const query = `
INSERT INTO feeds (id, url, name, tags, state, estimated_interval, quality, consistency, last_fetched_at, discovered_from)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (url)
DO UPDATE SET
	name = EXCLUDED.name,
	tags = EXCLUDED.tags,
	state = EXCLUDED.state,
	estimated_interval = EXCLUDED.estimated_interval,
	quality = EXCLUDED.quality,
	consistency = EXCLUDED.consistency,
	last_fetched_at = EXCLUDED.last_fetched_at
RETURNING id`
	err = repo.db.QueryRowContext(ctx, query,
		f.ID, f.URL, f.Name, tags, f.State.String(), int64(f.EstimatedInterval),
		f.Quality, f.Consistency, lastFetch, discovered,
	).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

func (repo *FeedRepo) RecordTransition(ctx context.Context, t entity.FeedTransition) error {
	const query = `
INSERT INTO feed_transitions (feed_id, from_state, to_state, epoch, score, threshold, reason, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := repo.db.ExecContext(ctx, query,
		t.FeedID, t.From.String(), t.To.String(), int64(t.Epoch), t.Score, t.Threshold, t.Reason, t.At,
	); err != nil {
		return fmt.Errorf("RecordTransition: %w", err)
	}
	return nil
}
