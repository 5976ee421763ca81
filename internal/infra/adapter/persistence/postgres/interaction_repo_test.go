package postgres_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dysthesis/sift/internal/domain/entity"
	"github.com/dysthesis/sift/internal/infra/adapter/persistence/postgres"
)

func TestInteractionRepo_ListInteractions(t *testing.T) {
	db, mock := newMock(t)
	since := fetched.Add(-24 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE at >= $1`)).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"entry_id", "kind", "at"}).
			AddRow(int64(1), "like", fetched.Add(-time.Hour)).
			AddRow(int64(2), "bookmark", fetched))

	got, err := postgres.NewInteractionRepo(db).ListInteractions(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, entity.Like, got[0].Kind)
	assert.Equal(t, entity.InteractionKind(0), got[1].Kind)
	assert.ErrorIs(t, got[1].Validate(), entity.ErrInvalidData)
}

func TestInteractionRepo_Record(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO interactions`)).
		WithArgs(int64(5), "dislike", fetched).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := postgres.NewInteractionRepo(db)
	require.NoError(t, repo.Record(context.Background(), entity.Interaction{EntryID: 5, Kind: entity.Dislike, At: fetched}))

	err := repo.Record(context.Background(), entity.Interaction{EntryID: 5, At: fetched})
	assert.ErrorIs(t, err, entity.ErrInvalidData)
}
