package settings_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbingest/internal/settings"
)

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := settings.NewPostgresRepo(db)

	t.Run("Success", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "gemini_api_key", "flush_chunk_size", "summary_model", "embedding_model"}).
			AddRow(1, "key", 100, "gemini-2.0-flash", "")

		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, gemini_api_key, flush_chunk_size, summary_model, embedding_model FROM settings WHERE id = 1")).
			WillReturnRows(rows)

		s, err := repo.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "key", s.GeminiAPIKey)
		assert.Equal(t, 100, s.FlushChunkSize)
		assert.Equal(t, "gemini-2.0-flash", s.SummaryModel)
	})

	t.Run("Error", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id")).
			WillReturnError(sqlmock.ErrCancelled)

		s, err := repo.Get(context.Background())
		assert.Error(t, err)
		assert.Nil(t, s)
	})
}

func TestPostgresRepo_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := settings.NewPostgresRepo(db)
	s := &settings.Settings{GeminiAPIKey: "k2", FlushChunkSize: 50, SummaryModel: "m1", EmbeddingModel: "m2"}

	mock.ExpectExec(regexp.QuoteMeta("SET gemini_api_key = $1, flush_chunk_size = $2, summary_model = $3, embedding_model = $4, updated_at = NOW()")).
		WithArgs("k2", 50, "m1", "m2").
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, repo.Update(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_SeedAPIKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := settings.NewPostgresRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE settings SET gemini_api_key = $1 WHERE id = 1 AND gemini_api_key = ''")).
		WithArgs("env-key").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE settings SET gemini_api_key = $1")).
		WithArgs("env-key").
		WillReturnResult(sqlmock.NewResult(0, 0))

	seeded, err := repo.SeedAPIKey(context.Background(), "env-key")
	require.NoError(t, err)
	assert.True(t, seeded)

	seeded, err = repo.SeedAPIKey(context.Background(), "env-key")
	require.NoError(t, err)
	assert.False(t, seeded)
}
