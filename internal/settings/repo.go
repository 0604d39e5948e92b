package settings

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context) (*Settings, error) {
	s := &Settings{}
	query := `SELECT id, gemini_api_key, flush_chunk_size, summary_model, embedding_model FROM settings WHERE id = 1`
	err := r.db.QueryRowContext(ctx, query).Scan(&s.ID, &s.GeminiAPIKey, &s.FlushChunkSize, &s.SummaryModel, &s.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepo) Update(ctx context.Context, s *Settings) error {
	query := `
		UPDATE settings
		SET gemini_api_key = $1, flush_chunk_size = $2, summary_model = $3, embedding_model = $4, updated_at = NOW()
		WHERE id = 1
	`
	_, err := r.db.ExecContext(ctx, query, s.GeminiAPIKey, s.FlushChunkSize, s.SummaryModel, s.EmbeddingModel)
	return err
}

// SeedAPIKey stores key only when no key has been configured yet.
func (r *PostgresRepo) SeedAPIKey(ctx context.Context, key string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE settings SET gemini_api_key = $1 WHERE id = 1 AND gemini_api_key = ''`, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
