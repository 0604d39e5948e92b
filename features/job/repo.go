package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type Repository interface {
	Save(ctx context.Context, job *Job) error
	List(ctx context.Context) ([]Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const jobColumns = `id, run_id, source_id, handler, stage, payload, error, retries, created_at`

// Save inserts a failed run. A run that already failed before keeps a single
// row with its retry counter bumped.
func (r *PostgresRepo) Save(ctx context.Context, job *Job) error {
	query := `INSERT INTO failed_jobs (run_id, source_id, handler, stage, payload, error)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO UPDATE SET
			stage = EXCLUDED.stage,
			payload = EXCLUDED.payload,
			error = EXCLUDED.error,
			retries = failed_jobs.retries + 1
		RETURNING id, created_at, retries`
	err := r.db.QueryRowContext(ctx, query, job.RunID, job.SourceID, job.Handler, job.Stage, []byte(job.Payload), job.Error).
		Scan(&job.ID, &job.CreatedAt, &job.Retries)
	if err != nil {
		return fmt.Errorf("save failed job: %w", err)
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM failed_jobs ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM failed_jobs WHERE id = $1`
	j, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM failed_jobs WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM failed_jobs`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var j Job
	var payload []byte
	var stage sql.NullString
	if err := s.Scan(&j.ID, &j.RunID, &j.SourceID, &j.Handler, &stage, &payload, &j.Error, &j.Retries, &j.CreatedAt); err != nil {
		return nil, err
	}
	j.Stage = stage.String
	j.Payload = json.RawMessage(payload)
	return &j, nil
}
