package job

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pvcarvalho/avaria-api/internal/apperror"
	domain "github.com/pvcarvalho/avaria-api/internal/job"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, j *domain.Job) error {
	const query = `INSERT INTO jobs (id, status, error, total_items, processed_items, failed_items, tokens_used, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		j.ID, string(j.Status), j.Error, j.TotalItems, j.ProcessedItems,
		j.FailedItems, j.TokensUsed,
		j.CreatedAt.UTC().Format(time.RFC3339), j.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, j *domain.Job) error {
	const query = `UPDATE jobs SET status = ?, error = ?, processed_items = ?, failed_items = ?, tokens_used = ?, updated_at = ?
		WHERE id = ?`

	_, err := r.db.ExecContext(ctx, query,
		string(j.Status), j.Error, j.ProcessedItems, j.FailedItems,
		j.TokensUsed, j.UpdatedAt.UTC().Format(time.RFC3339), j.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Job, error) {
	const query = `SELECT id, status, error, total_items, processed_items, failed_items, tokens_used, created_at, updated_at
		FROM jobs WHERE id = ?`

	j, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperror.New(apperror.NotFound, "job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (r *Repository) List(ctx context.Context, limit int) ([]domain.Job, error) {
	const query = `SELECT id, status, error, total_items, processed_items, failed_items, tokens_used, created_at, updated_at
		FROM jobs ORDER BY created_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(s rowScanner) (*domain.Job, error) {
	var j domain.Job
	var status string
	var errText sql.NullString
	var created, updated string
	if err := s.Scan(&j.ID, &status, &errText, &j.TotalItems, &j.ProcessedItems,
		&j.FailedItems, &j.TokensUsed, &created, &updated); err != nil {
		return nil, err
	}
	j.Status = domain.Status(status)
	j.Error = errText.String
	j.CreatedAt, _ = time.Parse(time.RFC3339, created)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &j, nil
}
