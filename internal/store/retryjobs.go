package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tournevent/shiprouter/internal/retryqueue"
)

// RetryJobStore is a retryqueue.Store over the retry_jobs table. Claiming is
// a conditional UPDATE so only one worker moves a job to processing.
type RetryJobStore struct {
	db *sql.DB
}

var _ retryqueue.Store = (*RetryJobStore)(nil)

const jobColumns = `id, type, payload, attempts, max_attempts, next_attempt_at, last_error, status, created_at, updated_at`

// Insert adds a job.
func (s *RetryJobStore) Insert(ctx context.Context, job *retryqueue.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retry_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Type, []byte(job.Payload), job.Attempts, job.MaxAttempts,
		utc(job.NextAttemptAt), job.LastError, string(job.Status), utc(job.CreatedAt), utc(job.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", retryqueue.ErrDuplicateJob, job.ID)
	}
	if err != nil {
		return fmt.Errorf("inserting retry job: %w", err)
	}
	return nil
}

// Due returns pending jobs whose next attempt is at or before now.
func (s *RetryJobStore) Due(ctx context.Context, now time.Time, limit int) ([]*retryqueue.Job, error) {
	return s.query(ctx, `
		SELECT `+jobColumns+` FROM retry_jobs
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY next_attempt_at, id
		LIMIT $2`, utc(now), limit)
}

// Claim moves a pending job to processing. It reports false when another
// worker claimed it first.
func (s *RetryJobStore) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE retry_jobs SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status = 'pending'`, id, utc(now))
	if err != nil {
		return false, fmt.Errorf("claiming retry job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming retry job: %w", err)
	}
	return n == 1, nil
}

// Update replaces the mutable fields of a job.
func (s *RetryJobStore) Update(ctx context.Context, job *retryqueue.Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE retry_jobs
		SET attempts = $2, next_attempt_at = $3, last_error = $4, status = $5, updated_at = $6
		WHERE id = $1`,
		job.ID, job.Attempts, utc(job.NextAttemptAt), job.LastError, string(job.Status), utc(job.UpdatedAt))
	if err != nil {
		return fmt.Errorf("updating retry job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", retryqueue.ErrJobNotFound, job.ID)
	}
	return nil
}

// Get returns a job by ID.
func (s *RetryJobStore) Get(ctx context.Context, id string) (*retryqueue.Job, error) {
	jobs, err := s.query(ctx, `SELECT `+jobColumns+` FROM retry_jobs WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: %s", retryqueue.ErrJobNotFound, id)
	}
	return jobs[0], nil
}

// List returns jobs oldest first, filtered by status when given.
func (s *RetryJobStore) List(ctx context.Context, status retryqueue.Status) ([]*retryqueue.Job, error) {
	return s.query(ctx, `
		SELECT `+jobColumns+` FROM retry_jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at, id`, string(status))
}

// RecoverProcessing returns jobs a crashed process left in processing to
// pending. It returns how many were reset.
func (s *RetryJobStore) RecoverProcessing(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE retry_jobs SET status = 'pending' WHERE status = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("recovering retry jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *RetryJobStore) query(ctx context.Context, q string, args ...any) ([]*retryqueue.Job, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying retry jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*retryqueue.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating retry jobs: %w", err)
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*retryqueue.Job, error) {
	var (
		job     retryqueue.Job
		payload []byte
		status  string
	)
	err := row.Scan(&job.ID, &job.Type, &payload, &job.Attempts, &job.MaxAttempts,
		&job.NextAttemptAt, &job.LastError, &status, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning retry job: %w", err)
	}
	job.Payload = payload
	job.Status = retryqueue.Status(status)
	job.NextAttemptAt = job.NextAttemptAt.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return &job, nil
}
