package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wsn-portal/provisioning-server/internal/models"
)

const jobColumns = `id, created_at, updated_at, type, state, payload,
	attempts, max_attempts, next_run_at, last_error`

// EnqueueJob persists a new job in the waiting state
func (s *PostgresStore) EnqueueJob(ctx context.Context, job *models.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.State = models.JobStateWaiting
	if job.NextRunAt.IsZero() {
		job.NextRunAt = now
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 5
	}

	query := `
        INSERT INTO provisioning_jobs (
            id, created_at, updated_at, type, state, payload,
            attempts, max_attempts, next_run_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.getDB().ExecContext(ctx, query,
		job.ID, job.CreatedAt, job.UpdatedAt, job.Type, job.State,
		job.Payload, job.Attempts, job.MaxAttempts, job.NextRunAt,
	)
	return err
}

// scanJob scans a job row
func scanJob(row interface {
	Scan(dest ...interface{}) error
}) (*models.Job, error) {
	job := &models.Job{}
	err := row.Scan(
		&job.ID, &job.CreatedAt, &job.UpdatedAt, &job.Type, &job.State,
		&job.Payload, &job.Attempts, &job.MaxAttempts, &job.NextRunAt,
		&job.LastError,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimDueJob atomically claims the oldest due waiting job and marks it
// active. Returns ErrNotFound when nothing is due. SKIP LOCKED keeps
// concurrent claimers from double-delivering a job.
func (s *PostgresStore) ClaimDueJob(ctx context.Context) (*models.Job, error) {
	query := `
        UPDATE provisioning_jobs SET
            state = 'active',
            attempts = attempts + 1,
            updated_at = NOW()
        WHERE id = (
            SELECT id FROM provisioning_jobs
            WHERE state = 'waiting' AND next_run_at <= NOW()
            ORDER BY next_run_at
            LIMIT 1
            FOR UPDATE SKIP LOCKED
        )
        RETURNING ` + jobColumns

	return scanJob(s.getDB().QueryRowContext(ctx, query))
}

// ResetStalledJobs returns jobs stuck in the active state to waiting
// so they run again immediately. The worker calls this once at
// startup: with a single consumer, an active row at boot can only mean
// a previous process died before writing a terminal state.
func (s *PostgresStore) ResetStalledJobs(ctx context.Context) (int64, error) {
	query := `
        UPDATE provisioning_jobs SET
            state = 'waiting',
            next_run_at = NOW(),
            updated_at = NOW()
        WHERE state = 'active'`

	result, err := s.getDB().ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CompleteJob removes a finished job, mirroring a
// remove-on-complete queue policy. Job outcomes live on in the event
// log, not on the deleted row.
func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID) error {
	_, err := s.getDB().ExecContext(ctx,
		`DELETE FROM provisioning_jobs WHERE id = $1`, id)
	return err
}

// RescheduleJob returns a failed job to the waiting state with a
// delayed next run
func (s *PostgresStore) RescheduleJob(ctx context.Context, job *models.Job, errMsg string) error {
	query := `
        UPDATE provisioning_jobs SET
            state = 'waiting',
            next_run_at = $2,
            last_error = $3,
            updated_at = NOW()
        WHERE id = $1`

	_, err := s.getDB().ExecContext(ctx, query, job.ID, job.NextRunAt, errMsg)
	return err
}

// FailJob marks a job as permanently failed. Failed jobs are retained
// for inspection.
func (s *PostgresStore) FailJob(ctx context.Context, job *models.Job, errMsg string) error {
	query := `
        UPDATE provisioning_jobs SET
            state = 'failed',
            last_error = $2,
            updated_at = NOW()
        WHERE id = $1`

	_, err := s.getDB().ExecContext(ctx, query, job.ID, errMsg)
	return err
}

// GetJob gets a job by id
func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM provisioning_jobs WHERE id = $1`
	return scanJob(s.getDB().QueryRowContext(ctx, query, id))
}

// ListJobs lists jobs, optionally filtered by state
func (s *PostgresStore) ListJobs(ctx context.Context, state *models.JobState, limit, offset int) ([]*models.Job, int64, error) {
	countQuery := `SELECT COUNT(*) FROM provisioning_jobs`
	listQuery := `SELECT ` + jobColumns + ` FROM provisioning_jobs`
	args := []interface{}{}

	if state != nil {
		countQuery += ` WHERE state = $1`
		listQuery += ` WHERE state = $1`
		args = append(args, *state)
	}

	var total int64
	if err := s.getDB().QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}

	return jobs, total, rows.Err()
}

// HasPendingJob reports whether a waiting or active job of the given
// type exists. The scheduler uses this to avoid piling up full-sync
// jobs while the device is unreachable.
func (s *PostgresStore) HasPendingJob(ctx context.Context, jobType models.JobType) (bool, error) {
	query := `
        SELECT EXISTS (
            SELECT 1 FROM provisioning_jobs
            WHERE type = $1 AND state IN ('waiting', 'active')
        )`

	var exists bool
	err := s.getDB().QueryRowContext(ctx, query, jobType).Scan(&exists)
	return exists, err
}
