package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"cortex-gateway/internal/models"
)

const syncColumns = `id, status, query, days, after_date, processed, stored, updated, error, created_at, started_at, completed_at`

func scanSyncJob(row pgx.Row) (models.SyncJob, error) {
	var (
		job    models.SyncJob
		status string
		days   *int32
		after  time.Time
	)
	if err := row.Scan(&job.ID, &status, &job.Query, &days, &after, &job.Processed, &job.Stored, &job.Updated,
		&job.Error, &job.CreatedAt, &job.StartedAt, &job.CompletedAt); err != nil {
		return models.SyncJob{}, err
	}
	job.Status = models.SyncStatus(status)
	job.AfterDate = after.Format(models.DayLayout)
	if days != nil {
		d := int(*days)
		job.Days = &d
	}
	return job, nil
}

// CreateSyncJob inserts a pending Gmail sync job for the worker to pick up.
func (s *Store) CreateSyncJob(ctx context.Context, job models.SyncJob) (models.SyncJob, error) {
	created, err := scanSyncJob(s.pool.QueryRow(ctx, `
		INSERT INTO sync_jobs (query, days, after_date)
		VALUES ($1, $2, $3::date)
		RETURNING `+syncColumns, job.Query, job.Days, job.AfterDate))
	if err != nil {
		return models.SyncJob{}, classify("create sync job", err)
	}
	return created, nil
}

// GetSyncJob returns one sync job.
func (s *Store) GetSyncJob(ctx context.Context, id int64) (models.SyncJob, error) {
	job, err := scanSyncJob(s.pool.QueryRow(ctx, `SELECT `+syncColumns+` FROM sync_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SyncJob{}, fmt.Errorf("sync job %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.SyncJob{}, classify("get sync job", err)
	}
	return job, nil
}

// ListSyncJobs returns the most recent sync jobs, optionally in one status.
func (s *Store) ListSyncJobs(ctx context.Context, status models.SyncStatus, limit int) ([]models.SyncJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+syncColumns+`
		FROM sync_jobs
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, classify("list sync jobs", err)
	}
	defer rows.Close()

	out := make([]models.SyncJob, 0, limit)
	for rows.Next() {
		job, err := scanSyncJob(rows)
		if err != nil {
			return nil, classify("list sync jobs: scan", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list sync jobs", err)
	}
	return out, nil
}

// CancelSyncJob cancels a pending or running job with one conditional UPDATE.
// A miss is explained as NotFound or, with the current status, InvalidState.
func (s *Store) CancelSyncJob(ctx context.Context, id int64) (models.SyncJob, error) {
	job, err := scanSyncJob(s.pool.QueryRow(ctx, `
		UPDATE sync_jobs
		SET status = 'cancelled'
		WHERE id = $1 AND status IN ('pending', 'running')
		RETURNING `+syncColumns, id))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.SyncJob{}, classify("cancel sync job", err)
	}

	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM sync_jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SyncJob{}, fmt.Errorf("cancel sync job %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.SyncJob{}, classify("cancel sync job", err)
	}
	return models.SyncJob{}, fmt.Errorf("cancel sync job %d: status is %s: %w", id, status, models.ErrInvalidState)
}
