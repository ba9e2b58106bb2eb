package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"cortex-gateway/internal/models"
)

// QueueStats counts jobs grouped by queue name and status.
func (s *Store) QueueStats(ctx context.Context) (models.QueueStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT queue_name, status, COUNT(*)
		FROM queue
		GROUP BY queue_name, status
		ORDER BY queue_name, status
	`)
	if err != nil {
		return nil, classify("queue stats", err)
	}
	defer rows.Close()
	return collectStats(rows, "queue stats")
}

func collectStats(rows pgx.Rows, op string) (models.QueueStats, error) {
	stats := make(models.QueueStats)
	for rows.Next() {
		var (
			queue  string
			status string
			n      int64
		)
		if err := rows.Scan(&queue, &status, &n); err != nil {
			return nil, classify(op+": scan", err)
		}
		stats.Add(queue, models.JobStatus(status), n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return stats, nil
}

// ListDeadLetters pages through failed jobs, most recently failed first.
// Ties on updated_at are broken by id so pages never overlap.
func (s *Store) ListDeadLetters(ctx context.Context, queue string, limit, offset int) ([]models.DeadLetter, error) {
	query := `SELECT ` + jobColumns + ` FROM queue WHERE status = 'failed'`
	args := []any{}
	if queue != "" {
		args = append(args, queue)
		query += fmt.Sprintf(" AND queue_name = $%d", len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY updated_at DESC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list dead letters", err)
	}
	defer rows.Close()

	out := make([]models.DeadLetter, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, classify("list dead letters: scan", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list dead letters", err)
	}
	return out, nil
}

// RetryDeadLetter moves a failed job back to pending in one conditional update.
// attempts is incremented and last_error kept for audit.
func (s *Store) RetryDeadLetter(ctx context.Context, id int64) (models.QueueJob, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE queue
		SET status = 'pending', attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
		RETURNING `+jobColumns, id)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.QueueJob{}, classify("retry dead letter", err)
	}
	return models.QueueJob{}, s.explainMiss(ctx, "retry dead letter", id)
}

// RetryAllDeadLetters re-enqueues every failed job of a queue in a single
// statement, so the set transitioned is the set visible when it started.
func (s *Store) RetryAllDeadLetters(ctx context.Context, queue string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue
		SET status = 'pending', attempts = attempts + 1, updated_at = NOW()
		WHERE status = 'failed' AND queue_name = $1
	`, queue)
	if err != nil {
		return 0, classify("retry all dead letters", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteDeadLetter permanently removes a failed job.
func (s *Store) DeleteDeadLetter(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM queue WHERE id = $1 AND status = 'failed'`, id)
	if err != nil {
		return classify("delete dead letter", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.explainMiss(ctx, "delete dead letter", id)
}

// explainMiss reports why a conditional write on a failed job matched nothing.
// It only reads; the write has already been decided.
func (s *Store) explainMiss(ctx context.Context, op string, id int64) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM queue WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: job %d: %w", op, id, models.ErrNotFound)
	}
	if err != nil {
		return classify(op, err)
	}
	return fmt.Errorf("%s: job %d is %s, not failed: %w", op, id, status, models.ErrInvalidState)
}
