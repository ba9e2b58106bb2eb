package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"cortex-gateway/internal/models"
)

// CreateBackfill inserts the batch row and one pending job per partition in a
// single transaction. Either the whole batch exists afterwards or nothing does.
func (s *Store) CreateBackfill(ctx context.Context, plan models.BackfillPlan) (models.BackfillBatch, error) {
	payloads := make([]map[string]any, 0, len(plan.Partitions))
	for _, p := range plan.Partitions {
		payloads = append(payloads, p.Payload)
	}
	payloadJSON, err := json.Marshal(payloads)
	if err != nil {
		return models.BackfillBatch{}, fmt.Errorf("marshal partitions: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.BackfillBatch{}, classify("create backfill: begin", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	b := plan.Batch
	err = tx.QueryRow(ctx, `
		INSERT INTO backfill_batches (id, queue_name, start_day, end_day, label, priority, job_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at
	`, b.ID, b.Queue, b.StartDay, b.EndDay, b.Label, b.Priority, len(plan.Partitions)).Scan(&b.CreatedAt)
	if err != nil {
		return models.BackfillBatch{}, classify("create backfill: insert batch", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO queue (queue_name, payload, status, attempts, priority, batch_id, created_at, updated_at)
		SELECT $1, p.value, 'pending', 0, $2, $3, NOW(), NOW()
		FROM jsonb_array_elements($4::jsonb) WITH ORDINALITY AS p(value, ord)
		ORDER BY p.ord
	`, b.Queue, b.Priority, b.ID, payloadJSON)
	if err != nil {
		return models.BackfillBatch{}, classify("create backfill: insert jobs", err)
	}
	b.JobCount = int(tag.RowsAffected())

	if err := tx.Commit(ctx); err != nil {
		return models.BackfillBatch{}, classify("create backfill: commit", err)
	}
	return b, nil
}

const batchColumns = `id::text, queue_name, start_day, end_day, label, priority, job_count, created_at`

func scanBatch(row pgx.Row) (models.BackfillBatch, error) {
	var (
		b     models.BackfillBatch
		label pgtype.Text
	)
	if err := row.Scan(&b.ID, &b.Queue, &b.StartDay, &b.EndDay, &label, &b.Priority, &b.JobCount, &b.CreatedAt); err != nil {
		return models.BackfillBatch{}, err
	}
	b.Label = textPtr(label)
	return b, nil
}

// GetBackfill loads a batch row.
func (s *Store) GetBackfill(ctx context.Context, batchID string) (models.BackfillBatch, error) {
	b, err := scanBatch(s.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM backfill_batches WHERE id = $1`, batchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BackfillBatch{}, fmt.Errorf("backfill %s: %w", batchID, models.ErrNotFound)
	}
	if err != nil {
		return models.BackfillBatch{}, classify("get backfill", err)
	}
	return b, nil
}

// BackfillProgress aggregates the current status of every job in a batch.
func (s *Store) BackfillProgress(ctx context.Context, batchID string) (models.BackfillProgress, error) {
	batch, err := s.GetBackfill(ctx, batchID)
	if err != nil {
		return models.BackfillProgress{}, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM queue WHERE batch_id = $1 GROUP BY status
	`, batchID)
	if err != nil {
		return models.BackfillProgress{}, classify("backfill progress", err)
	}
	defer rows.Close()

	progress := models.BackfillProgress{Batch: batch}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return models.BackfillProgress{}, classify("backfill progress: scan", err)
		}
		progress.Count(models.JobStatus(status), n)
	}
	if err := rows.Err(); err != nil {
		return models.BackfillProgress{}, classify("backfill progress", err)
	}
	return progress, nil
}

// CancelBackfill cancels the batch's pending jobs and, in the same statement,
// counts the jobs it had to leave alone. The outer SELECT sees the snapshot
// taken before the update, so pending rows it cancels are not double counted.
func (s *Store) CancelBackfill(ctx context.Context, batchID string) (models.CancelResult, error) {
	var (
		exists bool
		res    = models.CancelResult{BatchID: batchID}
	)
	err := s.pool.QueryRow(ctx, `
		WITH cancelled AS (
			UPDATE queue
			SET status = 'cancelled', updated_at = NOW()
			WHERE batch_id = $1 AND status = 'pending'
			RETURNING id
		)
		SELECT
			EXISTS (SELECT 1 FROM backfill_batches WHERE id = $1),
			(SELECT COUNT(*) FROM cancelled),
			COUNT(*) FILTER (WHERE q.status = 'running'),
			COUNT(*) FILTER (WHERE q.status IN ('succeeded', 'failed', 'cancelled'))
		FROM queue q
		WHERE q.batch_id = $1
	`, batchID).Scan(&exists, &res.Cancelled, &res.Running, &res.Terminal)
	if err != nil {
		return models.CancelResult{}, classify("cancel backfill", err)
	}
	if !exists {
		return models.CancelResult{}, fmt.Errorf("backfill %s: %w", batchID, models.ErrNotFound)
	}
	return res, nil
}

// ListBackfills returns batches newest first.
func (s *Store) ListBackfills(ctx context.Context, limit, offset int) ([]models.BackfillBatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+batchColumns+`
		FROM backfill_batches
		ORDER BY created_at DESC, id ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, classify("list backfills", err)
	}
	defer rows.Close()

	out := make([]models.BackfillBatch, 0, limit)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, classify("list backfills: scan", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list backfills", err)
	}
	return out, nil
}

// BackfillOverview groups every low-priority job by queue and status,
// including backfills enqueued by other producers without a batch row.
func (s *Store) BackfillOverview(ctx context.Context) (models.QueueStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT queue_name, status, COUNT(*)
		FROM queue
		WHERE priority < 0
		GROUP BY queue_name, status
		ORDER BY queue_name, status
	`)
	if err != nil {
		return nil, classify("backfill overview", err)
	}
	defer rows.Close()
	return collectStats(rows, "backfill overview")
}

// CancelQueueBackfills cancels all pending low-priority jobs of a queue.
func (s *Store) CancelQueueBackfills(ctx context.Context, queue string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue
		SET status = 'cancelled', updated_at = NOW()
		WHERE queue_name = $1 AND priority < 0 AND status = 'pending'
	`, queue)
	if err != nil {
		return 0, classify("cancel queue backfills", err)
	}
	return tag.RowsAffected(), nil
}
