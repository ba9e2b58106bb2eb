package memory

import (
	"context"
	"fmt"
	"sort"

	"cortex-gateway/internal/models"
)

// CreateBackfill stores the batch and one pending job per partition.
func (s *Store) CreateBackfill(_ context.Context, plan models.BackfillPlan) (models.BackfillBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := plan.Batch
	if _, exists := s.batches[b.ID]; exists {
		return models.BackfillBatch{}, fmt.Errorf("create backfill: batch %s: %w", b.ID, models.ErrConflict)
	}
	b.CreatedAt = s.now()
	b.JobCount = len(plan.Partitions)
	s.batches[b.ID] = &b

	for _, p := range plan.Partitions {
		batchID := b.ID
		s.insertLocked(models.QueueJob{
			QueueName: b.Queue,
			Payload:   p.Payload,
			Status:    models.StatusPending,
			Priority:  b.Priority,
			BatchID:   &batchID,
			CreatedAt: b.CreatedAt,
		})
	}
	return b, nil
}

// BackfillProgress aggregates job states for a batch.
func (s *Store) BackfillProgress(_ context.Context, batchID string) (models.BackfillProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return models.BackfillProgress{}, fmt.Errorf("backfill %s: %w", batchID, models.ErrNotFound)
	}
	progress := models.BackfillProgress{Batch: *b}
	for _, j := range s.jobs {
		if j.BatchID != nil && *j.BatchID == batchID {
			progress.Count(j.Status, 1)
		}
	}
	return progress, nil
}

// CancelBackfill cancels pending jobs of the batch and counts the rest.
func (s *Store) CancelBackfill(_ context.Context, batchID string) (models.CancelResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batchID]; !ok {
		return models.CancelResult{}, fmt.Errorf("backfill %s: %w", batchID, models.ErrNotFound)
	}
	res := models.CancelResult{BatchID: batchID}
	now := s.now()
	for _, j := range s.jobs {
		if j.BatchID == nil || *j.BatchID != batchID {
			continue
		}
		switch {
		case j.Status == models.StatusPending:
			j.Status = models.StatusCancelled
			j.UpdatedAt = now
			res.Cancelled++
		case j.Status == models.StatusRunning:
			res.Running++
		case j.Status.Terminal():
			res.Terminal++
		}
	}
	return res, nil
}

// ListBackfills returns batches newest first.
func (s *Store) ListBackfills(_ context.Context, limit, offset int) ([]models.BackfillBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]models.BackfillBatch, 0, len(s.batches))
	for _, b := range s.batches {
		all = append(all, *b)
	}
	sort.Slice(all, func(i, k int) bool {
		if !all[i].CreatedAt.Equal(all[k].CreatedAt) {
			return all[i].CreatedAt.After(all[k].CreatedAt)
		}
		return all[i].ID < all[k].ID
	})
	if offset >= len(all) {
		return []models.BackfillBatch{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// BackfillOverview groups low-priority jobs by queue and status.
func (s *Store) BackfillOverview(context.Context) (models.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make(models.QueueStats)
	for _, j := range s.jobs {
		if j.Priority < 0 {
			stats.Add(j.QueueName, j.Status, 1)
		}
	}
	return stats, nil
}

// CancelQueueBackfills cancels pending low-priority jobs of a queue.
func (s *Store) CancelQueueBackfills(_ context.Context, queue string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := s.now()
	for _, j := range s.jobs {
		if j.QueueName == queue && j.Priority < 0 && j.Status == models.StatusPending {
			j.Status = models.StatusCancelled
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}
