package memory

import (
	"context"
	"fmt"
	"sort"

	"cortex-gateway/internal/models"
)

// CreateSyncJob stores a pending sync job.
func (s *Store) CreateSyncJob(_ context.Context, job models.SyncJob) (models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSyncID++
	job.ID = s.nextSyncID
	job.Status = models.SyncPending
	job.CreatedAt = s.now()
	job.Days = clonePtr(job.Days)
	stored := job
	s.syncJobs[job.ID] = &stored
	return cloneSyncJob(stored), nil
}

func cloneSyncJob(j models.SyncJob) models.SyncJob {
	j.Days = clonePtr(j.Days)
	j.Error = clonePtr(j.Error)
	j.StartedAt = clonePtr(j.StartedAt)
	j.CompletedAt = clonePtr(j.CompletedAt)
	return j
}

// SetSyncStatus changes a job's status the way the sync worker would.
func (s *Store) SetSyncStatus(id int64, status models.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.syncJobs[id]
	if !ok {
		return fmt.Errorf("sync job %d: %w", id, models.ErrNotFound)
	}
	j.Status = status
	now := s.now()
	switch status {
	case models.SyncRunning:
		j.StartedAt = &now
	case models.SyncCompleted, models.SyncFailed:
		j.CompletedAt = &now
	}
	return nil
}

// GetSyncJob returns one sync job.
func (s *Store) GetSyncJob(_ context.Context, id int64) (models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.syncJobs[id]
	if !ok {
		return models.SyncJob{}, fmt.Errorf("sync job %d: %w", id, models.ErrNotFound)
	}
	return cloneSyncJob(*j), nil
}

// ListSyncJobs returns the newest jobs first, optionally in one status.
func (s *Store) ListSyncJobs(_ context.Context, status models.SyncStatus, limit int) ([]models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncJob
	for _, j := range s.syncJobs {
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, cloneSyncJob(*j))
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID > out[k].ID
	})
	return page(out, limit, 0), nil
}

// CancelSyncJob cancels a pending or running job.
func (s *Store) CancelSyncJob(_ context.Context, id int64) (models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.syncJobs[id]
	if !ok {
		return models.SyncJob{}, fmt.Errorf("cancel sync job %d: %w", id, models.ErrNotFound)
	}
	if !j.Status.Cancellable() {
		return models.SyncJob{}, fmt.Errorf("cancel sync job %d: status is %s: %w", id, j.Status, models.ErrInvalidState)
	}
	j.Status = models.SyncCancelled
	return cloneSyncJob(*j), nil
}
