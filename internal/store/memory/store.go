// Package memory is an in-process implementation of the gateway store
// contracts. Every method holds the store lock for its whole body, which gives
// it the same all-or-nothing behaviour as the single statements the Postgres
// store issues. It backs tests and local runs without a database.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"cortex-gateway/internal/models"
)

// Store keeps queue rows, backfill batches, synced emails, classifications
// and sync jobs in maps.
type Store struct {
	mu              sync.Mutex
	now             func() time.Time
	nextID          int64
	jobs            map[int64]*models.QueueJob
	batches         map[string]*models.BackfillBatch
	classifications []models.Classification
	nextEmailID     int64
	emails          map[string]*models.Email
	labels          map[string]string
	nextSyncID      int64
	syncJobs        map[int64]*models.SyncJob
}

// Option configures the Store.
type Option func(*Store)

// WithClock overrides the time source used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:      func() time.Time { return time.Now().UTC() },
		jobs:     make(map[int64]*models.QueueJob),
		batches:  make(map[string]*models.BackfillBatch),
		emails:   make(map[string]*models.Email),
		labels:   make(map[string]string),
		syncJobs: make(map[int64]*models.SyncJob),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// InsertJob adds a row the way an upstream producer or worker would and
// returns it with its assigned id. Zero timestamps default to now.
func (s *Store) InsertJob(job models.QueueJob) models.QueueJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(job)
}

func (s *Store) insertLocked(job models.QueueJob) models.QueueJob {
	s.nextID++
	job.ID = s.nextID
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	if job.Status == "" {
		job.Status = models.StatusPending
	}
	stored := cloneJob(job)
	s.jobs[job.ID] = &stored
	return cloneJob(stored)
}

// cloneJob copies the payload map and pointer fields so callers never share
// mutable state with the stored row.
func cloneJob(j models.QueueJob) models.QueueJob {
	j.Payload = maps.Clone(j.Payload)
	j.GmailID = clonePtr(j.GmailID)
	j.BatchID = clonePtr(j.BatchID)
	j.LastError = clonePtr(j.LastError)
	return j
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Job returns a copy of the row with the given id.
func (s *Store) Job(id int64) (models.QueueJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return models.QueueJob{}, false
	}
	return cloneJob(*j), true
}

// SetStatus changes a row's status as an external worker would.
func (s *Store) SetStatus(id int64, status models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, models.ErrNotFound)
	}
	j.Status = status
	j.UpdatedAt = s.now()
	return nil
}

// ClaimJob moves a pending row to running the way a worker's conditional
// claim does. It reports whether the row was claimed.
func (s *Store) ClaimJob(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.StatusPending {
		return false
	}
	j.Status = models.StatusRunning
	j.UpdatedAt = s.now()
	return true
}

// JobsInBatch returns the batch's rows ordered by id.
func (s *Store) JobsInBatch(batchID string) []models.QueueJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QueueJob
	for _, j := range s.jobs {
		if j.BatchID != nil && *j.BatchID == batchID {
			out = append(out, cloneJob(*j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// QueueStats counts jobs grouped by queue name and status.
func (s *Store) QueueStats(context.Context) (models.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make(models.QueueStats)
	for _, j := range s.jobs {
		stats.Add(j.QueueName, j.Status, 1)
	}
	return stats, nil
}

// ListDeadLetters pages through failed jobs, most recently failed first, ties by id.
func (s *Store) ListDeadLetters(_ context.Context, queue string, limit, offset int) ([]models.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var failed []models.DeadLetter
	for _, j := range s.jobs {
		if j.Status != models.StatusFailed {
			continue
		}
		if queue != "" && j.QueueName != queue {
			continue
		}
		failed = append(failed, cloneJob(*j))
	}
	sort.Slice(failed, func(i, k int) bool {
		if !failed[i].UpdatedAt.Equal(failed[k].UpdatedAt) {
			return failed[i].UpdatedAt.After(failed[k].UpdatedAt)
		}
		return failed[i].ID < failed[k].ID
	})
	if offset >= len(failed) {
		return []models.DeadLetter{}, nil
	}
	end := offset + limit
	if end > len(failed) {
		end = len(failed)
	}
	return failed[offset:end], nil
}

// RetryDeadLetter moves a failed job back to pending, incrementing attempts.
func (s *Store) RetryDeadLetter(_ context.Context, id int64) (models.QueueJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return models.QueueJob{}, fmt.Errorf("retry dead letter: job %d: %w", id, models.ErrNotFound)
	}
	if j.Status != models.StatusFailed {
		return models.QueueJob{}, fmt.Errorf("retry dead letter: job %d is %s, not failed: %w", id, j.Status, models.ErrInvalidState)
	}
	s.requeueLocked(j)
	return cloneJob(*j), nil
}

// RetryAllDeadLetters re-enqueues every failed job in the queue.
func (s *Store) RetryAllDeadLetters(_ context.Context, queue string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.QueueName == queue && j.Status == models.StatusFailed {
			s.requeueLocked(j)
			n++
		}
	}
	return n, nil
}

func (s *Store) requeueLocked(j *models.QueueJob) {
	j.Status = models.StatusPending
	j.Attempts++
	j.UpdatedAt = s.now()
}

// DeleteDeadLetter removes a failed job.
func (s *Store) DeleteDeadLetter(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("delete dead letter: job %d: %w", id, models.ErrNotFound)
	}
	if j.Status != models.StatusFailed {
		return fmt.Errorf("delete dead letter: job %d is %s, not failed: %w", id, j.Status, models.ErrInvalidState)
	}
	delete(s.jobs, id)
	return nil
}
