package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cortex-gateway/internal/models"
	"cortex-gateway/internal/telemetry"
)

// Store is the persistence contract for dead-letter management. Every
// mutation must be a single atomic operation against the backing store.
type Store interface {
	QueueStats(ctx context.Context) (models.QueueStats, error)
	ListDeadLetters(ctx context.Context, queue string, limit, offset int) ([]models.DeadLetter, error)
	RetryDeadLetter(ctx context.Context, id int64) (models.QueueJob, error)
	RetryAllDeadLetters(ctx context.Context, queue string) (int64, error)
	DeleteDeadLetter(ctx context.Context, id int64) error
}

// Options tunes paging and store deadlines.
type Options struct {
	Timeout      time.Duration
	DefaultLimit int
	MaxLimit     int
}

// Service lists, retries and deletes failed jobs. It holds no job state
// between calls; every read goes to the store.
type Service struct {
	store  Store
	opts   Options
	logger *zap.Logger
}

// NewService constructs the queue management service.
func NewService(st Store, opts Options, logger *zap.Logger) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 50
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = max(opts.DefaultLimit, 100)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, opts: opts, logger: logger}
}

// ListParams selects a page of dead letters. Zero Limit means the default page size.
type ListParams struct {
	Queue  string
	Limit  int
	Offset int
}

// DeadLetterPage is one page of failed jobs with the effective paging values.
type DeadLetterPage struct {
	Jobs   []models.DeadLetter `json:"failed_jobs"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
	Count  int                 `json:"count"`
}

// Stats returns job counts per queue and status.
func (s *Service) Stats(ctx context.Context) (models.QueueStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	stats, err := s.store.QueueStats(ctx)
	if err != nil {
		return nil, models.FromContext(err)
	}
	for queue, byStatus := range stats {
		for status, n := range byStatus {
			telemetry.QueueJobs.WithLabelValues(queue, string(status)).Set(float64(n))
		}
	}
	return stats, nil
}

// ListDeadLetters returns failed jobs newest first. Limit is clamped to the
// configured maximum.
func (s *Service) ListDeadLetters(ctx context.Context, p ListParams) (DeadLetterPage, error) {
	if p.Limit < 0 {
		return DeadLetterPage{}, fmt.Errorf("limit must be positive, got %d: %w", p.Limit, models.ErrInvalidArgument)
	}
	if p.Offset < 0 {
		return DeadLetterPage{}, fmt.Errorf("offset must not be negative, got %d: %w", p.Offset, models.ErrInvalidArgument)
	}
	limit := p.Limit
	if limit == 0 {
		limit = s.opts.DefaultLimit
	}
	if limit > s.opts.MaxLimit {
		limit = s.opts.MaxLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	jobs, err := s.store.ListDeadLetters(ctx, p.Queue, limit, p.Offset)
	if err != nil {
		return DeadLetterPage{}, models.FromContext(err)
	}
	return DeadLetterPage{Jobs: jobs, Limit: limit, Offset: p.Offset, Count: len(jobs)}, nil
}

// Retry moves one failed job back to pending so the external workers pick it
// up again. It does not execute the job.
func (s *Service) Retry(ctx context.Context, id int64) (models.QueueJob, error) {
	if id <= 0 {
		return models.QueueJob{}, fmt.Errorf("job id must be positive: %w", models.ErrInvalidArgument)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	job, err := s.store.RetryDeadLetter(ctx, id)
	if err != nil {
		return models.QueueJob{}, models.FromContext(err)
	}
	telemetry.DeadLettersRetried.WithLabelValues(job.QueueName).Inc()
	s.logger.Info("dead letter retried",
		zap.Int64("job_id", job.ID),
		zap.String("queue", job.QueueName),
		zap.Int("attempts", job.Attempts),
	)
	return job, nil
}

// RetryAll moves every failed job of a queue back to pending and reports how many moved.
func (s *Service) RetryAll(ctx context.Context, queue string) (int64, error) {
	if queue == "" {
		return 0, fmt.Errorf("queue parameter required: %w", models.ErrInvalidArgument)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	n, err := s.store.RetryAllDeadLetters(ctx, queue)
	if err != nil {
		return 0, models.FromContext(err)
	}
	telemetry.DeadLettersRetried.WithLabelValues(queue).Add(float64(n))
	s.logger.Info("dead letters retried in bulk", zap.String("queue", queue), zap.Int64("count", n))
	return n, nil
}

// Delete permanently removes a failed job. Deleting an id twice reports NotFound.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("job id must be positive: %w", models.ErrInvalidArgument)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	if err := s.store.DeleteDeadLetter(ctx, id); err != nil {
		return models.FromContext(err)
	}
	telemetry.DeadLettersDeleted.Inc()
	s.logger.Info("dead letter deleted", zap.Int64("job_id", id))
	return nil
}
