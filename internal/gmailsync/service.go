// Package gmailsync manages Gmail history sync jobs. The gateway only records
// and cancels jobs; the sync worker polls the table and executes them.
package gmailsync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cortex-gateway/internal/models"
	"cortex-gateway/internal/telemetry"
)

// Store persists sync jobs.
type Store interface {
	CreateSyncJob(ctx context.Context, job models.SyncJob) (models.SyncJob, error)
	GetSyncJob(ctx context.Context, id int64) (models.SyncJob, error)
	ListSyncJobs(ctx context.Context, status models.SyncStatus, limit int) ([]models.SyncJob, error)
	CancelSyncJob(ctx context.Context, id int64) (models.SyncJob, error)
}

type Options struct {
	Timeout time.Duration
	MaxDays int
}

type Service struct {
	store  Store
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

func NewService(st Store, opts Options, logger *zap.Logger) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 3650
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  st,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Input asks for mail received after a date, given either as a trailing
// number of days or as an explicit YYYY-MM-DD day. Exactly one is required.
type Input struct {
	Days  *int   `json:"days"`
	After string `json:"after"`
}

// Create records a pending sync job with its Gmail search query.
func (s *Service) Create(ctx context.Context, in Input) (models.SyncJob, error) {
	job, err := s.resolve(in)
	if err != nil {
		return models.SyncJob{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	created, err := s.store.CreateSyncJob(ctx, job)
	if err != nil {
		return models.SyncJob{}, models.FromContext(err)
	}
	telemetry.SyncJobs.WithLabelValues("created").Inc()
	s.logger.Info("sync job created", zap.Int64("id", created.ID), zap.String("query", created.Query))
	return created, nil
}

func (s *Service) resolve(in Input) (models.SyncJob, error) {
	today := models.CalendarDay(s.now())
	var after time.Time
	switch {
	case in.Days != nil && in.After != "":
		return models.SyncJob{}, fmt.Errorf("provide either days or after, not both: %w", models.ErrInvalidArgument)
	case in.Days != nil:
		days := *in.Days
		if days < 1 || days > s.opts.MaxDays {
			return models.SyncJob{}, fmt.Errorf("days must be between 1 and %d, got %d: %w", s.opts.MaxDays, days, models.ErrInvalidArgument)
		}
		after = today.AddDate(0, 0, -days)
	case in.After != "":
		t, err := time.Parse(models.DayLayout, in.After)
		if err != nil {
			return models.SyncJob{}, fmt.Errorf("after must be YYYY-MM-DD, got %q: %w", in.After, models.ErrInvalidArgument)
		}
		if t.After(today) {
			return models.SyncJob{}, fmt.Errorf("after %s is in the future: %w", in.After, models.ErrInvalidArgument)
		}
		if today.Sub(t) > time.Duration(s.opts.MaxDays)*24*time.Hour {
			return models.SyncJob{}, fmt.Errorf("after %s is more than %d days ago: %w", in.After, s.opts.MaxDays, models.ErrInvalidArgument)
		}
		after = t
	default:
		return models.SyncJob{}, fmt.Errorf("provide either days or after: %w", models.ErrInvalidArgument)
	}
	return models.SyncJob{
		Query:     "after:" + after.Format("2006/01/02"),
		Days:      in.Days,
		AfterDate: after.Format(models.DayLayout),
	}, nil
}

// Get returns one sync job.
func (s *Service) Get(ctx context.Context, id int64) (models.SyncJob, error) {
	if id <= 0 {
		return models.SyncJob{}, fmt.Errorf("invalid sync job id %d: %w", id, models.ErrInvalidArgument)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	job, err := s.store.GetSyncJob(ctx, id)
	if err != nil {
		return models.SyncJob{}, models.FromContext(err)
	}
	return job, nil
}

// List returns recent jobs, newest first. The limit defaults to 20 and is
// capped at 100; an empty status lists every job.
func (s *Service) List(ctx context.Context, status string, limit int) ([]models.SyncJob, error) {
	st := models.SyncStatus(status)
	if status != "" && !st.Valid() {
		return nil, fmt.Errorf("unknown sync status %q: %w", status, models.ErrInvalidArgument)
	}
	if limit < 0 {
		return nil, fmt.Errorf("limit must not be negative: %w", models.ErrInvalidArgument)
	}
	if limit == 0 {
		limit = 20
	}
	limit = min(limit, 100)

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	jobs, err := s.store.ListSyncJobs(ctx, st, limit)
	if err != nil {
		return nil, models.FromContext(err)
	}
	return jobs, nil
}

// Cancel stops a pending or running job. Running jobs stop at the worker's
// next page boundary. Finished jobs fail with InvalidState.
func (s *Service) Cancel(ctx context.Context, id int64) (models.SyncJob, error) {
	if id <= 0 {
		return models.SyncJob{}, fmt.Errorf("invalid sync job id %d: %w", id, models.ErrInvalidArgument)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	job, err := s.store.CancelSyncJob(ctx, id)
	if err != nil {
		return models.SyncJob{}, models.FromContext(err)
	}
	telemetry.SyncJobs.WithLabelValues("cancelled").Inc()
	s.logger.Info("sync job cancelled", zap.Int64("id", id))
	return job, nil
}
