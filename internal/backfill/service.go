package backfill

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cortex-gateway/internal/models"
	"cortex-gateway/internal/telemetry"
)

// Store persists batches and the jobs they spawn.
type Store interface {
	CreateBackfill(ctx context.Context, plan models.BackfillPlan) (models.BackfillBatch, error)
	BackfillProgress(ctx context.Context, batchID string) (models.BackfillProgress, error)
	CancelBackfill(ctx context.Context, batchID string) (models.CancelResult, error)
	ListBackfills(ctx context.Context, limit, offset int) ([]models.BackfillBatch, error)
	BackfillOverview(ctx context.Context) (models.QueueStats, error)
	CancelQueueBackfills(ctx context.Context, queue string) (int64, error)
}

// Options holds the accepted request ranges.
type Options struct {
	Timeout         time.Duration
	Queues          []string
	DefaultQueue    string
	MaxDays         int
	PriorityMin     int
	PriorityMax     int
	DefaultPriority int
	DefaultDays     int
}

// Service validates backfill requests, expands them into per-day jobs and
// reports or cancels their progress.
type Service struct {
	store  Store
	opts   Options
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewService constructs the backfill orchestration service.
func NewService(st Store, opts Options, logger *zap.Logger) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 366
	}
	if opts.DefaultDays <= 0 {
		opts.DefaultDays = 7
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  st,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Input is a backfill request as received from a caller. Either an explicit
// StartDay/EndDay window (YYYY-MM-DD) or a trailing Days count may be given;
// with neither, the default trailing window is used. An empty Queue means
// the configured default queue.
type Input struct {
	Queue    string  `json:"queue"`
	StartDay string  `json:"start_day,omitempty"`
	EndDay   string  `json:"end_day,omitempty"`
	Days     *int    `json:"days,omitempty"`
	Label    *string `json:"label,omitempty"`
	Priority *int    `json:"priority,omitempty"`
}

// Resolve turns caller input into a validated request.
func (s *Service) Resolve(in Input) (models.BackfillRequest, error) {
	req := models.BackfillRequest{Queue: in.Queue, Priority: s.opts.DefaultPriority}
	if req.Queue == "" {
		req.Queue = s.opts.DefaultQueue
	}
	if in.Priority != nil {
		req.Priority = *in.Priority
	}
	if in.Label != nil && *in.Label != "" {
		label := *in.Label
		req.Label = &label
	}

	switch {
	case in.StartDay != "" || in.EndDay != "":
		if in.Days != nil {
			return models.BackfillRequest{}, fmt.Errorf("days cannot be combined with start_day/end_day: %w", models.ErrInvalidArgument)
		}
		start, err := parseDay("start_day", in.StartDay)
		if err != nil {
			return models.BackfillRequest{}, err
		}
		end, err := parseDay("end_day", in.EndDay)
		if err != nil {
			return models.BackfillRequest{}, err
		}
		req.StartDay, req.EndDay = start, end
	default:
		days := s.opts.DefaultDays
		if in.Days != nil {
			days = *in.Days
		}
		if days < 1 {
			return models.BackfillRequest{}, fmt.Errorf("days must be at least 1, got %d: %w", days, models.ErrInvalidArgument)
		}
		today := models.CalendarDay(s.now())
		req.EndDay = today
		req.StartDay = today.AddDate(0, 0, -(days - 1))
	}

	if err := s.Validate(req); err != nil {
		return models.BackfillRequest{}, err
	}
	return req, nil
}

func parseDay(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("%s is required: %w", field, models.ErrInvalidArgument)
	}
	t, err := time.Parse(models.DayLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD, got %q: %w", field, v, models.ErrInvalidArgument)
	}
	return t, nil
}

// Validate checks the queue, window and priority of a request.
func (s *Service) Validate(req models.BackfillRequest) error {
	if req.Queue == "" {
		return fmt.Errorf("queue is required: %w", models.ErrInvalidArgument)
	}
	if len(s.opts.Queues) > 0 && !slices.Contains(s.opts.Queues, req.Queue) {
		return fmt.Errorf("invalid queue: %s: %w", req.Queue, models.ErrInvalidArgument)
	}
	if req.StartDay.IsZero() || req.EndDay.IsZero() {
		return fmt.Errorf("start and end day are required: %w", models.ErrInvalidArgument)
	}
	if models.CalendarDay(req.StartDay).After(models.CalendarDay(req.EndDay)) {
		return fmt.Errorf("start day %s is after end day %s: %w",
			req.StartDay.Format(models.DayLayout), req.EndDay.Format(models.DayLayout), models.ErrInvalidArgument)
	}
	if days := req.Days(); days > s.opts.MaxDays {
		return fmt.Errorf("window of %d days exceeds maximum of %d: %w", days, s.opts.MaxDays, models.ErrInvalidArgument)
	}
	if req.Priority < s.opts.PriorityMin || req.Priority > s.opts.PriorityMax {
		return fmt.Errorf("priority %d outside [%d,%d]: %w", req.Priority, s.opts.PriorityMin, s.opts.PriorityMax, models.ErrInvalidArgument)
	}
	return nil
}

// Plan enumerates one partition per calendar day of the window, in order.
// The same request always yields the same partitions; only the batch id differs.
func (s *Service) Plan(req models.BackfillRequest) (models.BackfillPlan, error) {
	if err := s.Validate(req); err != nil {
		return models.BackfillPlan{}, err
	}
	start, end := models.CalendarDay(req.StartDay), models.CalendarDay(req.EndDay)
	batch := models.BackfillBatch{
		ID:       s.newID(),
		Queue:    req.Queue,
		StartDay: start,
		EndDay:   end,
		Label:    req.Label,
		Priority: req.Priority,
	}

	parts := make([]models.BackfillPartition, 0, req.Days())
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		payload := map[string]any{
			"backfill": true,
			"batch_id": batch.ID,
			"day":      day.Format(models.DayLayout),
		}
		if req.Label != nil {
			payload["label"] = *req.Label
		}
		parts = append(parts, models.BackfillPartition{Day: day, Payload: payload})
	}
	batch.JobCount = len(parts)
	return models.BackfillPlan{Batch: batch, Partitions: parts}, nil
}

// Trigger validates the request and inserts one pending job per day. Every
// call creates an independent batch, including calls for overlapping windows.
func (s *Service) Trigger(ctx context.Context, req models.BackfillRequest) (models.BackfillBatch, error) {
	plan, err := s.Plan(req)
	if err != nil {
		return models.BackfillBatch{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	batch, err := s.store.CreateBackfill(ctx, plan)
	if err != nil {
		return models.BackfillBatch{}, models.FromContext(err)
	}
	telemetry.BackfillBatches.WithLabelValues(batch.Queue).Inc()
	telemetry.BackfillJobs.WithLabelValues(batch.Queue).Add(float64(batch.JobCount))
	s.logger.Info("backfill triggered",
		zap.String("batch_id", batch.ID),
		zap.String("queue", batch.Queue),
		zap.String("start_day", batch.StartDay.Format(models.DayLayout)),
		zap.String("end_day", batch.EndDay.Format(models.DayLayout)),
		zap.Int("priority", batch.Priority),
		zap.Int("jobs", batch.JobCount),
	)
	return batch, nil
}

// Status aggregates the job states of a batch.
func (s *Service) Status(ctx context.Context, batchID string) (models.BackfillProgress, error) {
	if err := checkBatchID(batchID); err != nil {
		return models.BackfillProgress{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	progress, err := s.store.BackfillProgress(ctx, batchID)
	if err != nil {
		return models.BackfillProgress{}, models.FromContext(err)
	}
	return progress, nil
}

// Cancel moves the batch's pending jobs to cancelled. Running and finished
// jobs are left alone and reported in the result. A batch with nothing left
// to cancel is an InvalidState error rather than a silent success.
func (s *Service) Cancel(ctx context.Context, batchID string) (models.CancelResult, error) {
	if err := checkBatchID(batchID); err != nil {
		return models.CancelResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	res, err := s.store.CancelBackfill(ctx, batchID)
	if err != nil {
		return models.CancelResult{}, models.FromContext(err)
	}
	if res.Cancelled == 0 {
		return res, fmt.Errorf("backfill %s has no pending jobs (running=%d, finished=%d): %w",
			batchID, res.Running, res.Terminal, models.ErrInvalidState)
	}
	telemetry.BackfillCancelled.Add(float64(res.Cancelled))
	s.logger.Info("backfill cancelled",
		zap.String("batch_id", batchID),
		zap.Int64("cancelled", res.Cancelled),
		zap.Int64("running", res.Running),
		zap.Int64("terminal", res.Terminal),
	)
	return res, nil
}

// List pages through batches, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]models.BackfillBatch, error) {
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("limit and offset must not be negative: %w", models.ErrInvalidArgument)
	}
	if limit == 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	batches, err := s.store.ListBackfills(ctx, limit, offset)
	if err != nil {
		return nil, models.FromContext(err)
	}
	return batches, nil
}

// Overview counts all low-priority jobs per queue and status, batch or not.
func (s *Service) Overview(ctx context.Context) (models.QueueStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	stats, err := s.store.BackfillOverview(ctx)
	if err != nil {
		return nil, models.FromContext(err)
	}
	return stats, nil
}

// CancelQueue cancels every pending low-priority job of a queue.
func (s *Service) CancelQueue(ctx context.Context, queue string) (int64, error) {
	if queue == "" {
		return 0, fmt.Errorf("queue parameter required: %w", models.ErrInvalidArgument)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	n, err := s.store.CancelQueueBackfills(ctx, queue)
	if err != nil {
		return 0, models.FromContext(err)
	}
	telemetry.BackfillCancelled.Add(float64(n))
	s.logger.Info("queue backfills cancelled", zap.String("queue", queue), zap.Int64("count", n))
	return n, nil
}

func checkBatchID(batchID string) error {
	if _, err := uuid.Parse(batchID); err != nil {
		return fmt.Errorf("batch id %q is not a uuid: %w", batchID, models.ErrInvalidArgument)
	}
	return nil
}
