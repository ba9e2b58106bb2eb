package triage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cortex-gateway/internal/models"
	"cortex-gateway/internal/telemetry"
)

type Store interface {
	TriageStats(ctx context.Context) (models.TriageStats, error)
	ListClassifications(ctx context.Context, f models.ClassificationFilter) ([]models.Classification, error)
	RerunTriage(ctx context.Context, req models.RerunRequest) (int64, error)
}

// Options configures reruns. Priorities share the backfill range since both
// enqueue low-priority work behind live traffic.
type Options struct {
	Timeout         time.Duration
	Queue           string
	DefaultDays     int
	DefaultPriority int
	PriorityMin     int
	PriorityMax     int
	MaxIDs          int
}

// Service exposes classification statistics and re-enqueues emails for triage.
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
	if opts.Queue == "" {
		opts.Queue = "triage"
	}
	if opts.DefaultDays <= 0 {
		opts.DefaultDays = 7
	}
	if opts.MaxIDs <= 0 {
		opts.MaxIDs = 1000
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

func (s *Service) Stats(ctx context.Context) (models.TriageStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	stats, err := s.store.TriageStats(ctx)
	if err != nil {
		return models.TriageStats{}, models.FromContext(err)
	}
	return stats, nil
}

// ListClassifications defaults the page size to 50 and caps it at 100.
func (s *Service) ListClassifications(ctx context.Context, f models.ClassificationFilter) ([]models.Classification, error) {
	if f.Limit < 0 || f.Offset < 0 {
		return nil, fmt.Errorf("limit and offset must not be negative: %w", models.ErrInvalidArgument)
	}
	if f.Limit == 0 {
		f.Limit = 50
	}
	f.Limit = min(f.Limit, 100)

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	out, err := s.store.ListClassifications(ctx, f)
	if err != nil {
		return nil, models.FromContext(err)
	}
	return out, nil
}

// RerunInput selects emails to triage again. Exactly one of GmailIDs, Label
// or Senders must be given. Days bounds the label and sender filters.
type RerunInput struct {
	GmailIDs []string `json:"gmail_ids"`
	Label    string   `json:"label"`
	Senders  []string `json:"senders"`
	Days     *int     `json:"days"`
	Force    bool     `json:"force"`
	Priority *int     `json:"priority"`
}

// RerunResult echoes the effective rerun parameters with the enqueued count.
type RerunResult struct {
	Message  string   `json:"message"`
	GmailIDs []string `json:"gmail_ids"`
	Label    *string  `json:"label"`
	Senders  []string `json:"senders"`
	Days     *int     `json:"days"`
	Force    bool     `json:"force"`
	Priority int      `json:"priority"`
	Count    int64    `json:"count"`
}

// Rerun puts matching emails back on the triage queue as pending jobs.
func (s *Service) Rerun(ctx context.Context, in RerunInput) (RerunResult, error) {
	req, days, err := s.resolveRerun(in)
	if err != nil {
		return RerunResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	n, err := s.store.RerunTriage(ctx, req)
	if err != nil {
		return RerunResult{}, models.FromContext(err)
	}

	res := RerunResult{
		Message:  fmt.Sprintf("Enqueued %d emails for triage rerun", n),
		Force:    req.Force,
		Priority: req.Priority,
		Count:    n,
	}
	filter := "gmail_ids"
	switch {
	case len(req.GmailIDs) > 0:
		res.GmailIDs = req.GmailIDs
	case req.Label != "":
		filter = "label"
		res.Label, res.Days = &req.Label, &days
	default:
		filter = "senders"
		res.Senders, res.Days = req.Senders, &days
	}
	telemetry.TriageReruns.WithLabelValues(filter).Add(float64(n))
	s.logger.Info("triage rerun enqueued",
		zap.String("filter", filter),
		zap.Bool("force", req.Force),
		zap.Int("priority", req.Priority),
		zap.Int64("count", n),
	)
	return res, nil
}

func (s *Service) resolveRerun(in RerunInput) (models.RerunRequest, int, error) {
	var senders []string
	for _, sender := range in.Senders {
		if sender != "" {
			senders = append(senders, sender)
		}
	}
	var ids []string
	for _, id := range in.GmailIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}

	filters := 0
	for _, set := range []bool{len(ids) > 0, in.Label != "", len(senders) > 0} {
		if set {
			filters++
		}
	}
	switch {
	case filters == 0:
		return models.RerunRequest{}, 0, fmt.Errorf("one of gmail_ids, label or senders is required: %w", models.ErrInvalidArgument)
	case filters > 1:
		return models.RerunRequest{}, 0, fmt.Errorf("only one of gmail_ids, label or senders may be given: %w", models.ErrInvalidArgument)
	case len(ids) > s.opts.MaxIDs:
		return models.RerunRequest{}, 0, fmt.Errorf("%d gmail_ids exceeds maximum of %d: %w", len(ids), s.opts.MaxIDs, models.ErrInvalidArgument)
	}

	days := s.opts.DefaultDays
	if in.Days != nil {
		days = *in.Days
	}
	if days < 1 {
		return models.RerunRequest{}, 0, fmt.Errorf("days must be at least 1, got %d: %w", days, models.ErrInvalidArgument)
	}
	priority := s.opts.DefaultPriority
	if in.Priority != nil {
		priority = *in.Priority
	}
	if priority < s.opts.PriorityMin || priority > s.opts.PriorityMax {
		return models.RerunRequest{}, 0, fmt.Errorf("priority %d outside [%d,%d]: %w", priority, s.opts.PriorityMin, s.opts.PriorityMax, models.ErrInvalidArgument)
	}

	return models.RerunRequest{
		Queue:    s.opts.Queue,
		GmailIDs: ids,
		Label:    in.Label,
		Senders:  senders,
		Since:    s.now().Add(-time.Duration(days) * 24 * time.Hour),
		Force:    in.Force,
		Priority: priority,
	}, days, nil
}
