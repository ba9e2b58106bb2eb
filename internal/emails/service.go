// Package emails serves read-only views over synced email metadata and the
// classifications recorded against it.
package emails

import (
	"context"
	"fmt"
	"time"

	"cortex-gateway/internal/models"
)

type Store interface {
	ListEmails(ctx context.Context, f models.EmailFilter) ([]models.Email, error)
	GetEmail(ctx context.Context, gmailID string) (models.Email, error)
	GetLabel(ctx context.Context, id string) (*models.GmailLabel, error)
	SenderClassifications(ctx context.Context, fromAddr string) ([]models.LabelCount, error)
	LabelDistribution(ctx context.Context, limit int) ([]models.LabelCount, error)
	UncategorizedSenders(ctx context.Context, label string, limit int) ([]models.SenderCount, error)
	EmailCounts(ctx context.Context) (models.EmailCounts, error)
}

type Options struct {
	Timeout time.Duration
	// UncategorizedLabel is the triage fallback label.
	UncategorizedLabel string
}

type Service struct {
	store Store
	opts  Options
}

func NewService(st Store, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.UncategorizedLabel == "" {
		opts.UncategorizedLabel = "Cortex/Uncategorized"
	}
	return &Service{store: st, opts: opts}
}

// Page is one page of emails with the effective paging values.
type Page struct {
	Label  *models.GmailLabel `json:"label,omitempty"`
	Emails []models.Email     `json:"emails"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
	Count  int                `json:"count"`
}

// clamp applies a default and maximum to a caller-supplied limit.
func clamp(limit, offset, def, maxLimit int) (int, error) {
	if limit < 0 || offset < 0 {
		return 0, fmt.Errorf("limit and offset must not be negative: %w", models.ErrInvalidArgument)
	}
	if limit == 0 {
		limit = def
	}
	return min(limit, maxLimit), nil
}

// List pages through emails, optionally those carrying one Gmail label id.
func (s *Service) List(ctx context.Context, f models.EmailFilter) (Page, error) {
	limit, err := clamp(f.Limit, f.Offset, 50, 100)
	if err != nil {
		return Page{}, err
	}
	f.Limit = limit

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	out, err := s.store.ListEmails(ctx, f)
	if err != nil {
		return Page{}, models.FromContext(err)
	}
	return Page{Emails: out, Limit: f.Limit, Offset: f.Offset, Count: len(out)}, nil
}

// ByLabel is List restricted to labelID, with the label's name when known.
func (s *Service) ByLabel(ctx context.Context, labelID string, limit, offset int) (Page, error) {
	if labelID == "" {
		return Page{}, fmt.Errorf("label id is required: %w", models.ErrInvalidArgument)
	}
	page, err := s.List(ctx, models.EmailFilter{LabelID: labelID, Limit: limit, Offset: offset})
	if err != nil {
		return Page{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	label, err := s.store.GetLabel(ctx, labelID)
	if err != nil {
		return Page{}, models.FromContext(err)
	}
	page.Label = label
	return page, nil
}

// Get returns one email with its latest classification.
func (s *Service) Get(ctx context.Context, gmailID string) (models.Email, error) {
	if gmailID == "" {
		return models.Email{}, fmt.Errorf("gmail id is required: %w", models.ErrInvalidArgument)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	e, err := s.store.GetEmail(ctx, gmailID)
	if err != nil {
		return models.Email{}, models.FromContext(err)
	}
	return e, nil
}

// SenderBreakdown is how one sender's emails have been classified.
type SenderBreakdown struct {
	FromAddr        string              `json:"from_addr"`
	Classifications []models.LabelCount `json:"classifications"`
	Total           int64               `json:"total"`
}

func (s *Service) SenderClassifications(ctx context.Context, fromAddr string) (SenderBreakdown, error) {
	if fromAddr == "" {
		return SenderBreakdown{}, fmt.Errorf("sender address is required: %w", models.ErrInvalidArgument)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	counts, err := s.store.SenderClassifications(ctx, fromAddr)
	if err != nil {
		return SenderBreakdown{}, models.FromContext(err)
	}
	out := SenderBreakdown{FromAddr: fromAddr, Classifications: counts}
	for _, c := range counts {
		out.Total += c.Count
	}
	return out, nil
}

// Distribution ranks labels by distinct emails. The limit defaults to 50 and
// is capped at 200.
func (s *Service) Distribution(ctx context.Context, limit int) ([]models.LabelCount, int, error) {
	limit, err := clamp(limit, 0, 50, 200)
	if err != nil {
		return nil, 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	out, err := s.store.LabelDistribution(ctx, limit)
	if err != nil {
		return nil, 0, models.FromContext(err)
	}
	return out, limit, nil
}

// UncategorizedSenders ranks senders none of whose emails got a real label,
// which usually means a rule is missing. The limit defaults to 20 and is
// capped at 100.
func (s *Service) UncategorizedSenders(ctx context.Context, limit int) ([]models.SenderCount, int, error) {
	limit, err := clamp(limit, 0, 20, 100)
	if err != nil {
		return nil, 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	out, err := s.store.UncategorizedSenders(ctx, s.opts.UncategorizedLabel, limit)
	if err != nil {
		return nil, 0, models.FromContext(err)
	}
	return out, limit, nil
}

func (s *Service) Counts(ctx context.Context) (models.EmailCounts, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	c, err := s.store.EmailCounts(ctx)
	if err != nil {
		return models.EmailCounts{}, models.FromContext(err)
	}
	return c, nil
}
