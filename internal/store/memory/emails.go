package memory

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"cortex-gateway/internal/models"
)

// AddEmail records a synced email the way the sync and parse workers would.
// An email counts as parsed once it has a sender address.
func (s *Store) AddEmail(e models.Email) models.Email {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEmailID++
	e.ID = s.nextEmailID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if e.LabelIDs == nil {
		e.LabelIDs = []string{}
	}
	e.Classification = nil
	stored := cloneEmail(e)
	s.emails[e.GmailID] = &stored
	return cloneEmail(stored)
}

// AddLabel names a Gmail label id.
func (s *Store) AddLabel(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels[id] = name
}

func cloneEmail(e models.Email) models.Email {
	e.LabelIDs = slices.Clone(e.LabelIDs)
	e.ToAddrs = slices.Clone(e.ToAddrs)
	return e
}

// ListEmails pages through emails by Date header, newest first, unparsed last.
func (s *Store) ListEmails(_ context.Context, f models.EmailFilter) ([]models.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Email
	for _, e := range s.emails {
		if f.LabelID != "" && !slices.Contains(e.LabelIDs, f.LabelID) {
			continue
		}
		out = append(out, cloneEmail(*e))
	}
	sort.Slice(out, func(i, k int) bool {
		a, b := out[i].DateHeader, out[k].DateHeader
		switch {
		case a == nil && b == nil:
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		}
		return out[i].GmailID < out[k].GmailID
	})
	return page(out, f.Limit, f.Offset), nil
}

// GetEmail returns one email with its latest classification.
func (s *Store) GetEmail(_ context.Context, gmailID string) (models.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[gmailID]
	if !ok {
		return models.Email{}, fmt.Errorf("email %s: %w", gmailID, models.ErrNotFound)
	}
	out := cloneEmail(*e)
	for i := range s.classifications {
		c := s.classifications[i]
		if c.GmailID != gmailID {
			continue
		}
		if out.Classification == nil || !c.CreatedAt.Before(out.Classification.CreatedAt) {
			c.Subject, c.FromAddr = e.Subject, e.FromAddr
			out.Classification = &c
		}
	}
	return out, nil
}

// GetLabel returns the named label or nil.
func (s *Store) GetLabel(_ context.Context, id string) (*models.GmailLabel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.labels[id]
	if !ok {
		return nil, nil
	}
	return &models.GmailLabel{ID: id, Name: name}, nil
}

// SenderClassifications counts a sender's classifications per label.
func (s *Store) SenderClassifications(_ context.Context, fromAddr string) ([]models.LabelCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int64{}
	for _, c := range s.classifications {
		e, ok := s.emails[c.GmailID]
		if !ok || deref(e.FromAddr) != fromAddr || c.Label == nil {
			continue
		}
		counts[*c.Label]++
	}
	return rankLabels(counts, 0), nil
}

// LabelDistribution ranks labels by distinct emails.
func (s *Store) LabelDistribution(_ context.Context, limit int) ([]models.LabelCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]map[string]bool{}
	for _, c := range s.classifications {
		if c.Label == nil {
			continue
		}
		if seen[*c.Label] == nil {
			seen[*c.Label] = map[string]bool{}
		}
		seen[*c.Label][c.GmailID] = true
	}
	counts := make(map[string]int64, len(seen))
	for label, ids := range seen {
		counts[label] = int64(len(ids))
	}
	return rankLabels(counts, limit), nil
}

func rankLabels(counts map[string]int64, limit int) []models.LabelCount {
	out := make([]models.LabelCount, 0, len(counts))
	for label, n := range counts {
		out = append(out, models.LabelCount{Label: label, Count: n})
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Count != out[k].Count {
			return out[i].Count > out[k].Count
		}
		return out[i].Label < out[k].Label
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// UncategorizedSenders ranks senders whose emails only carry the fallback label.
func (s *Store) UncategorizedSenders(_ context.Context, label string, limit int) ([]models.SenderCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fallback := map[string]bool{}
	other := map[string]bool{}
	for _, c := range s.classifications {
		switch {
		case c.Label == nil:
		case *c.Label == label:
			fallback[c.GmailID] = true
		default:
			other[c.GmailID] = true
		}
	}
	counts := map[string]int64{}
	for id := range fallback {
		if other[id] {
			continue
		}
		if e, ok := s.emails[id]; ok && e.FromAddr != nil {
			counts[*e.FromAddr]++
		}
	}
	out := make([]models.SenderCount, 0, len(counts))
	for addr, n := range counts {
		out = append(out, models.SenderCount{FromAddr: addr, Count: n})
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Count != out[k].Count {
			return out[i].Count > out[k].Count
		}
		return out[i].FromAddr < out[k].FromAddr
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EmailCounts reports synced, parsed and classified totals.
func (s *Store) EmailCounts(context.Context) (models.EmailCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	classified := map[string]bool{}
	for _, c := range s.classifications {
		classified[c.GmailID] = true
	}
	var counts models.EmailCounts
	for id, e := range s.emails {
		counts.Total++
		if e.FromAddr != nil {
			counts.Parsed++
		}
		if classified[id] {
			counts.Classified++
		}
	}
	return counts, nil
}

// RerunTriage enqueues a triage job per matching email, skipping emails with
// an active job on the queue unless req.Force is set.
func (s *Store) RerunTriage(_ context.Context, req models.RerunRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var match func(e *models.Email) bool
	switch {
	case len(req.GmailIDs) > 0:
		match = func(e *models.Email) bool { return slices.Contains(req.GmailIDs, e.GmailID) }
	case req.Label != "":
		labelled := map[string]bool{}
		for _, c := range s.classifications {
			if deref(c.Label) == req.Label {
				labelled[c.GmailID] = true
			}
		}
		match = func(e *models.Email) bool { return !e.CreatedAt.Before(req.Since) && labelled[e.GmailID] }
	case len(req.Senders) > 0:
		patterns := make([]*regexp.Regexp, len(req.Senders))
		for i, glob := range req.Senders {
			patterns[i] = globRegexp(glob)
		}
		match = func(e *models.Email) bool {
			if e.CreatedAt.Before(req.Since) || e.FromAddr == nil {
				return false
			}
			return slices.ContainsFunc(patterns, func(re *regexp.Regexp) bool { return re.MatchString(*e.FromAddr) })
		}
	default:
		return 0, fmt.Errorf("rerun triage: no filter: %w", models.ErrInvalidArgument)
	}

	active := map[string]bool{}
	if !req.Force {
		for _, j := range s.jobs {
			if j.QueueName == req.Queue && j.GmailID != nil &&
				(j.Status == models.StatusPending || j.Status == models.StatusRunning) {
				active[*j.GmailID] = true
			}
		}
	}

	var matched []*models.Email
	for _, e := range s.emails {
		if match(e) && !active[e.GmailID] {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, k int) bool { return matched[i].GmailID < matched[k].GmailID })
	for _, e := range matched {
		gmailID := e.GmailID
		s.insertLocked(models.QueueJob{
			QueueName: req.Queue,
			GmailID:   &gmailID,
			Payload:   map[string]any{"email_id": e.ID, "gmail_id": gmailID, "rerun": true},
			Status:    models.StatusPending,
			Priority:  req.Priority,
		})
	}
	return int64(len(matched)), nil
}

// globRegexp compiles a sender glob where * matches any run of characters.
func globRegexp(glob string) *regexp.Regexp {
	parts := strings.Split(glob, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}
