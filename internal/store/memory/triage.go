package memory

import (
	"context"
	"sort"
	"time"

	"cortex-gateway/internal/models"
)

// AddClassification records a triage decision for the read-only endpoints.
func (s *Store) AddClassification(c models.Classification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classifications = append(s.classifications, c)
}

// TriageStats summarises recorded classifications.
func (s *Store) TriageStats(context.Context) (models.TriageStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct{ classifier, label, action string }
	counts := map[key]int64{}
	hourly := map[time.Time]int64{}
	stats := models.TriageStats{
		ByClassifier: []models.ClassifierCount{},
		RecentHourly: []models.HourlyCount{},
		MethodCounts: map[string]int64{},
	}
	cutoff := s.now().Add(-24 * time.Hour)

	for _, c := range s.classifications {
		k := key{classifier: "llm", label: deref(c.Label), action: deref(c.Action)}
		method := "llm"
		if c.MatchedRule != nil {
			k.classifier = *c.MatchedRule
			method = "rule"
		}
		counts[k]++
		stats.MethodCounts[method]++
		if !c.CreatedAt.Before(cutoff) {
			hourly[c.CreatedAt.Truncate(time.Hour)]++
		}
	}
	for k, n := range counts {
		stats.ByClassifier = append(stats.ByClassifier, models.ClassifierCount{
			Classifier: k.classifier,
			Label:      ptr(k.label),
			Action:     ptr(k.action),
			Count:      n,
		})
	}
	sort.Slice(stats.ByClassifier, func(i, j int) bool {
		if stats.ByClassifier[i].Count != stats.ByClassifier[j].Count {
			return stats.ByClassifier[i].Count > stats.ByClassifier[j].Count
		}
		return stats.ByClassifier[i].Classifier < stats.ByClassifier[j].Classifier
	})
	if len(stats.ByClassifier) > 50 {
		stats.ByClassifier = stats.ByClassifier[:50]
	}
	for h, n := range hourly {
		stats.RecentHourly = append(stats.RecentHourly, models.HourlyCount{Hour: h, Count: n})
	}
	sort.Slice(stats.RecentHourly, func(i, j int) bool {
		return stats.RecentHourly[i].Hour.Before(stats.RecentHourly[j].Hour)
	})
	return stats, nil
}

// ListClassifications filters and pages recorded classifications, newest first.
func (s *Store) ListClassifications(_ context.Context, f models.ClassificationFilter) ([]models.Classification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Classification
	for _, c := range s.classifications {
		if f.Label != "" && deref(c.Label) != f.Label {
			continue
		}
		if f.Action != "" && deref(c.Action) != f.Action {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset >= len(out) {
		return []models.Classification{}, nil
	}
	end := f.Offset + f.Limit
	if end > len(out) {
		end = len(out)
	}
	return out[f.Offset:end], nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func ptr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
