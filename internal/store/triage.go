package store

import (
	"context"
	"fmt"
	"strings"

	"cortex-gateway/internal/models"
)

// TriageStats summarises the classifications table. The table is written by
// the triage service; the gateway only reads it.
func (s *Store) TriageStats(ctx context.Context) (models.TriageStats, error) {
	stats := models.TriageStats{
		ByClassifier: []models.ClassifierCount{},
		RecentHourly: []models.HourlyCount{},
		MethodCounts: map[string]int64{},
	}

	rows, err := s.pool.Query(ctx, `
		SELECT
			COALESCE(matched_chain, 'llm') AS classifier,
			action_taken->>'label' AS label,
			action_taken->>'action' AS action,
			COUNT(*) AS count
		FROM classifications
		GROUP BY matched_chain, action_taken->>'label', action_taken->>'action'
		ORDER BY count DESC
		LIMIT 50
	`)
	if err != nil {
		return stats, classify("triage stats: by classifier", err)
	}
	for rows.Next() {
		var c models.ClassifierCount
		if err := rows.Scan(&c.Classifier, &c.Label, &c.Action, &c.Count); err != nil {
			rows.Close()
			return stats, classify("triage stats: scan classifier", err)
		}
		stats.ByClassifier = append(stats.ByClassifier, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, classify("triage stats: by classifier", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT date_trunc('hour', classified_at) AS hour, COUNT(*)
		FROM classifications
		WHERE classified_at >= NOW() - INTERVAL '24 hours'
		GROUP BY hour
		ORDER BY hour
	`)
	if err != nil {
		return stats, classify("triage stats: recent", err)
	}
	for rows.Next() {
		var h models.HourlyCount
		if err := rows.Scan(&h.Hour, &h.Count); err != nil {
			rows.Close()
			return stats, classify("triage stats: scan recent", err)
		}
		stats.RecentHourly = append(stats.RecentHourly, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, classify("triage stats: recent", err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT
			CASE WHEN matched_chain IS NOT NULL THEN 'rule' ELSE 'llm' END AS method,
			COUNT(*)
		FROM classifications
		GROUP BY 1
	`)
	if err != nil {
		return stats, classify("triage stats: methods", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			method string
			n      int64
		)
		if err := rows.Scan(&method, &n); err != nil {
			return stats, classify("triage stats: scan method", err)
		}
		stats.MethodCounts[method] = n
	}
	if err := rows.Err(); err != nil {
		return stats, classify("triage stats: methods", err)
	}
	return stats, nil
}

// ListClassifications returns recent classifications, newest first.
func (s *Store) ListClassifications(ctx context.Context, f models.ClassificationFilter) ([]models.Classification, error) {
	query := `
		SELECT
			c.gmail_id,
			c.matched_chain,
			c.action_taken->>'label',
			c.action_taken->>'action',
			c.llm_category,
			c.llm_confidence,
			c.classified_at,
			ep.subject,
			ep.from_addr
		FROM classifications c
		LEFT JOIN emails_parsed ep ON c.gmail_id = ep.gmail_id
		WHERE 1=1`
	args := []any{}
	if f.Label != "" {
		args = append(args, f.Label)
		query += fmt.Sprintf(" AND c.action_taken->>'label' = $%d", len(args))
	}
	if f.Action != "" {
		args = append(args, f.Action)
		query += fmt.Sprintf(" AND c.action_taken->>'action' = $%d", len(args))
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY c.classified_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list classifications", err)
	}
	defer rows.Close()

	out := make([]models.Classification, 0, f.Limit)
	for rows.Next() {
		var c models.Classification
		if err := rows.Scan(&c.GmailID, &c.MatchedRule, &c.Label, &c.Action, &c.LLMCategory, &c.Confidence, &c.CreatedAt, &c.Subject, &c.FromAddr); err != nil {
			return nil, classify("list classifications: scan", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list classifications", err)
	}
	return out, nil
}

// RerunTriage enqueues one pending triage job per matching synced email in a
// single INSERT ... SELECT. Unless req.Force is set, emails that already have
// a pending or running job on the queue are skipped.
func (s *Store) RerunTriage(ctx context.Context, req models.RerunRequest) (int64, error) {
	args := []any{req.Queue, req.Priority, req.Force}
	var filter string
	switch {
	case len(req.GmailIDs) > 0:
		args = append(args, req.GmailIDs)
		filter = "er.gmail_id = ANY($4)"
	case req.Label != "":
		args = append(args, req.Since, req.Label)
		filter = `er.created_at >= $4 AND EXISTS (
			SELECT 1 FROM classifications c
			WHERE c.gmail_id = er.gmail_id AND c.action_taken->>'label' = $5)`
	case len(req.Senders) > 0:
		patterns := make([]string, len(req.Senders))
		for i, sender := range req.Senders {
			patterns[i] = likePattern(sender)
		}
		args = append(args, req.Since, patterns)
		filter = `er.created_at >= $4 AND EXISTS (
			SELECT 1 FROM emails_parsed ep, unnest($5::text[]) AS p(pattern)
			WHERE ep.gmail_id = er.gmail_id AND ep.from_addr LIKE p.pattern ESCAPE '\')`
	default:
		return 0, fmt.Errorf("rerun triage: no filter: %w", models.ErrInvalidArgument)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO queue (queue_name, gmail_id, payload, priority, status)
		SELECT $1, er.gmail_id,
		       jsonb_build_object('email_id', er.id, 'gmail_id', er.gmail_id, 'rerun', true),
		       $2, 'pending'
		FROM emails_raw er
		WHERE `+filter+`
		  AND ($3 OR NOT EXISTS (
			SELECT 1 FROM queue q
			WHERE q.queue_name = $1 AND q.gmail_id = er.gmail_id
			  AND q.status IN ('pending', 'running')))
		ORDER BY er.gmail_id
	`, args...)
	if err != nil {
		return 0, classify("rerun triage", err)
	}
	return tag.RowsAffected(), nil
}

// likePattern escapes LIKE metacharacters in a sender glob and turns each *
// into %.
func likePattern(glob string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `*`, `%`)
	return r.Replace(glob)
}
