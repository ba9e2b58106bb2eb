package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"cortex-gateway/internal/models"
)

const emailColumns = `
	er.id, er.gmail_id, er.history_id, er.label_ids, er.internal_date, er.created_at,
	ep.from_addr, ep.from_name, ep.to_addrs, ep.subject, ep.date_header`

func scanEmail(row pgx.Row) (models.Email, error) {
	var (
		e          models.Email
		historyID  pgtype.Int8
		internal   pgtype.Int8
		fromAddr   pgtype.Text
		fromName   pgtype.Text
		subject    pgtype.Text
		dateHeader pgtype.Timestamptz
	)
	if err := row.Scan(&e.ID, &e.GmailID, &historyID, &e.LabelIDs, &internal, &e.CreatedAt,
		&fromAddr, &fromName, &e.ToAddrs, &subject, &dateHeader); err != nil {
		return models.Email{}, err
	}
	if historyID.Valid {
		e.HistoryID = &historyID.Int64
	}
	if internal.Valid {
		e.InternalDate = &internal.Int64
	}
	if dateHeader.Valid {
		e.DateHeader = &dateHeader.Time
	}
	e.FromAddr = textPtr(fromAddr)
	e.FromName = textPtr(fromName)
	e.Subject = textPtr(subject)
	if e.LabelIDs == nil {
		e.LabelIDs = []string{}
	}
	return e, nil
}

// ListEmails pages through synced emails by Date header, newest first. Emails
// not parsed yet sort last.
func (s *Store) ListEmails(ctx context.Context, f models.EmailFilter) ([]models.Email, error) {
	query := `SELECT` + emailColumns + `
		FROM emails_raw er
		LEFT JOIN emails_parsed ep ON er.gmail_id = ep.gmail_id`
	args := []any{}
	if f.LabelID != "" {
		args = append(args, f.LabelID)
		query += fmt.Sprintf(" WHERE $%d = ANY(er.label_ids)", len(args))
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY ep.date_header DESC NULLS LAST, er.gmail_id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list emails", err)
	}
	defer rows.Close()

	out := make([]models.Email, 0, f.Limit)
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, classify("list emails: scan", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list emails", err)
	}
	return out, nil
}

// GetEmail returns one email with its most recent classification, if any.
func (s *Store) GetEmail(ctx context.Context, gmailID string) (models.Email, error) {
	e, err := scanEmail(s.pool.QueryRow(ctx, `SELECT`+emailColumns+`
		FROM emails_raw er
		LEFT JOIN emails_parsed ep ON er.gmail_id = ep.gmail_id
		WHERE er.gmail_id = $1
	`, gmailID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Email{}, fmt.Errorf("email %s: %w", gmailID, models.ErrNotFound)
	}
	if err != nil {
		return models.Email{}, classify("get email", err)
	}

	var c models.Classification
	err = s.pool.QueryRow(ctx, `
		SELECT gmail_id, matched_chain, action_taken->>'label', action_taken->>'action',
		       llm_category, llm_confidence, classified_at
		FROM classifications
		WHERE gmail_id = $1
		ORDER BY classified_at DESC, id DESC
		LIMIT 1
	`, gmailID).Scan(&c.GmailID, &c.MatchedRule, &c.Label, &c.Action, &c.LLMCategory, &c.Confidence, &c.CreatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return models.Email{}, classify("get email: classification", err)
	default:
		c.Subject, c.FromAddr = e.Subject, e.FromAddr
		e.Classification = &c
	}
	return e, nil
}

// GetLabel returns the display name of a Gmail label id, or nil when the
// label has not been synced.
func (s *Store) GetLabel(ctx context.Context, id string) (*models.GmailLabel, error) {
	var l models.GmailLabel
	err := s.pool.QueryRow(ctx, `SELECT id, name FROM gmail_labels WHERE id = $1`, id).Scan(&l.ID, &l.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get label", err)
	}
	return &l, nil
}

// SenderClassifications counts a sender's classifications per label.
func (s *Store) SenderClassifications(ctx context.Context, fromAddr string) ([]models.LabelCount, error) {
	return s.labelCounts(ctx, "sender classifications", `
		SELECT c.action_taken->>'label' AS label, COUNT(*) AS count
		FROM classifications c
		JOIN emails_parsed ep ON c.gmail_id = ep.gmail_id
		WHERE ep.from_addr = $1 AND c.action_taken->>'label' IS NOT NULL
		GROUP BY 1
		ORDER BY count DESC, label
	`, fromAddr)
}

// LabelDistribution ranks labels by the number of distinct emails carrying them.
func (s *Store) LabelDistribution(ctx context.Context, limit int) ([]models.LabelCount, error) {
	return s.labelCounts(ctx, "label distribution", `
		SELECT action_taken->>'label' AS label, COUNT(DISTINCT gmail_id) AS count
		FROM classifications
		WHERE action_taken->>'label' IS NOT NULL
		GROUP BY 1
		ORDER BY count DESC, label
		LIMIT $1
	`, limit)
}

func (s *Store) labelCounts(ctx context.Context, op, query string, args ...any) ([]models.LabelCount, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()
	out := []models.LabelCount{}
	for rows.Next() {
		var lc models.LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, classify(op+": scan", err)
		}
		out = append(out, lc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

// UncategorizedSenders ranks senders whose emails were only ever classified
// under the given fallback label.
func (s *Store) UncategorizedSenders(ctx context.Context, label string, limit int) ([]models.SenderCount, error) {
	rows, err := s.pool.Query(ctx, `
		WITH only_fallback AS (
			SELECT gmail_id FROM classifications WHERE action_taken->>'label' = $1
			EXCEPT
			SELECT gmail_id FROM classifications
			WHERE action_taken->>'label' IS NOT NULL AND action_taken->>'label' <> $1
		)
		SELECT ep.from_addr, COUNT(DISTINCT ep.gmail_id) AS count
		FROM only_fallback o
		JOIN emails_parsed ep ON ep.gmail_id = o.gmail_id
		WHERE ep.from_addr IS NOT NULL
		GROUP BY ep.from_addr
		ORDER BY count DESC, ep.from_addr
		LIMIT $2
	`, label, limit)
	if err != nil {
		return nil, classify("uncategorized senders", err)
	}
	defer rows.Close()
	out := []models.SenderCount{}
	for rows.Next() {
		var sc models.SenderCount
		if err := rows.Scan(&sc.FromAddr, &sc.Count); err != nil {
			return nil, classify("uncategorized senders: scan", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("uncategorized senders", err)
	}
	return out, nil
}

// EmailCounts reports synced, parsed and classified email totals.
func (s *Store) EmailCounts(ctx context.Context) (models.EmailCounts, error) {
	var c models.EmailCounts
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM emails_raw),
			(SELECT COUNT(*) FROM emails_raw er WHERE EXISTS (SELECT 1 FROM emails_parsed ep WHERE ep.gmail_id = er.gmail_id)),
			(SELECT COUNT(*) FROM emails_raw er WHERE EXISTS (SELECT 1 FROM classifications c WHERE c.gmail_id = er.gmail_id))
	`).Scan(&c.Total, &c.Parsed, &c.Classified)
	if err != nil {
		return models.EmailCounts{}, classify("email counts", err)
	}
	return c, nil
}
