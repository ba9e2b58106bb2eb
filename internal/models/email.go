package models

import "time"

// Email is a synced message joined with its parsed headers. Parsed fields
// stay nil until the parse service has processed the message.
type Email struct {
	ID             int64           `json:"email_id"`
	GmailID        string          `json:"gmail_id"`
	HistoryID      *int64          `json:"history_id,omitempty"`
	LabelIDs       []string        `json:"label_ids"`
	InternalDate   *int64          `json:"internal_date,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	FromAddr       *string         `json:"from_addr"`
	FromName       *string         `json:"from_name,omitempty"`
	ToAddrs        []string        `json:"to_addrs"`
	Subject        *string         `json:"subject"`
	DateHeader     *time.Time      `json:"date_header"`
	Classification *Classification `json:"classification,omitempty"`
}

// EmailFilter pages through emails, optionally restricted to one Gmail label id.
type EmailFilter struct {
	LabelID string
	Limit   int
	Offset  int
}

// GmailLabel names a Gmail label id.
type GmailLabel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LabelCount is the number of distinct emails classified under a label.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// SenderCount is the number of distinct emails from one sender.
type SenderCount struct {
	FromAddr string `json:"from_addr"`
	Count    int64  `json:"count"`
}

// EmailCounts tracks how far synced mail has moved through the pipeline.
type EmailCounts struct {
	Total      int64 `json:"total_emails"`
	Parsed     int64 `json:"parsed_emails"`
	Classified int64 `json:"classified_emails"`
}

// RerunRequest selects emails to put back on the triage queue. Exactly one of
// GmailIDs, Label or Senders is set. Senders are glob patterns where * matches
// any run of characters. Since bounds the label and sender filters by sync time.
type RerunRequest struct {
	Queue    string
	GmailIDs []string
	Label    string
	Senders  []string
	Since    time.Time
	Force    bool
	Priority int
}
