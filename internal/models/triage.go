package models

import "time"

// ClassifierCount is one row of the classification breakdown.
type ClassifierCount struct {
	Classifier string  `json:"classifier"`
	Label      *string `json:"label"`
	Action     *string `json:"action"`
	Count      int64   `json:"count"`
}

// HourlyCount is the number of classifications recorded in one hour bucket.
type HourlyCount struct {
	Hour  time.Time `json:"hour"`
	Count int64     `json:"count"`
}

// TriageStats summarises classification activity.
type TriageStats struct {
	ByClassifier []ClassifierCount `json:"by_classifier"`
	RecentHourly []HourlyCount     `json:"recent_hourly"`
	MethodCounts map[string]int64  `json:"methods"`
}

// Classification is a single triage decision joined with parsed email headers.
type Classification struct {
	GmailID     string    `json:"gmail_id"`
	MatchedRule *string   `json:"matched_rule"`
	Label       *string   `json:"label"`
	Action      *string   `json:"action"`
	LLMCategory *string   `json:"llm_category"`
	Confidence  *float64  `json:"confidence"`
	CreatedAt   time.Time `json:"created_at"`
	Subject     *string   `json:"subject"`
	FromAddr    *string   `json:"from_addr"`
}

// ClassificationFilter narrows ListClassifications.
type ClassificationFilter struct {
	Label  string
	Action string
	Limit  int
	Offset int
}
