package models

import (
	"time"
)

// JobStatus enumerates lifecycle states persisted in the queue table.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is expected for the status.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// QueueJob is a unit of work persisted in Postgres and executed by external workers.
type QueueJob struct {
	ID        int64          `json:"id"`
	QueueName string         `json:"queue_name"`
	GmailID   *string        `json:"gmail_id,omitempty"`
	Payload   map[string]any `json:"payload"`
	Status    JobStatus      `json:"status"`
	Attempts  int            `json:"attempts"`
	Priority  int            `json:"priority"`
	BatchID   *string        `json:"batch_id,omitempty"`
	LastError *string        `json:"last_error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// DeadLetter is a QueueJob in failed status. It shares the queue row.
type DeadLetter = QueueJob

// QueueStats maps queue name to status to job count.
type QueueStats map[string]map[JobStatus]int64

// Add accumulates a count for the queue/status pair.
func (s QueueStats) Add(queue string, status JobStatus, n int64) {
	byStatus, ok := s[queue]
	if !ok {
		byStatus = make(map[JobStatus]int64)
		s[queue] = byStatus
	}
	byStatus[status] += n
}
