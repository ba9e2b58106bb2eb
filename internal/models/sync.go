package models

import "time"

// SyncStatus is the lifecycle state of a Gmail sync job.
type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncCancelled SyncStatus = "cancelled"
	SyncFailed    SyncStatus = "failed"
)

// Valid reports whether s is a known sync status.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncPending, SyncRunning, SyncCompleted, SyncCancelled, SyncFailed:
		return true
	}
	return false
}

// Cancellable reports whether a job in this status may still be cancelled.
// Running jobs stop at their next page boundary.
func (s SyncStatus) Cancellable() bool {
	return s == SyncPending || s == SyncRunning
}

// SyncJob asks the Gmail sync worker to fetch historical mail matching Query.
// The gateway creates and cancels jobs; the worker owns every other field.
type SyncJob struct {
	ID          int64      `json:"id"`
	Status      SyncStatus `json:"status"`
	Query       string     `json:"query"`
	Days        *int       `json:"days"`
	AfterDate   string     `json:"after_date"`
	Processed   int64      `json:"processed"`
	Stored      int64      `json:"stored"`
	Updated     int64      `json:"updated"`
	Error       *string    `json:"error"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}
