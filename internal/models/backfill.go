package models

import (
	"time"
)

// DayLayout is the wire format of backfill window bounds.
const DayLayout = "2006-01-02"

// BackfillRequest asks for every day in [StartDay, EndDay] to be reprocessed on Queue.
type BackfillRequest struct {
	Queue    string    `json:"queue"`
	StartDay time.Time `json:"start_day"`
	EndDay   time.Time `json:"end_day"`
	Label    *string   `json:"label,omitempty"`
	Priority int       `json:"priority"`
}

// Days returns the inclusive number of UTC calendar days covered by the
// window. Times of day are ignored.
func (r BackfillRequest) Days() int {
	return int(CalendarDay(r.EndDay).Sub(CalendarDay(r.StartDay))/(24*time.Hour)) + 1
}

// CalendarDay truncates t to midnight UTC.
func CalendarDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// BackfillBatch groups the jobs spawned by a single trigger.
type BackfillBatch struct {
	ID        string    `json:"batch_id"`
	Queue     string    `json:"queue"`
	StartDay  time.Time `json:"start_day"`
	EndDay    time.Time `json:"end_day"`
	Label     *string   `json:"label,omitempty"`
	Priority  int       `json:"priority"`
	JobCount  int       `json:"job_count"`
	CreatedAt time.Time `json:"created_at"`
}

// BackfillProgress aggregates job states for one batch.
type BackfillProgress struct {
	Batch     BackfillBatch `json:"batch"`
	Pending   int64         `json:"pending"`
	Running   int64         `json:"running"`
	Succeeded int64         `json:"succeeded"`
	Failed    int64         `json:"failed"`
	Cancelled int64         `json:"cancelled"`
}

// Total is the number of jobs observed for the batch.
func (p BackfillProgress) Total() int64 {
	return p.Pending + p.Running + p.Succeeded + p.Failed + p.Cancelled
}

// Count records n jobs in the given status.
func (p *BackfillProgress) Count(status JobStatus, n int64) {
	switch status {
	case StatusPending:
		p.Pending += n
	case StatusRunning:
		p.Running += n
	case StatusSucceeded:
		p.Succeeded += n
	case StatusFailed:
		p.Failed += n
	case StatusCancelled:
		p.Cancelled += n
	}
}

// CancelResult reports a partial cancellation: only pending jobs move to cancelled.
type CancelResult struct {
	BatchID   string `json:"batch_id"`
	Cancelled int64  `json:"cancelled"`
	Running   int64  `json:"running"`
	Terminal  int64  `json:"terminal"`
}

// BackfillPartition is one unit of a batch; each becomes a single pending job.
type BackfillPartition struct {
	Day     time.Time      `json:"day"`
	Payload map[string]any `json:"payload"`
}

// BackfillPlan is a validated batch together with its enumerated partitions.
type BackfillPlan struct {
	Batch      BackfillBatch
	Partitions []BackfillPartition
}
