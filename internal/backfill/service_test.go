package backfill

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cortex-gateway/internal/models"
	"cortex-gateway/internal/store/memory"
)

var testOptions = Options{
	Timeout:         time.Second,
	Queues:          []string{"triage", "parse", "attachment"},
	DefaultQueue:    "triage",
	MaxDays:         366,
	PriorityMin:     -1000,
	PriorityMax:     0,
	DefaultPriority: -100,
	DefaultDays:     7,
}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	svc := NewService(st, testOptions, nil)
	svc.now = func() time.Time { return time.Date(2025, 1, 9, 15, 30, 0, 0, time.UTC) }
	n := 0
	svc.newID = func() string {
		n++
		return fmt.Sprintf("00000000-0000-0000-0000-%012d", n)
	}
	return svc, st
}

func day(s string) time.Time {
	t, err := time.Parse(models.DayLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func request(queue, start, end string) models.BackfillRequest {
	return models.BackfillRequest{Queue: queue, StartDay: day(start), EndDay: day(end), Priority: -100}
}

func TestTriggerCreatesOneJobPerDay(t *testing.T) {
	svc, st := newTestService(t)

	batch, err := svc.Trigger(context.Background(), request("triage", "2025-01-01", "2025-01-07"))
	require.NoError(t, err)
	require.Equal(t, 7, batch.JobCount)
	require.Equal(t, "triage", batch.Queue)

	jobs := st.JobsInBatch(batch.ID)
	require.Len(t, jobs, 7)
	for i, j := range jobs {
		require.Equal(t, models.StatusPending, j.Status)
		require.Equal(t, -100, j.Priority)
		require.Equal(t, "triage", j.QueueName)
		require.Equal(t, day("2025-01-01").AddDate(0, 0, i).Format(models.DayLayout), j.Payload["day"])
		require.Equal(t, true, j.Payload["backfill"])
		require.Equal(t, batch.ID, j.Payload["batch_id"])
	}
}

func TestTriggerRejectsInvertedWindow(t *testing.T) {
	svc, st := newTestService(t)

	_, err := svc.Trigger(context.Background(), request("triage", "2025-01-07", "2025-01-01"))
	require.ErrorIs(t, err, models.ErrInvalidArgument)

	stats, err := st.QueueStats(context.Background())
	require.NoError(t, err)
	require.Empty(t, stats)
}

func TestTriggerSingleDay(t *testing.T) {
	svc, st := newTestService(t)
	batch, err := svc.Trigger(context.Background(), request("parse", "2025-01-05", "2025-01-05"))
	require.NoError(t, err)
	require.Equal(t, 1, batch.JobCount)
	require.Len(t, st.JobsInBatch(batch.ID), 1)
}

func TestTriggerOverlappingWindowsAreIndependent(t *testing.T) {
	svc, st := newTestService(t)

	a, err := svc.Trigger(context.Background(), request("triage", "2025-01-01", "2025-01-05"))
	require.NoError(t, err)
	b, err := svc.Trigger(context.Background(), request("triage", "2025-01-03", "2025-01-08"))
	require.NoError(t, err)

	require.NotEqual(t, a.ID, b.ID)
	require.Len(t, st.JobsInBatch(a.ID), 5)
	require.Len(t, st.JobsInBatch(b.ID), 6)
}

func TestValidate(t *testing.T) {
	svc, _ := newTestService(t)
	tests := []struct {
		name string
		req  models.BackfillRequest
		ok   bool
	}{
		{"valid", request("triage", "2025-01-01", "2025-01-02"), true},
		{"unknown queue", request("mail", "2025-01-01", "2025-01-02"), false},
		{"missing queue", request("", "2025-01-01", "2025-01-02"), false},
		{"missing days", models.BackfillRequest{Queue: "triage", Priority: -100}, false},
		{"too long", request("triage", "2024-01-01", "2025-01-02"), false},
		{"max length", request("triage", "2024-01-01", "2024-12-31"), true},
		{"priority too high", models.BackfillRequest{Queue: "triage", StartDay: day("2025-01-01"), EndDay: day("2025-01-01"), Priority: 1}, false},
		{"priority too low", models.BackfillRequest{Queue: "triage", StartDay: day("2025-01-01"), EndDay: day("2025-01-01"), Priority: -1001}, false},
		{"priority at bounds", models.BackfillRequest{Queue: "triage", StartDay: day("2025-01-01"), EndDay: day("2025-01-01"), Priority: 0}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Validate(tc.req)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, models.ErrInvalidArgument)
		})
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	svc, _ := newTestService(t)
	label := "reclassify"
	req := request("attachment", "2025-02-27", "2025-03-02")
	req.Label = &label

	p1, err := svc.Plan(req)
	require.NoError(t, err)
	p2, err := svc.Plan(req)
	require.NoError(t, err)

	require.NotEqual(t, p1.Batch.ID, p2.Batch.ID)
	require.Len(t, p1.Partitions, 4)
	require.Len(t, p2.Partitions, 4)
	for i := range p1.Partitions {
		require.Equal(t, p1.Partitions[i].Day, p2.Partitions[i].Day)
		require.Equal(t, p1.Partitions[i].Payload["day"], p2.Partitions[i].Payload["day"])
		require.Equal(t, "reclassify", p1.Partitions[i].Payload["label"])
	}
	require.Equal(t, "2025-02-28", p1.Partitions[1].Payload["day"])
	require.Equal(t, "2025-03-01", p1.Partitions[2].Payload["day"])
}

func TestResolve(t *testing.T) {
	svc, _ := newTestService(t)
	intPtr := func(v int) *int { return &v }

	req, err := svc.Resolve(Input{Queue: "triage"})
	require.NoError(t, err)
	require.Equal(t, day("2025-01-03"), req.StartDay)
	require.Equal(t, day("2025-01-09"), req.EndDay)
	require.Equal(t, -100, req.Priority)

	req, err = svc.Resolve(Input{Queue: "triage", Days: intPtr(1)})
	require.NoError(t, err)
	require.Equal(t, req.StartDay, req.EndDay)

	req, err = svc.Resolve(Input{Queue: "parse", StartDay: "2025-01-01", EndDay: "2025-01-03", Priority: intPtr(-5)})
	require.NoError(t, err)
	require.Equal(t, 3, req.Days())
	require.Equal(t, -5, req.Priority)

	empty := ""
	req, err = svc.Resolve(Input{Queue: "parse", Label: &empty})
	require.NoError(t, err)
	require.Nil(t, req.Label)

	for _, in := range []Input{
		{Queue: "triage", Days: intPtr(0)},
		{Queue: "triage", StartDay: "2025-01-01"},
		{Queue: "triage", StartDay: "01/01/2025", EndDay: "2025-01-02"},
		{Queue: "triage", StartDay: "2025-01-01", EndDay: "2025-01-02", Days: intPtr(2)},
		{Queue: "triage", Priority: intPtr(10)},
	} {
		_, err := svc.Resolve(in)
		require.ErrorIs(t, err, models.ErrInvalidArgument, "%+v", in)
	}
}

func TestResolveUsesDefaultQueue(t *testing.T) {
	svc, _ := newTestService(t)

	req, err := svc.Resolve(Input{})
	require.NoError(t, err)
	require.Equal(t, "triage", req.Queue)
	require.Equal(t, 7, req.Days())

	req, err = svc.Resolve(Input{Queue: "parse"})
	require.NoError(t, err)
	require.Equal(t, "parse", req.Queue)

	opts := testOptions
	opts.DefaultQueue = ""
	_, err = NewService(memory.New(), opts, nil).Resolve(Input{})
	require.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestWindowIgnoresTimeOfDay(t *testing.T) {
	opts := testOptions
	opts.MaxDays = 1
	svc := NewService(memory.New(), opts, nil)

	lateStart := models.BackfillRequest{
		Queue:    "triage",
		StartDay: time.Date(2025, 1, 1, 23, 0, 0, 0, time.UTC),
		EndDay:   time.Date(2025, 1, 2, 1, 0, 0, 0, time.UTC),
		Priority: -100,
	}
	require.Equal(t, 2, lateStart.Days())
	require.ErrorIs(t, svc.Validate(lateStart), models.ErrInvalidArgument)
	_, err := svc.Trigger(context.Background(), lateStart)
	require.ErrorIs(t, err, models.ErrInvalidArgument)

	sameDay := models.BackfillRequest{
		Queue:    "triage",
		StartDay: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		EndDay:   time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC),
		Priority: -100,
	}
	require.Equal(t, 1, sameDay.Days())
	plan, err := svc.Plan(sameDay)
	require.NoError(t, err)
	require.Len(t, plan.Partitions, 1)
	require.Equal(t, "2025-01-01", plan.Partitions[0].Payload["day"])
}

func TestStatusCountsJobStates(t *testing.T) {
	svc, st := newTestService(t)
	batch, err := svc.Trigger(context.Background(), request("triage", "2025-01-01", "2025-01-04"))
	require.NoError(t, err)

	jobs := st.JobsInBatch(batch.ID)
	require.NoError(t, st.SetStatus(jobs[0].ID, models.StatusSucceeded))
	require.NoError(t, st.SetStatus(jobs[1].ID, models.StatusFailed))
	require.NoError(t, st.SetStatus(jobs[2].ID, models.StatusRunning))

	progress, err := svc.Status(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), progress.Pending)
	require.Equal(t, int64(1), progress.Running)
	require.Equal(t, int64(1), progress.Succeeded)
	require.Equal(t, int64(1), progress.Failed)
	require.Equal(t, int64(4), progress.Total())
	require.Equal(t, batch.ID, progress.Batch.ID)
}

func TestStatusErrors(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Status(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = svc.Status(context.Background(), "6f1c1a52-1f0e-4c4b-9c57-111111111111")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestCancelLeavesRunningJobs(t *testing.T) {
	svc, st := newTestService(t)
	batch, err := svc.Trigger(context.Background(), request("triage", "2025-01-01", "2025-01-04"))
	require.NoError(t, err)
	jobs := st.JobsInBatch(batch.ID)
	require.NoError(t, st.SetStatus(jobs[1].ID, models.StatusRunning))

	res, err := svc.Cancel(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), res.Cancelled)
	require.Equal(t, int64(1), res.Running)

	running, _ := st.Job(jobs[1].ID)
	require.Equal(t, models.StatusRunning, running.Status)
	for _, i := range []int{0, 2, 3} {
		j, _ := st.Job(jobs[i].ID)
		require.Equal(t, models.StatusCancelled, j.Status)
	}
}

func TestCancelRacingWorkerClaims(t *testing.T) {
	svc, st := newTestService(t)
	batch, err := svc.Trigger(context.Background(), request("triage", "2024-01-01", "2024-03-31"))
	require.NoError(t, err)
	jobs := st.JobsInBatch(batch.ID)

	var (
		wg      sync.WaitGroup
		claimed int64
		res     models.CancelResult
		start   = make(chan struct{})
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-start
		for _, j := range jobs {
			if st.ClaimJob(j.ID) {
				claimed++
			}
		}
	}()
	go func() {
		defer wg.Done()
		<-start
		res, err = svc.Cancel(context.Background(), batch.ID)
	}()
	close(start)
	wg.Wait()

	if err != nil {
		// Every job was claimed before the cancel ran.
		require.ErrorIs(t, err, models.ErrInvalidState)
		require.Equal(t, int64(len(jobs)), claimed)
		return
	}
	require.Equal(t, int64(len(jobs)), res.Cancelled+claimed)
	require.LessOrEqual(t, res.Running, claimed)

	var cancelled, running int64
	for _, j := range st.JobsInBatch(batch.ID) {
		switch j.Status {
		case models.StatusCancelled:
			cancelled++
		case models.StatusRunning:
			running++
		default:
			t.Fatalf("job %d left in %s", j.ID, j.Status)
		}
	}
	require.Equal(t, res.Cancelled, cancelled)
	require.Equal(t, claimed, running)
}

func TestCancelFinishedBatchIsInvalidState(t *testing.T) {
	svc, st := newTestService(t)
	batch, err := svc.Trigger(context.Background(), request("parse", "2025-01-01", "2025-01-02"))
	require.NoError(t, err)
	for _, j := range st.JobsInBatch(batch.ID) {
		require.NoError(t, st.SetStatus(j.ID, models.StatusSucceeded))
	}

	res, err := svc.Cancel(context.Background(), batch.ID)
	require.ErrorIs(t, err, models.ErrInvalidState)
	require.Equal(t, int64(2), res.Terminal)

	_, err = svc.Cancel(context.Background(), "6f1c1a52-1f0e-4c4b-9c57-111111111111")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestCancelTwice(t *testing.T) {
	svc, _ := newTestService(t)
	batch, err := svc.Trigger(context.Background(), request("parse", "2025-01-01", "2025-01-03"))
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), batch.ID)
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), batch.ID)
	require.ErrorIs(t, err, models.ErrInvalidState)
}

func TestOverviewAndCancelQueue(t *testing.T) {
	svc, st := newTestService(t)
	_, err := svc.Trigger(context.Background(), request("triage", "2025-01-01", "2025-01-03"))
	require.NoError(t, err)
	st.InsertJob(models.QueueJob{QueueName: "triage", Priority: -50})
	st.InsertJob(models.QueueJob{QueueName: "triage", Priority: 0})

	overview, err := svc.Overview(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(4), overview["triage"][models.StatusPending])

	n, err := svc.CancelQueue(context.Background(), "triage")
	require.NoError(t, err)
	require.Equal(t, int64(4), n)

	stats, err := st.QueueStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats["triage"][models.StatusPending])

	_, err = svc.CancelQueue(context.Background(), "")
	require.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestListNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	base := time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC)
	tick := 0
	st := memory.New(memory.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))
	svc.store = st

	first, err := svc.Trigger(context.Background(), request("triage", "2025-01-01", "2025-01-01"))
	require.NoError(t, err)
	second, err := svc.Trigger(context.Background(), request("parse", "2025-01-01", "2025-01-01"))
	require.NoError(t, err)

	batches, err := svc.List(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Equal(t, second.ID, batches[0].ID)
	require.Equal(t, first.ID, batches[1].ID)

	_, err = svc.List(context.Background(), -1, 0)
	require.ErrorIs(t, err, models.ErrInvalidArgument)
}
