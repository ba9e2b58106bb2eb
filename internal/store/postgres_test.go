//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"cortex-gateway/internal/models"
)

// testDSN points at the Postgres container started by TestMain.
var testDSN string

func TestMain(m *testing.M) {
	os.Exit(runWithPostgres(m))
}

func runWithPostgres(m *testing.M) int {
	ctx := context.Background()
	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("cortex_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres container: %v\n", err)
		return 1
	}
	defer func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			fmt.Fprintf(os.Stderr, "terminate container: %v\n", termErr)
		}
	}()

	testDSN, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "get connection string: %v\n", err)
		return 1
	}
	return m.Run()
}

// newTestStore connects to the container, applies migrations and empties
// every table the gateway reads or writes.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	st, err := New(ctx, PoolConfig{DSN: testDSN, MaxConns: 4}, nil)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	require.NoError(t, st.RunMigrations(ctx))
	_, err = st.pool.Exec(ctx, `
		TRUNCATE queue, backfill_batches, classifications, emails_raw, emails_parsed,
		         gmail_labels, sync_jobs RESTART IDENTITY
	`)
	require.NoError(t, err)
	return st
}

func insertEmail(t *testing.T, st *Store, gmailID string, labels []string, from *string, date *time.Time) {
	t.Helper()
	ctx := context.Background()
	_, err := st.pool.Exec(ctx, `INSERT INTO emails_raw (gmail_id, label_ids) VALUES ($1, COALESCE($2::text[], '{}'))`, gmailID, labels)
	require.NoError(t, err)
	if from == nil {
		return
	}
	_, err = st.pool.Exec(ctx, `
		INSERT INTO emails_parsed (gmail_id, subject, from_addr, date_header)
		VALUES ($1::text, 'subject ' || $1::text, $2, $3)
	`, gmailID, *from, date)
	require.NoError(t, err)
}

func classifyEmail(t *testing.T, st *Store, gmailID, label string) {
	t.Helper()
	_, err := st.pool.Exec(context.Background(), `
		INSERT INTO classifications (gmail_id, action_taken)
		VALUES ($1, jsonb_build_object('label', $2::text, 'action', 'keep'))
	`, gmailID, label)
	require.NoError(t, err)
}

func insertJob(t *testing.T, st *Store, queue string, status models.JobStatus, attempts int, lastErr *string) int64 {
	t.Helper()
	var id int64
	err := st.pool.QueryRow(context.Background(), `
		INSERT INTO queue (queue_name, status, attempts, last_error)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, queue, string(status), attempts, lastErr).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestPostgresRetryAndDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	msg := "smtp timeout"

	failed := insertJob(t, st, "email-parse", models.StatusFailed, 3, &msg)
	pending := insertJob(t, st, "email-parse", models.StatusPending, 0, nil)

	job, err := st.RetryDeadLetter(ctx, failed)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, job.Status)
	require.Equal(t, 4, job.Attempts)
	require.NotNil(t, job.LastError)
	require.Equal(t, msg, *job.LastError)

	_, err = st.RetryDeadLetter(ctx, failed)
	require.ErrorIs(t, err, models.ErrInvalidState)
	_, err = st.RetryDeadLetter(ctx, 1_000_000)
	require.ErrorIs(t, err, models.ErrNotFound)

	require.ErrorIs(t, st.DeleteDeadLetter(ctx, pending), models.ErrInvalidState)

	again := insertJob(t, st, "email-parse", models.StatusFailed, 1, nil)
	require.NoError(t, st.DeleteDeadLetter(ctx, again))
	require.ErrorIs(t, st.DeleteDeadLetter(ctx, again), models.ErrNotFound)
}

func TestPostgresRetryAllAndList(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	insertJob(t, st, "email-parse", models.StatusFailed, 1, nil)
	insertJob(t, st, "email-parse", models.StatusFailed, 3, nil)
	insertJob(t, st, "triage", models.StatusFailed, 1, nil)

	list, err := st.ListDeadLetters(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)

	n, err := st.RetryAllDeadLetters(ctx, "email-parse")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	stats, err := st.QueueStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats["email-parse"][models.StatusPending])
	require.Equal(t, int64(1), stats["triage"][models.StatusFailed])
}

func TestPostgresBackfill(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	plan := models.BackfillPlan{Batch: models.BackfillBatch{
		ID:       uuid.NewString(),
		Queue:    "triage",
		StartDay: start,
		EndDay:   start.AddDate(0, 0, 3),
		Priority: -100,
	}}
	for i := 0; i < 4; i++ {
		day := start.AddDate(0, 0, i)
		plan.Partitions = append(plan.Partitions, models.BackfillPartition{
			Day:     day,
			Payload: map[string]any{"backfill": true, "day": day.Format(models.DayLayout), "batch_id": plan.Batch.ID},
		})
	}

	batch, err := st.CreateBackfill(ctx, plan)
	require.NoError(t, err)
	require.Equal(t, 4, batch.JobCount)

	_, err = st.CreateBackfill(ctx, plan)
	require.ErrorIs(t, err, models.ErrConflict)

	_, err = st.pool.Exec(ctx, `
		UPDATE queue SET status = 'running'
		WHERE id = (SELECT MIN(id) FROM queue WHERE batch_id = $1)
	`, batch.ID)
	require.NoError(t, err)

	res, err := st.CancelBackfill(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), res.Cancelled)
	require.Equal(t, int64(1), res.Running)

	progress, err := st.BackfillProgress(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), progress.Cancelled)
	require.Equal(t, int64(1), progress.Running)

	_, err = st.CancelBackfill(ctx, uuid.NewString())
	require.ErrorIs(t, err, models.ErrNotFound)

	batches, err := st.ListBackfills(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, batch.ID, batches[0].ID)
}

func TestPostgresTriageStats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.pool.Exec(ctx, `
		INSERT INTO classifications (gmail_id, matched_chain, action_taken)
		VALUES ('a', 'newsletters', '{"label":"news","action":"archive"}'),
		       ('b', NULL, '{"label":"bills","action":"keep"}')
	`)
	require.NoError(t, err)

	stats, err := st.TriageStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.MethodCounts["rule"])
	require.Equal(t, int64(1), stats.MethodCounts["llm"])

	out, err := st.ListClassifications(ctx, models.ClassificationFilter{Label: "news", Limit: 10})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "a", out[0].GmailID)
}

func TestPostgresRerunTriage(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	shop, promo, odd, near := "orders@shop.com", "deals@promo.shop.com", "a_b%c@x.com", "axb@x.com"

	insertEmail(t, st, "g1", nil, &shop, nil)
	insertEmail(t, st, "g2", nil, &promo, nil)
	insertEmail(t, st, "g3", nil, &odd, nil)
	insertEmail(t, st, "g4", nil, nil, nil)
	insertEmail(t, st, "g5", nil, &near, nil)
	classifyEmail(t, st, "g1", "Cortex/Receipts")
	classifyEmail(t, st, "g3", "Cortex/Receipts")

	since := time.Now().Add(-time.Hour)
	n, err := st.RerunTriage(ctx, models.RerunRequest{Queue: "triage", GmailIDs: []string{"g1", "g4", "missing"}, Priority: -100})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = st.RerunTriage(ctx, models.RerunRequest{Queue: "triage", Label: "Cortex/Receipts", Since: since, Priority: -100})
	require.NoError(t, err)
	require.Equal(t, int64(1), n, "g1 already has a pending job")

	n, err = st.RerunTriage(ctx, models.RerunRequest{Queue: "triage", Label: "Cortex/Receipts", Since: since, Force: true})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = st.RerunTriage(ctx, models.RerunRequest{Queue: "triage", Senders: []string{"*@*shop.com"}, Since: since, Force: true})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	n, err = st.RerunTriage(ctx, models.RerunRequest{Queue: "triage", Senders: []string{"a_b*"}, Since: since, Force: true})
	require.NoError(t, err)
	require.Equal(t, int64(1), n, "_ in a sender glob is literal")

	n, err = st.RerunTriage(ctx, models.RerunRequest{Queue: "triage", Label: "Cortex/Receipts", Since: time.Now().Add(time.Hour), Force: true})
	require.NoError(t, err)
	require.Zero(t, n)

	var payload map[string]any
	require.NoError(t, st.pool.QueryRow(ctx, `
		SELECT payload FROM queue WHERE gmail_id = 'g4' AND queue_name = 'triage'
	`).Scan(&payload))
	require.Equal(t, true, payload["rerun"])
	require.Equal(t, "g4", payload["gmail_id"])
}

func TestPostgresSyncJobs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	days := 7

	first, err := st.CreateSyncJob(ctx, models.SyncJob{Query: "after:2025/01/01", Days: &days, AfterDate: "2025-01-01"})
	require.NoError(t, err)
	require.Equal(t, models.SyncPending, first.Status)
	require.Equal(t, "2025-01-01", first.AfterDate)
	require.Equal(t, 7, *first.Days)

	second, err := st.CreateSyncJob(ctx, models.SyncJob{Query: "after:2025/02/01", AfterDate: "2025-02-01"})
	require.NoError(t, err)
	require.Nil(t, second.Days)

	got, err := st.GetSyncJob(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, first.Query, got.Query)
	_, err = st.GetSyncJob(ctx, 9999)
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = st.pool.Exec(ctx, `UPDATE sync_jobs SET status = 'completed' WHERE id = $1`, second.ID)
	require.NoError(t, err)

	all, err := st.ListSyncJobs(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, second.ID, all[0].ID)

	pending, err := st.ListSyncJobs(ctx, models.SyncPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	cancelled, err := st.CancelSyncJob(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, models.SyncCancelled, cancelled.Status)

	_, err = st.CancelSyncJob(ctx, first.ID)
	require.ErrorIs(t, err, models.ErrInvalidState)
	_, err = st.CancelSyncJob(ctx, second.ID)
	require.ErrorIs(t, err, models.ErrInvalidState)
	_, err = st.CancelSyncJob(ctx, 9999)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestPostgresEmailQueries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	shop, bank := "shop@example.com", "bank@example.com"
	early := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
	late := early.AddDate(0, 0, 5)

	insertEmail(t, st, "g1", []string{"INBOX", "Label_7"}, &shop, &early)
	insertEmail(t, st, "g2", []string{"INBOX"}, &shop, &late)
	insertEmail(t, st, "g3", []string{"Label_7"}, &bank, nil)
	insertEmail(t, st, "g4", nil, nil, nil)
	_, err := st.pool.Exec(ctx, `INSERT INTO gmail_labels (id, name) VALUES ('Label_7', 'Receipts')`)
	require.NoError(t, err)
	classifyEmail(t, st, "g1", "Cortex/Receipts")
	classifyEmail(t, st, "g2", "Cortex/Uncategorized")
	classifyEmail(t, st, "g2", "Cortex/Uncategorized")
	classifyEmail(t, st, "g3", "Cortex/Uncategorized")
	classifyEmail(t, st, "g3", "Cortex/Finance")

	list, err := st.ListEmails(ctx, models.EmailFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 4)
	require.Equal(t, []string{"g2", "g1"}, []string{list[0].GmailID, list[1].GmailID})
	require.Nil(t, list[3].FromAddr)

	labelled, err := st.ListEmails(ctx, models.EmailFilter{LabelID: "Label_7", Limit: 10})
	require.NoError(t, err)
	require.Len(t, labelled, 2)

	email, err := st.GetEmail(ctx, "g3")
	require.NoError(t, err)
	require.Equal(t, []string{"Label_7"}, email.LabelIDs)
	require.NotNil(t, email.Classification)
	require.Equal(t, "Cortex/Finance", *email.Classification.Label)
	_, err = st.GetEmail(ctx, "missing")
	require.ErrorIs(t, err, models.ErrNotFound)

	label, err := st.GetLabel(ctx, "Label_7")
	require.NoError(t, err)
	require.Equal(t, "Receipts", label.Name)
	label, err = st.GetLabel(ctx, "Label_9")
	require.NoError(t, err)
	require.Nil(t, label)

	senders, err := st.SenderClassifications(ctx, shop)
	require.NoError(t, err)
	require.Equal(t, []models.LabelCount{{Label: "Cortex/Uncategorized", Count: 2}, {Label: "Cortex/Receipts", Count: 1}}, senders)

	dist, err := st.LabelDistribution(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, models.LabelCount{Label: "Cortex/Uncategorized", Count: 2}, dist[0])

	top, err := st.UncategorizedSenders(ctx, "Cortex/Uncategorized", 10)
	require.NoError(t, err)
	require.Equal(t, []models.SenderCount{{FromAddr: shop, Count: 1}}, top)

	counts, err := st.EmailCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, models.EmailCounts{Total: 4, Parsed: 3, Classified: 3}, counts)
}
