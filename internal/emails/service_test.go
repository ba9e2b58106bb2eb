package emails

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cortex-gateway/internal/models"
	"cortex-gateway/internal/store/memory"
)

func str(s string) *string { return &s }

var base = time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)

func seed(st *memory.Store) {
	for i := 0; i < 5; i++ {
		date := base.Add(-time.Duration(i) * time.Hour)
		st.AddEmail(models.Email{
			GmailID:    fmt.Sprintf("m%d", i),
			LabelIDs:   []string{"INBOX", fmt.Sprintf("Label_%d", i%2)},
			FromAddr:   str(fmt.Sprintf("sender%d@example.com", i%2)),
			Subject:    str(fmt.Sprintf("subject %d", i)),
			DateHeader: &date,
		})
	}
	st.AddEmail(models.Email{GmailID: "unparsed", LabelIDs: []string{"INBOX"}})
	st.AddLabel("Label_1", "Receipts")

	classify := func(id, label string, at time.Time) {
		st.AddClassification(models.Classification{GmailID: id, Label: str(label), Action: str("archive"), CreatedAt: at})
	}
	classify("m0", "Cortex/Uncategorized", base)
	classify("m0", "Cortex/Newsletters", base.Add(time.Minute))
	classify("m1", "Cortex/Receipts", base)
	classify("m2", "Cortex/Uncategorized", base)
	classify("m4", "Cortex/Uncategorized", base)
	classify("m3", "Cortex/Receipts", base)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	st := memory.New()
	seed(st)
	return NewService(st, Options{Timeout: time.Second})
}

func TestListNewestFirstUnparsedLast(t *testing.T) {
	svc := newTestService(t)

	page, err := svc.List(context.Background(), models.EmailFilter{})
	require.NoError(t, err)
	require.Equal(t, 50, page.Limit)
	require.Equal(t, 6, page.Count)
	require.Equal(t, "m0", page.Emails[0].GmailID)
	require.Equal(t, "unparsed", page.Emails[5].GmailID)

	page, err = svc.List(context.Background(), models.EmailFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"m2", "m3"}, []string{page.Emails[0].GmailID, page.Emails[1].GmailID})

	page, err = svc.List(context.Background(), models.EmailFilter{Limit: 1000})
	require.NoError(t, err)
	require.Equal(t, 100, page.Limit)

	_, err = svc.List(context.Background(), models.EmailFilter{Offset: -1})
	require.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestByLabel(t *testing.T) {
	svc := newTestService(t)

	page, err := svc.ByLabel(context.Background(), "Label_1", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 2, page.Count)
	require.Equal(t, &models.GmailLabel{ID: "Label_1", Name: "Receipts"}, page.Label)
	for _, e := range page.Emails {
		require.Contains(t, e.LabelIDs, "Label_1")
	}

	page, err = svc.ByLabel(context.Background(), "Label_0", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 3, page.Count)
	require.Nil(t, page.Label)
}

func TestGet(t *testing.T) {
	svc := newTestService(t)

	e, err := svc.Get(context.Background(), "m0")
	require.NoError(t, err)
	require.Equal(t, "subject 0", *e.Subject)
	require.NotNil(t, e.Classification)
	require.Equal(t, "Cortex/Newsletters", *e.Classification.Label)

	e, err = svc.Get(context.Background(), "unparsed")
	require.NoError(t, err)
	require.Nil(t, e.Classification)
	require.Nil(t, e.FromAddr)

	_, err = svc.Get(context.Background(), "nope")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestSenderClassifications(t *testing.T) {
	svc := newTestService(t)

	out, err := svc.SenderClassifications(context.Background(), "sender0@example.com")
	require.NoError(t, err)
	require.Equal(t, int64(4), out.Total)
	require.Equal(t, models.LabelCount{Label: "Cortex/Uncategorized", Count: 3}, out.Classifications[0])

	out, err = svc.SenderClassifications(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	require.Zero(t, out.Total)
	require.Empty(t, out.Classifications)
}

func TestDistributionAndUncategorizedSenders(t *testing.T) {
	svc := newTestService(t)

	dist, limit, err := svc.Distribution(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 50, limit)
	require.Equal(t, []models.LabelCount{
		{Label: "Cortex/Uncategorized", Count: 3},
		{Label: "Cortex/Receipts", Count: 2},
		{Label: "Cortex/Newsletters", Count: 1},
	}, dist)

	_, limit, err = svc.Distribution(context.Background(), 500)
	require.NoError(t, err)
	require.Equal(t, 200, limit)

	senders, limit, err := svc.UncategorizedSenders(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 20, limit)
	require.Equal(t, []models.SenderCount{{FromAddr: "sender0@example.com", Count: 2}}, senders)
}

func TestCounts(t *testing.T) {
	svc := newTestService(t)
	c, err := svc.Counts(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.EmailCounts{Total: 6, Parsed: 5, Classified: 5}, c)
}
