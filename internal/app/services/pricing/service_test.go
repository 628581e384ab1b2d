package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/quote"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage/memory"
)

func TestPercentile(t *testing.T) {
	sorted := []int64{100, 200, 300, 400}
	cases := []struct {
		p    float64
		want int64
	}{
		{0, 100},
		{0.25, 175},
		{0.5, 250},
		{0.75, 325},
		{1, 400},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Percentile(sorted, tc.p), "p=%v", tc.p)
	}
	assert.Equal(t, int64(42), Percentile([]int64{42}, 0.75))
	assert.Zero(t, Percentile(nil, 0.5))
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Equal(t, Estimate{}, Summarize(nil))
}

func seedAccepted(t *testing.T, store *memory.Store, category, sub string, total int64) {
	t.Helper()
	ctx := context.Background()
	req, err := store.CreateRequest(ctx, request.Request{ClientID: "c", CategoryID: category, SubcategoryID: sub, Status: request.StatusPending})
	require.NoError(t, err)
	q, err := store.CreateQuote(ctx, quote.Quote{
		RequestID: req.ID, ProfessionalID: "p", Status: quote.StatusPending,
		Totals: quote.Totals{TotalAmount: total},
	})
	require.NoError(t, err)
	_, _, err = store.AcceptQuote(ctx, q.ID, time.Now())
	require.NoError(t, err)
}

func TestEstimate(t *testing.T) {
	store := memory.New()
	seedAccepted(t, store, "idraulica", "caldaie", 10000)
	seedAccepted(t, store, "idraulica", "caldaie", 30000)
	seedAccepted(t, store, "idraulica", "rubinetti", 5000)
	seedAccepted(t, store, "elettricista", "", 99999)
	svc := New(store, store, nil)
	ctx := context.Background()

	all, err := svc.Estimate(ctx, "idraulica", "")
	require.NoError(t, err)
	assert.Equal(t, 3, all.Count)
	assert.EqualValues(t, 5000, all.Min)
	assert.EqualValues(t, 30000, all.Max)
	assert.EqualValues(t, 15000, all.Average)
	assert.EqualValues(t, 10000, all.Median)
	assert.EqualValues(t, 7500, all.P25)
	assert.EqualValues(t, 20000, all.P75)

	sub, err := svc.Estimate(ctx, "idraulica", "caldaie")
	require.NoError(t, err)
	assert.Equal(t, 2, sub.Count)
	assert.EqualValues(t, 20000, sub.Median)

	none, err := svc.Estimate(ctx, "giardinaggio", "")
	require.NoError(t, err)
	assert.Zero(t, none.Count)
	assert.Equal(t, "giardinaggio", none.CategoryID)
}
