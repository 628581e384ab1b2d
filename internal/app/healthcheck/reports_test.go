package healthcheck

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/richiesta-assistenza/service_layer/internal/app/domain/healthcheck"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage/memory"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
)

func scored(module string, score int, at time.Time) model.Result {
	return model.Result{Module: module, DisplayName: module, Score: score, Status: model.StatusForScore(score), Timestamp: at}
}

func TestBuildReport(t *testing.T) {
	to := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -7)
	day := func(n int) time.Time { return from.AddDate(0, 0, n) }

	current := []model.Result{
		scored("alpha", 90, day(1)),
		scored("alpha", 90, day(2)),
		scored("alpha", 30, day(3)),
		scored("beta", 100, day(1)),
		scored("beta", 100, day(2)),
	}
	previous := []model.Result{
		scored("alpha", 90, day(-3)),
		scored("beta", 80, day(-3)),
	}

	rep := BuildReport(current, previous, from, to)
	assert.Equal(t, 82, rep.OverallHealth)
	require.Len(t, rep.Modules, 2)

	alpha := rep.Modules[0]
	assert.Equal(t, "alpha", alpha.Module)
	assert.Equal(t, 70.0, alpha.AvgScore)
	assert.Equal(t, 30, alpha.MinScore)
	assert.Equal(t, 90, alpha.MaxScore)
	assert.Equal(t, 3, alpha.TotalChecks)
	assert.Equal(t, 1, alpha.Failures)
	assert.Equal(t, 67, alpha.Uptime)
	assert.Equal(t, TrendDegrading, alpha.Trend)

	beta := rep.Modules[1]
	assert.Equal(t, TrendImproving, beta.Trend)
	assert.Equal(t, 100, beta.Uptime)

	require.Len(t, rep.Incidents, 1)
	assert.Equal(t, 30, rep.Incidents[0].Score)

	require.Len(t, rep.Recommendations, 2)
	assert.Contains(t, rep.Recommendations[0], "peggioramento")
	assert.Contains(t, rep.Recommendations[1], "uptime 67%")
}

func TestBuildReportWithoutPreviousPeriod(t *testing.T) {
	now := time.Now().UTC()
	rep := BuildReport([]model.Result{scored("alpha", 95, now)}, nil, now.Add(-time.Hour), now)
	require.Len(t, rep.Modules, 1)
	assert.Equal(t, TrendStable, rep.Modules[0].Trend)
	assert.Len(t, rep.Recommendations, 2)
	assert.Contains(t, rep.Recommendations[0], "stabile")
	assert.Empty(t, rep.Incidents)
}

func TestRecommendationsCritical(t *testing.T) {
	recs := Recommendations([]ModuleStat{{Module: "database", AvgScore: 42.5, Uptime: 95, Trend: TrendStable}})
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0], "Attenzione immediata")
}

func TestGenerateReport(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()
	for i, score := range []int{100, 70, 40} {
		_, err := store.SaveResult(ctx, scored("database", score, now.Add(-time.Duration(i+1)*time.Hour)))
		require.NoError(t, err)
	}

	reports := NewReports(store, t.TempDir(), nil)
	_, err := reports.Generate(ctx, now, now.Add(-time.Hour))
	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatusFor(err))

	record, err := reports.Generate(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	assert.WithinDuration(t, now.AddDate(0, 0, -7), record.PeriodStart, time.Minute)

	history, err := reports.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, record.ID, history[0].ID)

	got, raw, err := reports.Open(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Path, got.Path)
	assert.True(t, bytes.HasPrefix(raw, []byte("%PDF")))

	_, _, err = reports.Open(ctx, "missing")
	assert.Equal(t, http.StatusNotFound, errors.HTTPStatusFor(err))
}

func TestReportPeriodsAreHalfOpen(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	to := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -7)

	for _, r := range []model.Result{
		scored("database", 10, from),
		scored("database", 70, from.Add(time.Hour)),
		scored("database", 100, to),
		scored("database", 46, from.Add(-time.Hour)),
	} {
		_, err := store.SaveResult(ctx, r)
		require.NoError(t, err)
	}

	rep, err := NewReports(store, t.TempDir(), nil).Build(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, rep.Modules, 1)
	db := rep.Modules[0]
	assert.Equal(t, 2, db.TotalChecks, "the result stamped at to is excluded")
	assert.Equal(t, 10, db.MinScore)
	assert.Equal(t, 70, db.MaxScore)
	// 40 against 46 degrades; counting the result at from twice would turn
	// the previous average into 28 and report an improvement.
	assert.Equal(t, TrendDegrading, db.Trend)
}
