package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/richiesta-assistenza/service_layer/internal/app/domain/healthcheck"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage/memory"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
)

// stubChecker returns a fixed score or error.
type stubChecker struct {
	module string
	score  int
	err    error
	calls  int
}

func (c *stubChecker) Module() string      { return c.module }
func (c *stubChecker) DisplayName() string { return "Stub " + c.module }

func (c *stubChecker) Check(context.Context) (model.Result, error) {
	c.calls++
	if c.err != nil {
		return model.Result{}, c.err
	}
	b := model.NewBuilder(c.module, c.DisplayName())
	if c.score < 100 {
		b.Fail("stub", "Stub check", fmt.Sprintf("%s degraded", c.module), model.SeverityHigh, 100-c.score)
	} else {
		b.Pass("stub", "Stub check", "ok")
	}
	return b.Build(), nil
}

func TestRunCheck(t *testing.T) {
	svc := NewService(memory.New(), nil)
	svc.Register(&stubChecker{module: "alpha", score: 90})
	svc.Register(&stubChecker{module: "broken", err: fmt.Errorf("check exploded")})

	_, err := svc.RunCheck(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, errors.HTTPStatusFor(err))

	r, err := svc.RunCheck(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, 90, r.Score)
	assert.Equal(t, model.StatusHealthy, r.Status)
	assert.Equal(t, "Stub alpha", r.DisplayName)
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.Timestamp.IsZero())

	r, err = svc.RunCheck(context.Background(), "broken")
	require.NoError(t, err)
	assert.Equal(t, 0, r.Score)
	assert.Equal(t, model.StatusUnknown, r.Status)
	assert.Contains(t, r.Errors, "check exploded")
}

func TestRunAllAndSummary(t *testing.T) {
	svc := NewService(memory.New(), nil)
	for _, c := range []*stubChecker{
		{module: "c-mod", score: 100},
		{module: "a-mod", score: 70},
		{module: "b-mod", score: 41},
	} {
		svc.Register(c)
	}
	assert.Equal(t, []string{"c-mod", "a-mod", "b-mod"}, svc.Modules())

	results, err := svc.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "c-mod", results[0].Module)
	assert.Equal(t, "b-mod", results[2].Module)

	sum, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 70, sum.OverallScore)
	assert.Equal(t, model.StatusWarning, sum.OverallStatus)
	assert.Equal(t, 1, sum.Healthy)
	assert.Equal(t, 1, sum.Warning)
	assert.Equal(t, 1, sum.Critical)
	require.Len(t, sum.Modules, 3)
	assert.Equal(t, "a-mod", sum.Modules[0].Module)
}

func TestSummarizeEmpty(t *testing.T) {
	sum := Summarize(nil, time.Now())
	assert.Equal(t, model.StatusUnknown, sum.OverallStatus)
	assert.Equal(t, 0, sum.OverallScore)
	assert.NotNil(t, sum.Modules)
}

func TestHistoryAndCleanup(t *testing.T) {
	store := memory.New()
	svc := NewService(store, nil)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -40)
	for i := 0; i < 3; i++ {
		_, err := store.SaveResult(ctx, model.Result{Module: "alpha", Score: 90, Status: model.StatusHealthy, Timestamp: old.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}
	_, err := store.SaveResult(ctx, model.Result{Module: "alpha", Score: 50, Status: model.StatusCritical})
	require.NoError(t, err)

	history, err := svc.History(ctx, "alpha", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 50, history[0].Score)

	removed, err := svc.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	history, err = svc.History(ctx, "alpha", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	empty, err := svc.History(ctx, "nobody", 0)
	require.NoError(t, err)
	assert.NotNil(t, empty)
}
