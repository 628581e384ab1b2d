package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/richiesta-assistenza/service_layer/internal/app/domain/healthcheck"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage/memory"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
)

type fakeRestarter struct {
	mu      sync.Mutex
	fail    map[string]error
	started []string
}

func (f *fakeRestarter) Restart(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, name)
	return f.fail[name]
}

type fakeRechecker struct{ score int }

func (f fakeRechecker) RunCheck(_ context.Context, module string) (model.Result, error) {
	return model.Result{Module: module, Score: f.score, Status: model.StatusForScore(f.score)}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (f *fakeNotifier) SendToAdmins(_ context.Context, msg notification.Message) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return 1, nil
}

func (f *fakeNotifier) messages() []notification.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification.Message(nil), f.sent...)
}

type countingCache struct{ cleared int }

func (c *countingCache) ClearCache(context.Context) (int, error) {
	c.cleared++
	return 4, nil
}

func failedResult(module string, score int, errs ...string) model.Result {
	b := model.NewBuilder(module, module)
	for _, e := range errs {
		b.Fail("check", "check", e, model.SeverityHigh, 0)
	}
	r := b.Build()
	r.Score = score
	r.Status = model.StatusForScore(score)
	return r
}

func TestMatches(t *testing.T) {
	db := failedResult(ModuleDatabase, 40, "database ping failed: refused")
	db.Checks[0].Name = "connection"
	redisHot := model.NewBuilder(ModuleRedis, "Redis").Metric("memoryPercent", 82.5).Build()
	redisCool := model.NewBuilder(ModuleRedis, "Redis").Metric("memoryPercent", 40.0).Build()

	rules := map[string]Rule{}
	for _, r := range DefaultRules() {
		rules[r.ID] = r
	}

	cases := []struct {
		name   string
		rule   Rule
		result model.Result
		want   bool
	}{
		{"failed connection", rules["database-connection-fix"], db, true},
		{"score above threshold", rules["database-connection-fix"], func() model.Result { r := db; r.Score = 55; return r }(), false},
		{"other module", rules["database-connection-fix"], failedResult(ModuleChat, 10, "x"), false},
		{"error substring", rules["chat-websocket-fix"], failedResult(ModuleChat, 60, "WebSocket hub is not running"), true},
		{"metric above", rules["cache-cleanup"], redisHot, true},
		{"metric below", rules["cache-cleanup"], redisCool, false},
		{"disabled", func() Rule { r := rules["chat-websocket-fix"]; r.Enabled = false; return r }(), failedResult(ModuleChat, 60, "websocket hub is not running"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Matches(tc.rule, tc.result))
		})
	}
}

func TestMetricValue(t *testing.T) {
	r := model.NewBuilder(ModuleRedis, "Redis").Metric("memoryPercent", 91.0).Build()
	v, err := MetricValue("$.metrics.memoryPercent", r)
	require.NoError(t, err)
	assert.InDelta(t, 91.0, v, 0.001)

	v, err = MetricValue("$.score", r)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, v, 0.001)

	_, err = MetricValue("$.module", r)
	assert.Error(t, err)
}

func TestRunScript(t *testing.T) {
	r := model.NewBuilder(ModuleAI, "AI").Pass("embedder", "emb", "ok").Build()

	ok, err := RunScript("result.score >= 80", r, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = RunScript("result.module === 'redis'", r, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = RunScript("while (true) {}", r, 50*time.Millisecond)
	assert.Error(t, err)
}

func TestProcessRestartsAndRespectsCooldown(t *testing.T) {
	store := memory.New()
	rem, err := NewRemediation(store, "", nil)
	require.NoError(t, err)
	restarter := &fakeRestarter{}
	notifier := &fakeNotifier{}
	rem.AttachDependencies(fakeRechecker{score: 100}, restarter, notifier)

	_, err = rem.UpdateRule("chat-websocket-fix", func() Rule {
		r, _ := rem.Rule("chat-websocket-fix")
		r.MaxAttempts = 1
		return r
	}())
	require.NoError(t, err)

	result := failedResult(ModuleChat, 60, "websocket hub is not running")
	records, err := rem.Process(context.Background(), result)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.True(t, rec.Success)
	assert.Equal(t, 60, rec.ScoreBefore)
	require.NotNil(t, rec.ScoreAfter)
	assert.Equal(t, 100, *rec.ScoreAfter)
	assert.Equal(t, []string{"websocket-hub"}, restarter.started)
	require.Len(t, notifier.messages(), 1)
	assert.Equal(t, "Auto-remediation riuscita", notifier.messages()[0].Title)

	records, err = rem.Process(context.Background(), result)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Len(t, restarter.started, 1)

	history, err := rem.History(context.Background(), "chat-websocket-fix", time.Time{})
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestProcessFallsThroughToNextRule(t *testing.T) {
	store := memory.New()
	rem, err := NewRemediation(store, "", nil)
	require.NoError(t, err)
	restarter := &fakeRestarter{fail: map[string]error{"primary": fmt.Errorf("still down")}}
	notifier := &fakeNotifier{}
	cache := &countingCache{}
	rem.AttachDependencies(nil, restarter, notifier)
	rem.RegisterCache("lookup", cache)

	_, err = rem.CreateRule(Rule{
		ID: "custom-restart", Module: "custom", Enabled: true, NotifyOnFailure: true,
		Condition: Condition{ScoreBelow: 70},
		Actions:   []Action{{Type: ActionRestartService, Target: "primary", Description: "restart primary"}},
	})
	require.NoError(t, err)
	_, err = rem.CreateRule(Rule{
		ID: "custom-cache", Module: "custom", Enabled: true,
		Condition: Condition{ScoreBelow: 70},
		Actions:   []Action{{Type: ActionClearCache, Target: "lookup", Description: "clear lookup cache"}},
	})
	require.NoError(t, err)
	_, err = rem.CreateRule(Rule{
		ID: "custom-never", Module: "custom", Enabled: true,
		Condition: Condition{ScoreBelow: 70},
		Actions:   []Action{{Type: ActionNotifyOnly, Description: "never reached"}},
	})
	require.NoError(t, err)

	records, err := rem.Process(context.Background(), failedResult("custom", 30))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.False(t, records[0].Success)
	assert.Contains(t, records[0].Error, "still down")
	assert.True(t, records[1].Success)
	assert.Equal(t, []string{"clear lookup cache"}, records[1].Actions)
	assert.Equal(t, 1, cache.cleared)

	sent := notifier.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Auto-remediation fallita", sent[0].Title)
}

func TestRuleCRUDPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	rem, err := NewRemediation(memory.New(), path, nil)
	require.NoError(t, err)
	assert.Len(t, rem.Rules(), len(DefaultRules()))

	_, err = rem.CreateRule(Rule{ID: "auth-jwt-fix", Module: ModuleAuth, Actions: []Action{{Type: ActionNotifyOnly}}})
	assert.Equal(t, http.StatusConflict, errors.HTTPStatusFor(err))

	_, err = rem.CreateRule(Rule{ID: "bad-script", Module: ModuleAI, Actions: []Action{{Type: ActionRunScript, Script: "function ("}}})
	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatusFor(err))

	_, err = rem.CreateRule(Rule{ID: "no-target", Module: ModuleAI, Actions: []Action{{Type: ActionRestartService}}})
	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatusFor(err))

	created, err := rem.CreateRule(Rule{ID: "extra", Module: ModuleBackup, Enabled: true, Actions: []Action{{Type: ActionNotifyOnly, Description: "page ops"}}})
	require.NoError(t, err)
	assert.Equal(t, 1, created.MaxAttempts)

	_, err = rem.SetEnabled("auth-jwt-fix", false)
	require.NoError(t, err)
	require.NoError(t, rem.DeleteRule("cache-cleanup"))
	assert.Equal(t, http.StatusNotFound, errors.HTTPStatusFor(rem.DeleteRule("cache-cleanup")))

	reloaded, err := NewRemediation(memory.New(), path, nil)
	require.NoError(t, err)
	rules := reloaded.Rules()
	assert.Len(t, rules, len(DefaultRules()))
	assert.Equal(t, "extra", rules[len(rules)-1].ID)
	auth, err := reloaded.Rule("auth-jwt-fix")
	require.NoError(t, err)
	assert.False(t, auth.Enabled)
	_, err = reloaded.Rule("cache-cleanup")
	assert.Equal(t, http.StatusNotFound, errors.HTTPStatusFor(err))
}
