package healthcheck

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/richiesta-assistenza/service_layer/internal/app/domain/healthcheck"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/auth"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/notifications"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage/memory"
)

type fakeDB struct {
	pingErr error
	stats   sql.DBStats
}

func (f fakeDB) PingContext(context.Context) error { return f.pingErr }
func (f fakeDB) Stats() sql.DBStats                { return f.stats }

func TestDatabaseChecker(t *testing.T) {
	ctx := context.Background()

	ok, err := DatabaseChecker{DB: fakeDB{stats: sql.DBStats{MaxOpenConnections: 25, OpenConnections: 3}}}.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, ok.Score)
	assert.Equal(t, model.StatusHealthy, ok.Status)

	busy, err := DatabaseChecker{DB: fakeDB{stats: sql.DBStats{MaxOpenConnections: 10, OpenConnections: 9}}}.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 80, busy.Score)
	assert.Len(t, busy.Warnings, 1)

	down, err := DatabaseChecker{DB: fakeDB{pingErr: fmt.Errorf("connection refused")}}.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, down.Score)
	assert.Equal(t, model.StatusCritical, down.Status)
	check, found := down.Check("connection")
	require.True(t, found)
	assert.Equal(t, model.CheckFail, check.Status)
}

type failingIssuer struct{}

func (failingIssuer) IssueAccessToken(user.User) (string, error) { return "", fmt.Errorf("boom") }

func TestAuthChecker(t *testing.T) {
	ctx := context.Background()
	strong := []byte("0123456789abcdef0123456789abcdef")

	svc := auth.New(memory.New(), auth.Config{Secret: strong}, nil)
	r, err := AuthChecker{Secret: strong, Issuer: svc}.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, r.Score)

	weak := []byte("short-secret")
	r, err = AuthChecker{Secret: weak, Issuer: auth.New(memory.New(), auth.Config{Secret: weak}, nil)}.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, r.Score)
	assert.NotEmpty(t, r.Recommendations)

	r, err = AuthChecker{Secret: strong, Issuer: failingIssuer{}}.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, r.Score)
	assert.True(t, r.Mentions("jwt sign/verify failed", false))
}

func TestParseRedisMemory(t *testing.T) {
	used, max := ParseRedisMemory("# Memory\r\nused_memory:900\r\nused_memory_human:900B\r\nmaxmemory:1000\r\n")
	assert.Equal(t, int64(900), used)
	assert.Equal(t, int64(1000), max)
}

type fakeNotifications struct {
	stats      notifications.DeliveryStats
	hub        bool
	configured bool
	connected  bool
}

func (f fakeNotifications) DeliveryStatsSince(context.Context, time.Time) (notifications.DeliveryStats, error) {
	return f.stats, nil
}
func (f fakeNotifications) HubRunning() bool      { return f.hub }
func (f fakeNotifications) QueueConfigured() bool { return f.configured }
func (f fakeNotifications) QueueConnected() bool  { return f.connected }

func TestNotificationChecker(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		src  fakeNotifications
		want int
	}{
		{"healthy", fakeNotifications{stats: notifications.DeliveryStats{FailureRate: 2}, hub: true}, 100},
		{"elevated failures", fakeNotifications{stats: notifications.DeliveryStats{FailureRate: 12}, hub: true}, 75},
		{"everything down", fakeNotifications{stats: notifications.DeliveryStats{FailureRate: 30}, configured: true}, 0},
		{"queue connected", fakeNotifications{hub: true, configured: true, connected: true}, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := NotificationChecker{Source: tc.src}.Check(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, r.Score)
		})
	}
}

type fakeHub bool

func (h fakeHub) Running() bool { return bool(h) }

type fakePayments struct {
	configured bool
	failed     int
}

func (f fakePayments) Configured() bool { return f.configured }
func (f fakePayments) FailedSince(context.Context, time.Time) (int, error) {
	return f.failed, nil
}

type flag bool

func (f flag) Configured() bool { return bool(f) }
func (f flag) Semantic() bool   { return bool(f) }

func TestSimpleCheckers(t *testing.T) {
	ctx := context.Background()

	r, err := ChatChecker{Hub: fakeHub(false)}.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, r.Score)
	assert.True(t, r.Mentions("websocket hub is not running", false))

	r, err = PaymentChecker{Source: fakePayments{configured: false, failed: 6}}.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, r.Score)

	r, err = PaymentChecker{Source: fakePayments{configured: true, failed: 5}}.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, r.Score)

	r, err = AIChecker{}.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, r.Score)

	r, err = AIChecker{Generator: flag(true), Embedder: flag(true)}.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, r.Score)
}

func TestRequestChecker(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		_, err := store.CreateRequest(ctx, request.Request{Title: fmt.Sprintf("r%d", i), ClientID: "c", Status: request.StatusPending})
		require.NoError(t, err)
	}
	_, err := store.CreateRequest(ctx, request.Request{Title: "assigned", ClientID: "c", ProfessionalID: "p", Status: request.StatusAssigned})
	require.NoError(t, err)

	fresh, err := RequestChecker{Requests: store}.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, fresh.Score)

	later := func() time.Time { return time.Now().Add(49 * time.Hour) }
	stale, err := RequestChecker{Requests: store, Now: later}.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 75, stale.Score)
	assert.Equal(t, 12, stale.Metrics["stalePending"])
}

func TestBackupChecker(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	r, err := BackupChecker{Dir: dir}.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, r.Score)

	file := filepath.Join(dir, "db-2026-01-01.sql.gz")
	require.NoError(t, os.WriteFile(file, []byte("dump"), 0o600))
	r, err = BackupChecker{Dir: dir}.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, r.Score)

	old := time.Now().Add(-30 * time.Hour)
	require.NoError(t, os.Chtimes(file, old, old))
	r, err = BackupChecker{Dir: dir}.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, r.Score)
}
