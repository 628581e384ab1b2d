package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richiesta-assistenza/service_layer/internal/app/healthcheck"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/auth"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestApplication(t *testing.T) *Application {
	t.Helper()
	dir := t.TempDir()
	application, err := New(Stores{}, Options{
		JWTSecret: testSecret,
		HealthCheck: HealthCheckOptions{
			ReportDir: dir,
		},
	}, nil)
	require.NoError(t, err)
	return application
}

func TestNewRegistersServices(t *testing.T) {
	application := newTestApplication(t)

	assert.Equal(t, []string{"websocket-hub", "referral-expiry-sweeper", "health-check-scheduler"}, application.Services())

	modules := application.Health.Modules()
	assert.Contains(t, modules, healthcheck.ModuleAuth)
	assert.Contains(t, modules, healthcheck.ModuleChat)
	assert.Contains(t, modules, healthcheck.ModuleRequests)
	assert.NotContains(t, modules, healthcheck.ModuleDatabase)
	assert.NotContains(t, modules, healthcheck.ModuleBackup)
}

func TestMonitorRegisteredWhenEnabled(t *testing.T) {
	application, err := New(Stores{}, Options{
		JWTSecret:   testSecret,
		HealthCheck: HealthCheckOptions{Monitor: true, ReportDir: t.TempDir()},
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, application.Services(), "performance-monitor")
}

func TestApplicationLifecycle(t *testing.T) {
	application := newTestApplication(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, application.Start(ctx))
	assert.True(t, application.Hub.Running())
	require.NoError(t, application.Restart(ctx, "websocket-hub"))
	assert.True(t, application.Hub.Running())
	require.NoError(t, application.Stop(ctx))
	assert.False(t, application.Hub.Running())
}

func TestRegisteredUserCanBeChecked(t *testing.T) {
	application := newTestApplication(t)
	ctx := context.Background()

	session, err := application.Auth.Register(ctx, auth.RegisterInput{
		Email:     "mario.rossi@example.com",
		Password:  "Password123!",
		FirstName: "Mario",
		LastName:  "Rossi",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, session.Tokens.AccessToken)

	result, err := application.Health.RunCheck(ctx, healthcheck.ModuleAuth)
	require.NoError(t, err)
	assert.Equal(t, 100, result.Score)
}
