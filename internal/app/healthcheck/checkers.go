package healthcheck

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	model "github.com/richiesta-assistenza/service_layer/internal/app/domain/healthcheck"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/notifications"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/middleware"
)

// Module names.
const (
	ModuleAuth          = "auth-system"
	ModuleDatabase      = "database"
	ModuleRedis         = "redis"
	ModuleNotifications = "notification-system"
	ModuleChat          = "chat-system"
	ModulePayments      = "payment-system"
	ModuleAI            = "ai-system"
	ModuleRequests      = "request-system"
	ModuleBackup        = "backup-system"
)

// Checker probes one module.
type Checker interface {
	Module() string
	DisplayName() string
	Check(ctx context.Context) (model.Result, error)
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	IssueAccessToken(u user.User) (string, error)
}

// AuthChecker verifies the JWT secret and a sign/verify round trip.
type AuthChecker struct {
	Secret []byte
	Issuer TokenIssuer
}

func (AuthChecker) Module() string      { return ModuleAuth }
func (AuthChecker) DisplayName() string { return "Autenticazione" }

func (c AuthChecker) Check(_ context.Context) (model.Result, error) {
	b := model.NewBuilder(ModuleAuth, c.DisplayName())
	if len(c.Secret) < 32 {
		b.Fail("jwt_secret", "JWT secret strength", "JWT secret missing or shorter than 32 bytes", model.SeverityCritical, 40).
			Recommend("Configure a random JWT secret of at least 32 bytes")
	} else {
		b.Pass("jwt_secret", "JWT secret strength", "JWT secret configured")
	}

	token, err := c.Issuer.IssueAccessToken(user.User{ID: "health-check", Email: "health@check.local", Role: user.RoleAdmin})
	if err == nil {
		var claims *middleware.Claims
		claims, err = middleware.ParseToken(c.Secret, token, middleware.TokenTypeAccess)
		if err == nil && claims.UserID != "health-check" {
			err = fmt.Errorf("token subject mismatch")
		}
	}
	if err != nil {
		b.Fail("jwt_roundtrip", "Token sign and verify", "JWT sign/verify failed: "+err.Error(), model.SeverityCritical, 50)
	} else {
		b.Pass("jwt_roundtrip", "Token sign and verify", "JWT sign/verify works")
	}
	return b.Build(), nil
}

// DB is the subset of *sql.DB used by the database checker.
type DB interface {
	PingContext(ctx context.Context) error
	Stats() sql.DBStats
}

// DatabaseChecker probes connectivity, latency and pool pressure.
type DatabaseChecker struct {
	DB DB
}

func (DatabaseChecker) Module() string      { return ModuleDatabase }
func (DatabaseChecker) DisplayName() string { return "Database" }

func (c DatabaseChecker) Check(ctx context.Context) (model.Result, error) {
	b := model.NewBuilder(ModuleDatabase, c.DisplayName())
	start := time.Now()
	err := c.DB.PingContext(ctx)
	latency := time.Since(start)
	b.Metric("latencyMs", latency.Milliseconds())
	if err != nil {
		b.Fail("connection", "Database connection", "database ping failed: "+err.Error(), model.SeverityCritical, 60).
			Recommend("Verify DATABASE_URL and that PostgreSQL is reachable")
		return b.Build(), nil
	}
	b.Pass("connection", "Database connection", "database reachable")

	if latency > 100*time.Millisecond {
		b.Warn("latency", "Query latency", fmt.Sprintf("database latency %d ms above 100 ms", latency.Milliseconds()), 15)
	} else {
		b.Pass("latency", "Query latency", fmt.Sprintf("%d ms", latency.Milliseconds()))
	}

	stats := c.DB.Stats()
	b.Metric("openConnections", stats.OpenConnections).
		Metric("inUse", stats.InUse).
		Metric("maxOpenConnections", stats.MaxOpenConnections)
	if stats.MaxOpenConnections > 0 && stats.OpenConnections*10 >= stats.MaxOpenConnections*9 {
		b.Warn("pool", "Connection pool", fmt.Sprintf("connection pool at %d/%d", stats.OpenConnections, stats.MaxOpenConnections), 20).
			Recommend("Raise the pool size or look for leaked connections")
	} else {
		b.Pass("pool", "Connection pool", fmt.Sprintf("%d open connections", stats.OpenConnections))
	}
	return b.Build(), nil
}

// RedisChecker probes the cache server.
type RedisChecker struct {
	Client redis.UniversalClient
}

func (RedisChecker) Module() string      { return ModuleRedis }
func (RedisChecker) DisplayName() string { return "Redis" }

func (c RedisChecker) Check(ctx context.Context) (model.Result, error) {
	b := model.NewBuilder(ModuleRedis, c.DisplayName())
	start := time.Now()
	if err := c.Client.Ping(ctx).Err(); err != nil {
		b.Fail("ping", "Redis ping", "redis ping failed: "+err.Error(), model.SeverityHigh, 50)
		return b.Build(), nil
	}
	latency := time.Since(start)
	b.Metric("latencyMs", latency.Milliseconds())
	if latency > 50*time.Millisecond {
		b.Warn("latency", "Redis latency", fmt.Sprintf("redis ping %d ms above 50 ms", latency.Milliseconds()), 10)
	} else {
		b.Pass("ping", "Redis ping", "redis reachable")
	}

	info, err := c.Client.Info(ctx, "memory").Result()
	if err != nil {
		b.Warn("memory", "Redis memory", "redis INFO failed: "+err.Error(), 0)
		return b.Build(), nil
	}
	used, max := ParseRedisMemory(info)
	b.Metric("usedMemory", used).Metric("maxMemory", max)
	if max > 0 {
		pct := float64(used) / float64(max) * 100
		b.Metric("memoryPercent", pct)
		switch {
		case pct > 90:
			b.Fail("memory", "Redis memory", fmt.Sprintf("redis memory at %.0f%%", pct), model.SeverityHigh, 30).
				Recommend("Increase maxmemory or review key expiry")
		case pct > 75:
			b.Warn("memory", "Redis memory", fmt.Sprintf("redis memory at %.0f%%", pct), 15)
		default:
			b.Pass("memory", "Redis memory", fmt.Sprintf("%.0f%% used", pct))
		}
	}
	return b.Build(), nil
}

// ParseRedisMemory extracts used_memory and maxmemory from an INFO memory
// reply.
func ParseRedisMemory(info string) (used, max int64) {
	for _, line := range strings.Split(info, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		switch key {
		case "used_memory":
			used = n
		case "maxmemory":
			max = n
		}
	}
	return used, max
}

// NotificationSource exposes delivery health.
type NotificationSource interface {
	DeliveryStatsSince(ctx context.Context, since time.Time) (notifications.DeliveryStats, error)
	HubRunning() bool
	QueueConfigured() bool
	QueueConnected() bool
}

// NotificationChecker looks at the last 24 h of deliveries.
type NotificationChecker struct {
	Source NotificationSource
	Now    func() time.Time
}

func (NotificationChecker) Module() string      { return ModuleNotifications }
func (NotificationChecker) DisplayName() string { return "Notifiche" }

func (c NotificationChecker) Check(ctx context.Context) (model.Result, error) {
	b := model.NewBuilder(ModuleNotifications, c.DisplayName())
	stats, err := c.Source.DeliveryStatsSince(ctx, nowOr(c.Now).Add(-24*time.Hour))
	if err != nil {
		return model.Result{}, err
	}
	b.Metric("total24h", stats.Total).Metric("failed24h", stats.Failed).Metric("failureRate", stats.FailureRate)
	switch {
	case stats.FailureRate > 25:
		b.Fail("delivery_rate", "Delivery failure rate", fmt.Sprintf("notification failure rate %.1f%% in 24h", stats.FailureRate), model.SeverityHigh, 40)
	case stats.FailureRate > 10:
		b.Warn("delivery_rate", "Delivery failure rate", fmt.Sprintf("notification failure rate %.1f%% in 24h", stats.FailureRate), 25)
	default:
		b.Pass("delivery_rate", "Delivery failure rate", fmt.Sprintf("%.1f%%", stats.FailureRate))
	}

	if c.Source.HubRunning() {
		b.Pass("websocket", "WebSocket server", "websocket hub running")
	} else {
		b.Fail("websocket", "WebSocket server", "websocket hub is not running", model.SeverityHigh, 30)
	}

	if c.Source.QueueConfigured() {
		if c.Source.QueueConnected() {
			b.Pass("queue", "Delivery queue", "queue connected")
		} else {
			b.Fail("queue", "Delivery queue", "notification queue disconnected", model.SeverityHigh, 30).
				Recommend("Check RABBITMQ_URL and the broker status")
		}
	}
	return b.Build(), nil
}

// HubStatus reports whether the websocket hub is serving.
type HubStatus interface {
	Running() bool
}

// ChatChecker probes the realtime hub used by request chats.
type ChatChecker struct {
	Hub HubStatus
}

func (ChatChecker) Module() string      { return ModuleChat }
func (ChatChecker) DisplayName() string { return "Chat" }

func (c ChatChecker) Check(_ context.Context) (model.Result, error) {
	b := model.NewBuilder(ModuleChat, c.DisplayName())
	if c.Hub != nil && c.Hub.Running() {
		b.Pass("websocket", "WebSocket server", "websocket hub running")
	} else {
		b.Fail("websocket", "WebSocket server", "websocket hub is not running", model.SeverityCritical, 40)
	}
	return b.Build(), nil
}

// PaymentSource exposes payment health.
type PaymentSource interface {
	Configured() bool
	FailedSince(ctx context.Context, since time.Time) (int, error)
}

// PaymentChecker verifies the gateway and recent failures.
type PaymentChecker struct {
	Source PaymentSource
	Now    func() time.Time
}

func (PaymentChecker) Module() string      { return ModulePayments }
func (PaymentChecker) DisplayName() string { return "Pagamenti" }

func (c PaymentChecker) Check(ctx context.Context) (model.Result, error) {
	b := model.NewBuilder(ModulePayments, c.DisplayName())
	if c.Source.Configured() {
		b.Pass("gateway", "Payment gateway", "payment gateway configured")
	} else {
		b.Fail("gateway", "Payment gateway", "payment gateway is not configured", model.SeverityHigh, 30).
			Recommend("Set OMISE_PUBLIC_KEY and OMISE_SECRET_KEY")
	}
	failed, err := c.Source.FailedSince(ctx, nowOr(c.Now).Add(-24*time.Hour))
	if err != nil {
		return model.Result{}, err
	}
	b.Metric("failed24h", failed)
	if failed > 5 {
		b.Warn("failures", "Failed payments", fmt.Sprintf("%d failed payments in 24h", failed), 20)
	} else {
		b.Pass("failures", "Failed payments", fmt.Sprintf("%d failed payments in 24h", failed))
	}
	return b.Build(), nil
}

// Configurable reports whether an optional integration is set up.
type Configurable interface {
	Configured() bool
}

// AIChecker verifies the assistant and the embedder.
type AIChecker struct {
	Generator Configurable
	Embedder  interface{ Semantic() bool }
}

func (AIChecker) Module() string      { return ModuleAI }
func (AIChecker) DisplayName() string { return "Assistente AI" }

func (c AIChecker) Check(_ context.Context) (model.Result, error) {
	b := model.NewBuilder(ModuleAI, c.DisplayName())
	if c.Generator != nil && c.Generator.Configured() {
		b.Pass("generator", "Generative model", "AI assistant configured")
	} else {
		b.Fail("generator", "Generative model", "AI assistant is not configured", model.SeverityHigh, 40).
			Recommend("Set GEMINI_API_KEY to enable the assistant")
	}
	if c.Embedder != nil && c.Embedder.Semantic() {
		b.Pass("embedder", "Knowledge base embeddings", "semantic search enabled")
	} else {
		b.Warn("embedder", "Knowledge base embeddings", "knowledge base uses keyword search only", 10)
	}
	return b.Build(), nil
}

// RequestChecker counts requests stuck in PENDING.
type RequestChecker struct {
	Requests storage.RequestStore
	Now      func() time.Time
}

func (RequestChecker) Module() string      { return ModuleRequests }
func (RequestChecker) DisplayName() string { return "Richieste" }

func (c RequestChecker) Check(ctx context.Context) (model.Result, error) {
	b := model.NewBuilder(ModuleRequests, c.DisplayName())
	pending, _, err := c.Requests.ListRequests(ctx, request.Filter{Status: request.StatusPending}, storage.Page{})
	if err != nil {
		return model.Result{}, err
	}
	cutoff := nowOr(c.Now).Add(-48 * time.Hour)
	stale := 0
	for _, r := range pending {
		if r.CreatedAt.Before(cutoff) {
			stale++
		}
	}
	b.Metric("pending", len(pending)).Metric("stalePending", stale)
	switch {
	case stale > 10:
		b.Fail("stale_pending", "Unassigned requests", fmt.Sprintf("%d requests pending for more than 48h", stale), model.SeverityMedium, 25).
			Recommend("Assign professionals to the oldest pending requests")
	case stale > 0:
		b.Warn("stale_pending", "Unassigned requests", fmt.Sprintf("%d requests pending for more than 48h", stale), 10)
	default:
		b.Pass("stale_pending", "Unassigned requests", "no stale pending requests")
	}
	return b.Build(), nil
}

// BackupChecker looks for a recent file in the backup directory.
type BackupChecker struct {
	Dir string
	Now func() time.Time
}

func (BackupChecker) Module() string      { return ModuleBackup }
func (BackupChecker) DisplayName() string { return "Backup" }

func (c BackupChecker) Check(_ context.Context) (model.Result, error) {
	b := model.NewBuilder(ModuleBackup, c.DisplayName())
	var newest time.Time
	_ = filepath.WalkDir(c.Dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil && info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	if newest.IsZero() {
		b.Fail("latest_backup", "Latest backup", "no backup found in "+c.Dir, model.SeverityCritical, 60).
			Recommend("Schedule a daily database backup")
		return b.Build(), nil
	}
	age := nowOr(c.Now).Sub(newest)
	b.Metric("latestBackup", newest).Metric("ageHours", int(age.Hours()))
	if age > 24*time.Hour {
		b.Fail("latest_backup", "Latest backup", fmt.Sprintf("latest backup is %d hours old", int(age.Hours())), model.SeverityHigh, 40)
	} else {
		b.Pass("latest_backup", "Latest backup", newest.Format(time.RFC3339))
	}
	return b.Build(), nil
}

func nowOr(now func() time.Time) time.Time {
	if now == nil {
		return time.Now()
	}
	return now()
}
