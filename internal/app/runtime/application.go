package runtime

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/richiesta-assistenza/service_layer/internal/app"
	"github.com/richiesta-assistenza/service_layer/internal/app/httpapi"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/aichat"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/geocoding"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/knowledge"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/notifications"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/payments"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage/postgres"
	"github.com/richiesta-assistenza/service_layer/internal/config"
	"github.com/richiesta-assistenza/service_layer/internal/mq"
	"github.com/richiesta-assistenza/service_layer/internal/platform/migrations"
	"github.com/richiesta-assistenza/service_layer/internal/tracing"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

// minSecretLen is the shortest accepted JWT signing key.
const minSecretLen = 32

// Application wires integrations from configuration and manages the HTTP
// server lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	app     *app.Application
	handler *httpapi.Handler
	server  *http.Server

	db        *sql.DB
	redis     *redis.Client
	publisher *mq.Publisher
	index     *knowledge.SQLiteIndex
	tracing   func(context.Context) error
}

// NewApplication builds the application from cfg. Integrations without
// configuration fall back to in-process implementations.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	log := logger.New(cfg.Logging)
	a := &Application{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	shutdown, err := tracing.Init(ctx, tracing.Options{
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Tracing.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.tracing = shutdown

	secret, err := jwtSecret(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warn("JWT_SECRET not set; using an ephemeral key, tokens will not survive a restart")
	}

	opts := app.Options{
		JWTSecret:       secret,
		AccessTTL:       cfg.Auth.AccessTTL,
		RefreshTTL:      cfg.Auth.RefreshTTL,
		AdminUserIDs:    splitList(cfg.Auth.AdminUserIDs),
		FrontendURL:     cfg.Frontend.URL,
		Maps:            geocoding.Options{APIKey: cfg.Maps.APIKey, BaseURL: cfg.Maps.BaseURL},
		TravelRatePerKm: cfg.Maps.RatePerKm,
		Currency:        cfg.Payments.Currency,
		AI:              aichat.Options{MaxOutputTokens: cfg.AI.MaxOutputTokens, Temperature: cfg.AI.Temperature},
		HealthCheck: app.HealthCheckOptions{
			SchedulePath: cfg.HealthCheck.ConfigPath,
			RulesPath:    cfg.HealthCheck.RulesPath,
			ReportDir:    cfg.HealthCheck.ReportDir,
			BackupDir:    cfg.HealthCheck.BackupDir,
			Monitor:      cfg.HealthCheck.Monitor,
		},
	}

	stores := app.Stores{}
	if cfg.Database.DSN != "" {
		db, err := openDatabase(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = db
		if cfg.Database.MigrateOnStart {
			if err := migrations.Apply(ctx, db); err != nil {
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			log.Info("database migrations applied")
		}
		stores = postgresStores(postgres.New(db))
		opts.DB = db
	} else {
		log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		opts.Redis = a.redis
		opts.GeoCache = geocoding.NewRedisCache(a.redis)
	}

	if cfg.RabbitMQ.URL != "" {
		pub, err := mq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		a.publisher = pub
		opts.Publisher = pub
	}

	if cfg.Payments.OmiseSecretKey != "" {
		gw, err := payments.NewOmiseGateway(cfg.Payments.OmisePublicKey, cfg.Payments.OmiseSecretKey)
		if err != nil {
			return nil, err
		}
		opts.PaymentGateway = gw
	}

	if cfg.Email.SMTPHost != "" {
		opts.Mailer = notifications.NewSMTPMailer(notifications.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		})
	}

	if cfg.AI.APIKey != "" {
		gen, err := aichat.NewGenAIGenerator(ctx, cfg.AI.APIKey, cfg.AI.ChatModel)
		if err != nil {
			return nil, fmt.Errorf("init ai generator: %w", err)
		}
		opts.Generator = gen
		emb, err := knowledge.NewGenAIEmbedder(ctx, cfg.AI.APIKey, cfg.AI.EmbeddingModel)
		if err != nil {
			return nil, fmt.Errorf("init embedder: %w", err)
		}
		opts.Embedder = emb
	}
	if cfg.KnowledgeBase.IndexPath != "" {
		idx, err := knowledge.OpenSQLiteIndex(cfg.KnowledgeBase.IndexPath)
		if err != nil {
			return nil, fmt.Errorf("open knowledge index: %w", err)
		}
		a.index = idx
		opts.Index = idx
	}

	application, err := app.New(stores, opts, log)
	if err != nil {
		return nil, err
	}
	a.app = application

	if a.db != nil {
		if err := application.Attach(newPoolService(a.db, log)); err != nil {
			return nil, err
		}
	}
	if cfg.RabbitMQ.URL != "" {
		consumer := mq.NewConsumer(mq.ConsumerConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
			Queue:    cfg.RabbitMQ.Queue,
			Bindings: []string{mq.RKDeliveryPrefix + "#"},
			Prefetch: 10,
		}, application.Notifications.HandleDelivery, log)
		if err := application.Attach(consumer); err != nil {
			return nil, err
		}
	}

	handler, err := httpapi.New(application, httpapi.Config{
		JWTSecret:      secret,
		AllowedOrigins: cfg.CORS.Origins(),
		RateLimitRPS:   cfg.RateLimit.RequestsPerSecond,
		RateLimitBurst: cfg.RateLimit.Burst,
		AuditPath:      cfg.Audit.Path,
		Ready:          a.ready,
	}, log)
	if err != nil {
		return nil, err
	}
	if err := application.Attach(handler); err != nil {
		return nil, err
	}
	a.handler = handler
	a.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ok = true
	return a, nil
}

// App exposes the wired domain application.
func (a *Application) App() *app.Application { return a.app }

// Handler exposes the HTTP handler.
func (a *Application) Handler() http.Handler { return a.handler }

// Run starts the services and the HTTP server and blocks until ctx is
// cancelled or the server fails. It shuts everything down before returning.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown stops the HTTP server, the services and the external clients.
func (a *Application) Shutdown(ctx context.Context) error {
	var firstErr error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if a.app != nil {
		if err := a.app.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closeResources()
	if a.tracing != nil {
		if err := a.tracing(ctx); err != nil {
			a.log.WithError(err).Warn("flush traces")
		}
		a.tracing = nil
	}
	return firstErr
}

func (a *Application) closeResources() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.WithError(err).Warn("error closing rabbitmq publisher")
		}
		a.publisher = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis client")
		}
		a.redis = nil
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.log.WithError(err).Warn("error closing knowledge index")
		}
		a.index = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
		a.db = nil
	}
}

// ready fails while a configured backing store is unreachable.
func (a *Application) ready(ctx context.Context) error {
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func postgresStores(store *postgres.Store) app.Stores {
	return app.Stores{
		Users:         store,
		Requests:      store,
		Categories:    store,
		Quotes:        store,
		Payments:      store,
		Referrals:     store,
		Reviews:       store,
		Notifications: store,
		Articles:      store,
		Chat:          store,
		HealthChecks:  store,
	}
}

// OpenDatabase opens and pings the configured database.
func OpenDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	return openDatabase(cfg)
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// jwtSecret decodes the configured signing key. Development builds without
// a key get a random one.
func jwtSecret(cfg *config.Config) ([]byte, error) {
	if cfg.Auth.JWTSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, errors.New("JWT_SECRET is required outside development")
		}
		key := make([]byte, minSecretLen)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		return key, nil
	}
	key, err := parseSecret(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("JWT_SECRET invalid: %w", err)
	}
	return key, nil
}

func parseSecret(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("missing secret")
	}

	if decoded, err := hex.DecodeString(value); err == nil && len(decoded) >= minSecretLen {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil && len(decoded) >= minSecretLen {
		return decoded, nil
	}
	// raw bytes
	if len(value) >= minSecretLen {
		return []byte(value), nil
	}

	return nil, fmt.Errorf("must be at least %d bytes, raw or base64/hex encoded", minSecretLen)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
