package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/healthcheck"
	"github.com/richiesta-assistenza/service_layer/internal/app/realtime"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/aichat"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/auth"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/categories"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/chat"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/geocoding"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/knowledge"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/notifications"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/payments"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/pricing"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/quotes"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/referrals"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/requests"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/reviews"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/travel"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/users"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage/memory"
	"github.com/richiesta-assistenza/service_layer/internal/app/system"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users         storage.UserStore
	Requests      storage.RequestStore
	Categories    storage.CategoryStore
	Quotes        storage.QuoteStore
	Payments      storage.PaymentStore
	Referrals     storage.ReferralStore
	Reviews       storage.ReviewStore
	Notifications storage.NotificationStore
	Articles      storage.ArticleStore
	Chat          storage.ChatStore
	HealthChecks  storage.HealthCheckStore
}

// Publisher is the message broker used for domain events and queued
// deliveries.
type Publisher interface {
	Publish(ctx context.Context, key string, v interface{}) error
	Connected() bool
}

// HealthCheckOptions locate the health-check files.
type HealthCheckOptions struct {
	SchedulePath string
	RulesPath    string
	ReportDir    string
	BackupDir    string
	Monitor      bool
}

// Options carries the integrations built by the runtime. Zero values
// disable the integration.
type Options struct {
	JWTSecret    []byte
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	AdminUserIDs []string
	FrontendURL  string

	Maps            geocoding.Options
	GeoCache        geocoding.Cache
	TravelRatePerKm int64

	PaymentGateway payments.Gateway
	Currency       string

	Publisher Publisher
	Mailer    notifications.Mailer

	Embedder  knowledge.Embedder
	Index     knowledge.Index
	Generator aichat.Generator
	AI        aichat.Options

	DB    healthcheck.DB
	Redis redis.UniversalClient

	HealthCheck HealthCheckOptions
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Hub           *realtime.Hub
	Auth          *auth.Service
	Users         *users.Service
	Requests      *requests.Service
	Categories    *categories.Service
	Quotes        *quotes.Service
	Pricing       *pricing.Service
	Payments      *payments.Service
	Referrals     *referrals.Service
	Reviews       *reviews.Service
	Notifications *notifications.Service
	Geocoding     *geocoding.Service
	Travel        *travel.Service
	Knowledge     *knowledge.Service
	AIChat        *aichat.Service
	Chat          *chat.Service

	Health      *healthcheck.Service
	Remediation *healthcheck.Remediation
	Scheduler   *healthcheck.Scheduler
	Monitor     *healthcheck.Monitor
	Reports     *healthcheck.Reports
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Requests == nil {
		stores.Requests = mem
	}
	if stores.Categories == nil {
		stores.Categories = mem
	}
	if stores.Quotes == nil {
		stores.Quotes = mem
	}
	if stores.Payments == nil {
		stores.Payments = mem
	}
	if stores.Referrals == nil {
		stores.Referrals = mem
	}
	if stores.Reviews == nil {
		stores.Reviews = mem
	}
	if stores.Notifications == nil {
		stores.Notifications = mem
	}
	if stores.Articles == nil {
		stores.Articles = mem
	}
	if stores.Chat == nil {
		stores.Chat = mem
	}
	if stores.HealthChecks == nil {
		stores.HealthChecks = mem
	}
	if opts.GeoCache == nil {
		opts.GeoCache = geocoding.NewMemoryCache()
	}
	if opts.Mailer == nil {
		opts.Mailer = notifications.NewLogMailer(log)
	}

	manager := system.NewManager()

	hub := realtime.NewHub(opts.JWTSecret, log)
	notifSvc := notifications.New(stores.Users, stores.Notifications, hub, log)
	notifSvc.WithSender(notification.ChannelEmail, notifications.NewEmailSender(opts.Mailer, opts.FrontendURL))
	notifSvc.WithSender(notification.ChannelSMS, notifications.NewLogSender(log))
	notifSvc.WithSender(notification.ChannelPush, notifications.NewLogSender(log))
	if opts.Publisher != nil {
		notifSvc.WithQueue(opts.Publisher)
	}

	authSvc := auth.New(stores.Users, auth.Config{
		Secret:       opts.JWTSecret,
		AccessTTL:    opts.AccessTTL,
		RefreshTTL:   opts.RefreshTTL,
		AdminUserIDs: opts.AdminUserIDs,
	}, log)
	geoSvc := geocoding.New(opts.Maps, opts.GeoCache, stores.Users, log)
	userSvc := users.New(stores.Users, geoSvc, log)
	travelSvc := travel.New(stores.Users, stores.Requests, geoSvc, opts.TravelRatePerKm, log)

	referralSvc := referrals.New(stores.Users, stores.Referrals, opts.FrontendURL, log)
	referralSvc.AttachDependencies(notifSvc, opts.Mailer)
	authSvc.AttachReferrals(referralSvc)

	chatSvc := chat.New(stores.Chat, stores.Requests, stores.Users, notifSvc, log)
	hub.SetAccessChecker(chatSvc.CanAccess)

	requestSvc := requests.New(stores.Requests, stores.Users, log)
	requestSvc.AttachDependencies(geoSvc, notifSvc, travelSvc, referralSvc, chatSvc)
	categorySvc := categories.New(stores.Categories, log)
	requestSvc.AttachCatalog(categorySvc, stores.Quotes)

	quoteSvc := quotes.New(stores.Quotes, stores.Requests, log)
	pricingSvc := pricing.New(stores.Quotes, stores.Requests, log)
	paymentSvc := payments.New(stores.Payments, stores.Quotes, stores.Requests, opts.PaymentGateway, opts.Currency, log)
	reviewSvc := reviews.New(stores.Reviews, stores.Requests, notifSvc, log)
	requestSvc.AttachPublisher(opts.Publisher)
	quoteSvc.AttachDependencies(notifSvc, opts.Publisher)
	paymentSvc.AttachDependencies(notifSvc, opts.Publisher)

	var embedder knowledge.Embedder
	if opts.Index != nil {
		embedder = opts.Embedder
		if embedder == nil {
			embedder = knowledge.HashEmbedder{}
		}
	}
	kbSvc := knowledge.New(stores.Articles, opts.Index, embedder, log)
	aiSvc := aichat.New(stores.Chat, kbSvc, stores.Requests, opts.Generator, opts.AI, log)

	healthSvc := healthcheck.NewService(stores.HealthChecks, log)
	healthSvc.Register(healthcheck.AuthChecker{Secret: opts.JWTSecret, Issuer: authSvc})
	if opts.DB != nil {
		healthSvc.Register(healthcheck.DatabaseChecker{DB: opts.DB})
	}
	if opts.Redis != nil {
		healthSvc.Register(healthcheck.RedisChecker{Client: opts.Redis})
	}
	healthSvc.Register(healthcheck.NotificationChecker{Source: notifSvc})
	healthSvc.Register(healthcheck.ChatChecker{Hub: hub})
	healthSvc.Register(healthcheck.PaymentChecker{Source: paymentSvc})
	healthSvc.Register(healthcheck.AIChecker{Generator: aiSvc, Embedder: kbSvc})
	healthSvc.Register(healthcheck.RequestChecker{Requests: stores.Requests})
	if opts.HealthCheck.BackupDir != "" {
		healthSvc.Register(healthcheck.BackupChecker{Dir: opts.HealthCheck.BackupDir})
	}

	remediation, err := healthcheck.NewRemediation(stores.HealthChecks, opts.HealthCheck.RulesPath, log)
	if err != nil {
		return nil, fmt.Errorf("load remediation rules: %w", err)
	}
	scheduler, err := healthcheck.NewScheduler(healthSvc, opts.HealthCheck.SchedulePath, log)
	if err != nil {
		return nil, fmt.Errorf("load health check schedule: %w", err)
	}
	reportDir := opts.HealthCheck.ReportDir
	if reportDir == "" {
		reportDir = "reports/health-checks"
	}
	reports := healthcheck.NewReports(stores.HealthChecks, reportDir, log)

	remediation.AttachDependencies(healthSvc, manager, notifSvc)
	remediation.RegisterCache("geocoding", geoSvc)
	remediation.RegisterCleanup("health_history", func(ctx context.Context) (int, error) {
		return healthSvc.Cleanup(ctx, scheduler.Config().Retention.Days)
	})
	remediation.RegisterCleanup("notifications", func(ctx context.Context) (int, error) {
		return notifSvc.CleanupOld(ctx, notifications.DefaultRetentionDays)
	})
	scheduler.AttachDependencies(remediation, reports, notifSvc)

	monitor := healthcheck.NewMonitor(nil, log)
	monitor.AttachDependencies(opts.DB, healthSvc, notifSvc)

	services := []system.Service{hub, referrals.NewSweeper(referralSvc, log), scheduler}
	if opts.HealthCheck.Monitor {
		services = append(services, monitor)
	}
	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:       manager,
		log:           log,
		Hub:           hub,
		Auth:          authSvc,
		Users:         userSvc,
		Requests:      requestSvc,
		Categories:    categorySvc,
		Quotes:        quoteSvc,
		Pricing:       pricingSvc,
		Payments:      paymentSvc,
		Referrals:     referralSvc,
		Reviews:       reviewSvc,
		Notifications: notifSvc,
		Geocoding:     geoSvc,
		Travel:        travelSvc,
		Knowledge:     kbSvc,
		AIChat:        aiSvc,
		Chat:          chatSvc,
		Health:        healthSvc,
		Remediation:   remediation,
		Scheduler:     scheduler,
		Monitor:       monitor,
		Reports:       reports,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists the registered lifecycle services.
func (a *Application) Services() []string {
	return a.manager.Services()
}

// Restart restarts a registered lifecycle service by name.
func (a *Application) Restart(ctx context.Context, name string) error {
	return a.manager.Restart(ctx, name)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
