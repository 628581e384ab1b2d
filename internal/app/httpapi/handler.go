package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/richiesta-assistenza/service_layer/internal/app"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/metrics"
	"github.com/richiesta-assistenza/service_layer/internal/app/services/requests"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/app/system"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/internal/httputil"
	"github.com/richiesta-assistenza/service_layer/internal/middleware"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

// Config tunes the HTTP layer.
type Config struct {
	JWTSecret      []byte
	AllowedOrigins []string
	RateLimitRPS   int
	RateLimitBurst int
	// AuditPath appends admin actions as JSONL when set.
	AuditPath string
	// Ready reports whether backing services are reachable. Nil means ready.
	Ready func(ctx context.Context) error
}

// publicPaths bypass authentication. Entries ending in "*" match by prefix.
var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/ws",
	"/api/auth/register",
	"/api/auth/login",
	"/api/auth/refresh",
	"/api/payments/webhook",
	"/api/referrals/click/*",
	"/api/categories",
	"/api/categories/*",
}

// Handler serves the REST API and owns the HTTP background jobs.
type Handler struct {
	app     *app.Application
	cfg     Config
	log     *logger.Logger
	audit   *auditLog
	sink    *fileAuditSink
	limiter *middleware.RateLimiter
	root    http.Handler
	cancel  context.CancelFunc
}

var _ system.Service = (*Handler)(nil)

// New builds the router and its middleware chain.
func New(application *app.Application, cfg Config, log *logger.Logger) (*Handler, error) {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	sink, err := newFileAuditSink(cfg.AuditPath)
	if err != nil {
		return nil, err
	}
	h := &Handler{
		app:   application,
		cfg:   cfg,
		log:   log,
		sink:  sink,
		audit: newAuditLog(500, sink),
	}
	if cfg.RateLimitRPS > 0 {
		h.limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log)
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, "route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	router.Use(middleware.MetricsMiddleware())
	if h.limiter != nil {
		router.Use(h.limiter.Handler)
	}
	router.Use(middleware.NewAuthMiddleware(cfg.JWTSecret, log, publicPaths).Handler)

	h.routes(router)

	var root http.Handler = router
	root = middleware.NewCORSMiddleware(cfg.AllowedOrigins).Handler(root)
	root = middleware.LoggingMiddleware(log)(root)
	root = middleware.NewTracingMiddleware().Handler(root)
	root = middleware.RecoveryMiddleware(log)(root)
	h.root = root
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

func (h *Handler) Name() string { return "http-api" }

// Start launches the rate limiter cleanup.
func (h *Handler) Start(_ context.Context) error {
	if h.limiter == nil || h.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.limiter.StartCleanup(ctx, 5*time.Minute)
	return nil
}

// Stop ends the cleanup and closes the audit file.
func (h *Handler) Stop(_ context.Context) error {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	return h.sink.Close()
}

func (h *Handler) routes(r *mux.Router) {
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.app.Hub.ServeWS).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	h.authRoutes(api)
	h.requestRoutes(api)
	h.quoteRoutes(api)
	h.engagementRoutes(api)
	h.geoRoutes(api)
	h.contentRoutes(api)
	h.categoryRoutes(api)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireRole(string(user.RoleAdmin), string(user.RoleSuperAdmin)))
	admin.Use(h.auditMiddleware)
	h.adminRoutes(admin)
	h.adminCategoryRoutes(admin)
	h.healthRoutes(admin.PathPrefix("/health-check").Subrouter())
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"services": h.app.Services(),
	})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.cfg.Ready(ctx); err != nil {
			h.writeErr(w, r, errors.Unavailable("dependencies not ready", err))
			return
		}
	}
	if !h.app.Hub.Running() {
		httputil.WriteError(w, r, errors.Unavailable("websocket hub not running", nil))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// role wraps fn so that only the listed roles reach it.
func role(fn http.HandlerFunc, roles ...user.Role) http.Handler {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return middleware.RequireRole(names...)(fn)
}

func userID(r *http.Request) string {
	return middleware.GetUserID(r.Context())
}

func userRole(r *http.Request) user.Role {
	return user.Role(strings.ToUpper(middleware.GetUserRole(r.Context())))
}

func actor(r *http.Request) requests.Actor {
	return requests.Actor{UserID: userID(r), Role: userRole(r)}
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func storagePage(p httputil.PageRequest) storage.Page {
	return storage.Page{Offset: p.Offset(), Limit: p.Limit}
}

// decode reads the JSON body into dst and writes a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := httputil.DecodeJSON(r.Body, dst); err != nil {
		httputil.WriteError(w, r, err)
		return false
	}
	return true
}

// writeErr logs server-side failures before writing the error envelope.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	if status := errors.HTTPStatusFor(err); status >= http.StatusInternalServerError {
		h.log.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	httputil.WriteError(w, r, err)
}

func ok(w http.ResponseWriter, message string, data interface{}) {
	httputil.WriteSuccess(w, http.StatusOK, message, data, nil)
}

func created(w http.ResponseWriter, message string, data interface{}) {
	httputil.WriteSuccess(w, http.StatusCreated, message, data, nil)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errors.BadRequest("invalid date %q, expected RFC3339 or YYYY-MM-DD", raw)
	}
	return t, nil
}
