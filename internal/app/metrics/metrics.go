package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "richiesta_assistenza"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by channel and outcome.",
		},
		[]string{"channel", "status"},
	)

	geocodeCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "geocoding",
			Name:      "cache_lookups_total",
			Help:      "Geocoding cache lookups by kind and result.",
		},
		[]string{"kind", "result"},
	)

	healthScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health_check",
			Name:      "score",
			Help:      "Latest health score per module.",
		},
		[]string{"module"},
	)

	remediationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health_check",
			Name:      "remediation_attempts_total",
			Help:      "Auto-remediation attempts by rule and outcome.",
		},
		[]string{"rule_id", "success"},
	)

	payments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "charges_total",
			Help:      "Payment charges by resulting status.",
		},
		[]string{"status"},
	)

	apiErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "server_errors_total",
			Help:      "Responses with a 5xx status.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		notificationsSent,
		geocodeCache,
		healthScore,
		remediationAttempts,
		payments,
		apiErrors,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		ObserveRequest(r.Method, CanonicalPath(r.URL.Path), rec.status, time.Since(start))
	})
}

// ObserveRequest records one handled HTTP request. Callers that know the
// route template should pass it as path.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	traffic.record(duration, status >= 500)
	if status >= 500 {
		apiErrors.Inc()
	}
}

// RecordNotification counts a delivery attempt on a channel.
func RecordNotification(channel, status string) {
	notificationsSent.WithLabelValues(channel, status).Inc()
}

// RecordGeocodeCache counts a cache hit or miss for kind (geocode, reverse,
// distance).
func RecordGeocodeCache(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	geocodeCache.WithLabelValues(kind, result).Inc()
}

// SetHealthScore publishes the latest score of a module.
func SetHealthScore(module string, score int) {
	healthScore.WithLabelValues(module).Set(float64(score))
}

// RecordRemediation counts a remediation attempt.
func RecordRemediation(ruleID string, success bool) {
	if ruleID == "" {
		ruleID = "unknown"
	}
	remediationAttempts.WithLabelValues(ruleID, strconv.FormatBool(success)).Inc()
}

// RecordPayment counts a charge outcome.
func RecordPayment(status string) {
	payments.WithLabelValues(strings.ToLower(status)).Inc()
}

// RegisterDBStats exports the pool statistics of db. The returned function
// removes the collector again.
func RegisterDBStats(db *sql.DB) (func(), error) {
	c := collectors.NewDBStatsCollector(db, "main")
	if err := Registry.Register(c); err != nil {
		return nil, err
	}
	return func() { Registry.Unregister(c) }, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// CanonicalPath collapses identifiers so label cardinality stays bounded:
// /api/requests/42/quotes becomes /api/requests/:id/quotes.
func CanonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "api" {
		return "/" + parts[0]
	}
	if len(parts) > 4 {
		parts = parts[:4]
	}
	if parts[1] != "admin" {
		for i := 2; i < len(parts); i++ {
			parts[i] = placeholder(parts[i])
		}
	}
	return "/" + strings.Join(parts, "/")
}

var staticSegments = map[string]bool{
	"stats": true, "me": true, "login": true, "register": true, "refresh": true,
	"code": true, "click": true, "compare": true, "estimate": true, "deposit": true,
	"webhook": true, "request": true, "unread-count": true, "read-all": true,
	"reverse": true, "distance": true, "nearby": true, "route": true, "validate": true,
	"settings": true, "work-address": true, "recalculate": true, "articles": true,
	"search": true, "chat": true, "history": true, "quotes": true, "travel": true,
	"messages": true, "status": true, "assign": true, "read": true, "unread": true,
	"accept": true, "reject": true, "versions": true, "template": true, "apply": true,
	"reviews": true, "rating": true,
}

func placeholder(segment string) string {
	if staticSegments[segment] {
		return segment
	}
	return ":id"
}
