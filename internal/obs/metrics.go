package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Authentication outcomes by operation and result code.",
		},
		[]string{"operation", "outcome"},
	)

	rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Requests rejected by a rate limiter.",
		},
		[]string{"limiter"},
	)

	auditDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_entries_dropped_total",
		Help: "Audit entries dropped because the dispatch buffer was full.",
	})

	auditSinkFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_sink_failures_total",
		Help: "Audit entries the sink failed to persist.",
	})

	initOnce sync.Once
)

// Init registers all collectors in the default registry. Repeated calls are no-ops.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authEventsTotal, rateLimitRejections, auditDropped, auditSinkFailures,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AuthEvent counts one authentication outcome, e.g. ("login", "INVALID_CREDENTIALS").
func AuthEvent(operation, outcome string) {
	authEventsTotal.WithLabelValues(operation, outcome).Inc()
}

// RateLimited counts a rejection by the named limiter.
func RateLimited(limiter string) {
	rateLimitRejections.WithLabelValues(limiter).Inc()
}

// AuditDropped counts an audit entry lost to back-pressure.
func AuditDropped() { auditDropped.Inc() }

// AuditSinkFailed counts an audit entry the sink rejected.
func AuditSinkFailed() { auditSinkFailures.Inc() }

// Instrument records RPS, latency and in-flight requests labelled by route pattern.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := CanonicalPath(r.URL.Path)
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// CanonicalPath collapses identifier segments so unrouted paths keep label cardinality bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	segs := strings.Split(strings.Trim(raw, "/"), "/")
	if len(segs) == 3 && segs[0] == "api" && segs[1] == "todos" {
		return "/api/todos/{id}"
	}
	if len(segs) >= 2 && segs[0] == "api" && segs[1] == "auth" {
		return raw
	}
	if len(segs) == 1 {
		return raw
	}
	return "/other"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
