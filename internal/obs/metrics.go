package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

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

	authDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_decisions_total",
			Help: "Access decisions by outcome (allowed, unauthenticated, forbidden, error).",
		},
		[]string{"result"},
	)

	reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_reconciliations_total",
			Help: "External identity reconciliations by outcome.",
		},
		[]string{"outcome"},
	)

	tokensIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tokens_issued_total",
		Help: "Access tokens issued.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness check passed.",
	})

	initOnce sync.Once
)

// Init registers the service metrics in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			authDecisions, reconciliations, tokensIssued, ready)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuthDecision counts one access decision.
func ObserveAuthDecision(result string) {
	authDecisions.WithLabelValues(result).Inc()
}

// ObserveReconcile counts one reconciliation (created, existing, conflict, invalid, error).
func ObserveReconcile(outcome string) {
	reconciliations.WithLabelValues(outcome).Inc()
}

// ObserveTokenIssued counts one issued token.
func ObserveTokenIssued() {
	tokensIssued.Inc()
}

// SetReady records the readiness state.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument measures in-flight requests, totals and latency per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// OtherPath is the label for every request that matches no known route.
const OtherPath = "other"

var staticPaths = map[string]bool{
	"/":                        true,
	"/healthz":                 true,
	"/readyz":                  true,
	"/metrics":                 true,
	"/v1/info":                 true,
	"/auth/me":                 true,
	"/auth/users":              true,
	"/auth/roles":              true,
	"/auth/roles/assign":       true,
	"/auth/roles/make-admin":   true,
	"/auth/roles/remove-admin": true,
}

// CanonicalPath maps a request path onto a fixed set of route labels.
// Identifiers collapse to placeholders and unknown paths become OtherPath.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		p = "/"
	}
	if staticPaths[p] {
		return p
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 2 || parts[0] != "auth" {
		return OtherPath
	}
	switch {
	case len(parts) == 3 && parts[1] == "users" && parts[2] != "":
		return "/auth/users/:id"
	case len(parts) == 2 && parts[1] != "" && !isStaticAuthSegment(parts[1]):
		return "/auth/:provider"
	case len(parts) == 3 && parts[1] != "" && !isStaticAuthSegment(parts[1]) && parts[2] == "callback":
		return "/auth/:provider/callback"
	}
	return OtherPath
}

func isStaticAuthSegment(s string) bool {
	switch s {
	case "users", "roles", "me":
		return true
	}
	return false
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
