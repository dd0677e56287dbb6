package obs

import (
	"net/http"
	"strconv"
	"strings"
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

	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	tokenVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_verifications_total",
			Help: "Token verifications by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	permissionChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbac_permission_checks_total",
			Help: "Permission checks by outcome.",
		},
		[]string{"outcome"},
	)
)

// Init registers metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		loginsTotal, tokenVerificationsTotal, permissionChecksTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin records a login attempt outcome for the given provider type.
func ObserveLogin(provider, outcome string) {
	loginsTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveTokenVerification records a token verification outcome.
func ObserveTokenVerification(kind, outcome string) {
	tokenVerificationsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObservePermissionCheck records an allow/deny permission decision.
func ObservePermissionCheck(allowed bool) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	permissionChecksTotal.WithLabelValues(outcome).Inc()
}

// CanonicalPath collapses path parameters so the metric label set stays
// bounded. Provider types under /v1/auth/sso/ are a small fixed set and pass
// through unchanged.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	replace := func(idx int, name string) {
		if len(parts) > idx {
			parts[idx] = name
		}
	}
	switch {
	case len(parts) >= 3 && parts[0] == "v1" && parts[1] == "tenants":
		replace(2, ":tenant_id")
		if len(parts) >= 4 && parts[3] == "roles" {
			replace(4, ":role_id")
		}
		if len(parts) >= 4 && parts[3] == "users" {
			replace(4, ":user_id")
			replace(6, ":role_id")
		}
	case len(parts) >= 4 && parts[0] == "v1" && parts[1] == "admin" && parts[2] == "tenants":
		replace(3, ":tenant_id")
	}
	return "/" + strings.Join(parts, "/")
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
