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

	tokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauth_tokens_issued_total",
			Help: "Tokens issued, labelled by grant type.",
		},
		[]string{"grant"},
	)

	tokensRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauth_tokens_revoked_total",
		Help: "Tokens marked revoked.",
	})

	authzDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization decisions, labelled by outcome.",
		},
		[]string{"outcome"},
	)
)

// Init registers the shared metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		tokensIssuedTotal,
		tokensRevokedTotal,
		authzDecisionsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// TokenIssued increments the issued-token counter for the given grant type.
func TokenIssued(grant string) {
	tokensIssuedTotal.WithLabelValues(grant).Inc()
}

// TokenRevoked increments the revoked-token counter.
func TokenRevoked() {
	tokensRevokedTotal.Inc()
}

// AuthzDecision records an allow/deny outcome.
func AuthzDecision(allowed bool) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	authzDecisionsTotal.WithLabelValues(outcome).Inc()
}

// Instrument wraps a handler with request counting and latency measurement.
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

// CanonicalPath collapses resource identifiers so metric labels stay low-cardinality.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(segments) >= 2 && segments[0] == "v1":
		switch segments[1] {
		case "users", "groups", "roles", "resources":
			if len(segments) >= 3 && segments[2] != "requests" {
				segments[2] = ":id"
			}
			if len(segments) >= 4 && segments[1] == "groups" && segments[2] == "requests" {
				segments[3] = ":id"
			}
		}
	}
	return "/" + strings.Join(segments, "/")
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
