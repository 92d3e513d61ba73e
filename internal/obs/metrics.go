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

	invitesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linking_invites_created_total",
		Help: "Invites created by guardians.",
	})
	invitesAcceptedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linking_invites_accepted_total",
		Help: "Invites redeemed by children.",
	})
	invitesRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linking_invites_revoked_total",
		Help: "Invites revoked by guardians.",
	})
	linksRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linking_links_revoked_total",
		Help: "Guardian-child links revoked by either party.",
	})
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		invitesCreatedTotal, invitesAcceptedTotal, invitesRevokedTotal, linksRevokedTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncInviteCreated counts a successful invite creation.
func IncInviteCreated() { invitesCreatedTotal.Inc() }

// IncInviteAccepted counts a successful invite acceptance.
func IncInviteAccepted() { invitesAcceptedTotal.Inc() }

// IncInviteRevoked counts a successful invite revocation.
func IncInviteRevoked() { invitesRevokedTotal.Inc() }

// IncLinkRevoked counts a successful link revocation.
func IncLinkRevoked() { linksRevokedTotal.Inc() }

// Instrument wraps a handler with RPS, latency and in-flight measurements.
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

// CanonicalPath collapses resource identifiers so metric cardinality stays
// bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	switch {
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "invites" && parts[3] == "revoke":
		return "/v1/invites/:id/revoke"
	case len(parts) == 5 && parts[0] == "v1" && parts[1] == "me" && parts[2] == "links" && parts[3] == "guardian":
		return "/v1/me/links/guardian/:id"
	case len(parts) == 4 && parts[0] == "v1" && parts[1] == "me" && parts[2] == "links":
		return "/v1/me/links/:id"
	}
	return path
}

// statusWriter records the response code for the metrics labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
