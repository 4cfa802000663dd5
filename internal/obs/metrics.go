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

	sharesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shares_created_total",
		Help: "Total number of shares issued.",
	})

	shareVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "share_verifications_total",
			Help: "Verification attempts by terminal status.",
		},
		[]string{"status"},
	)
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		sharesCreatedTotal,
		shareVerificationsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ShareCreated counts one issued share.
func ShareCreated() {
	sharesCreatedTotal.Inc()
}

// ShareVerification counts one verification attempt by terminal status.
func ShareVerification(status string) {
	shareVerificationsTotal.WithLabelValues(status).Inc()
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

// CanonicalPath collapses resource identifiers so metric labels stay
// low-cardinality. Share ids and credential ids would otherwise explode the
// label space.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	switch {
	case len(parts) >= 2 && parts[0] == "v":
		return "/v/:id"
	case len(parts) >= 3 && parts[0] == "v1" && parts[1] == "credentials":
		if len(parts) == 3 {
			return "/v1/credentials/:id"
		}
		if len(parts) == 4 {
			return "/v1/credentials/:id/" + parts[3]
		}
	case len(parts) >= 3 && parts[0] == "v1" && parts[1] == "shares":
		if len(parts) == 3 {
			return "/v1/shares/:id"
		}
		if len(parts) == 4 {
			return "/v1/shares/:id/" + parts[3]
		}
	}
	return path
}

// statusWriter captures the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
