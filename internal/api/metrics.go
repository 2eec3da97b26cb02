package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	unmatched     = "unmatched"
	streamPattern = "/v1/results/stream"
)

var (
	adminRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrunner_admin_requests_total",
			Help: "Total number of admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	adminRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskrunner_admin_request_duration_seconds",
			Help:    "Admin HTTP request duration in seconds, excluding result streams.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(adminRequestsTotal, adminRequestDuration)
}

// metricsMiddleware counts every request and times the short-lived ones.
// Labels use the chi route pattern to keep cardinality bounded.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		path := routePattern(r)
		adminRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		if path != streamPattern {
			adminRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}
	})
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

// metricsHandler exposes the default registry, which also carries the
// engine's job metrics.
func metricsHandler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
}
