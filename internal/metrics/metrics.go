// Package metrics provides Prometheus metrics for the companion server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civitai_companion_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "civitai_companion_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	relayMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civitai_companion_relay_messages_total",
			Help: "Relay messages by action and delivery result",
		},
		[]string{"action", "result"},
	)

	relayTabsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "civitai_companion_relay_tabs_active",
			Help: "Number of tabs with an open relay mailbox",
		},
	)

	// Batch metrics
	batchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civitai_companion_batch_items_total",
			Help: "Batch items by outcome",
		},
		[]string{"outcome"},
	)

	// Download metrics
	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civitai_companion_downloads_total",
			Help: "Total number of server-side downloads",
		},
		[]string{"status"},
	)

	downloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "civitai_companion_download_duration_seconds",
			Help:    "Server-side download duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "civitai_companion_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRelayMessage records a relay send attempt.
func RecordRelayMessage(action string, delivered bool) {
	result := "delivered"
	if !delivered {
		result = "dropped"
	}
	relayMessagesTotal.WithLabelValues(action, result).Inc()
}

// SetRelayTabsActive sets the number of registered relay tabs.
func SetRelayTabsActive(count int) {
	relayTabsActive.Set(float64(count))
}

// RecordBatchItem records the outcome of one batch item.
func RecordBatchItem(outcome string) {
	batchItemsTotal.WithLabelValues(outcome).Inc()
}

// RecordDownload records a server-side download job.
func RecordDownload(duration time.Duration, success bool) {
	downloadDuration.Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	downloadsTotal.WithLabelValues(status).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// Middleware records request count and duration per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working behind the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
