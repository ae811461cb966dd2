package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "approval_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	reviewEntitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_review_entities_total",
			Help: "File entities moved out of pending by review actions",
		},
		[]string{"status"},
	)

	completionBlockedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "approval_completion_blocked_total",
			Help: "Completion attempts rejected because files were still pending",
		},
	)

	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_upstream_requests_total",
			Help: "Outbound calls to collaborator services",
		},
		[]string{"service", "outcome"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_notifications_total",
			Help: "Notification emails attempted",
		},
		[]string{"kind", "outcome"},
	)
)

// StatusClass buckets an HTTP status code into 2xx/3xx/4xx/5xx.
func StatusClass(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, route string, statusCode int, durationSeconds float64) {
	httpRequestsTotal.WithLabelValues(method, route, StatusClass(statusCode)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// RecordReviewed counts files whose review status was set by an action.
func RecordReviewed(status string, updated int64) {
	if updated <= 0 {
		return
	}
	reviewEntitiesTotal.WithLabelValues(status).Add(float64(updated))
}

func RecordCompletionBlocked() {
	completionBlockedTotal.Inc()
}

// RecordUpstream records the outcome ("ok", "error", "unreachable") of a collaborator call.
func RecordUpstream(service, outcome string) {
	upstreamRequestsTotal.WithLabelValues(service, outcome).Inc()
}

func RecordNotification(kind string, err error) {
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	notificationsTotal.WithLabelValues(kind, outcome).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
