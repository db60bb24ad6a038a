// Package metrics provides Prometheus metrics collection for the gateway.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

var (
	// Using atomic.Pointer for lock-free initialization checks on hot path metrics.
	requestsTotal          atomic.Pointer[prometheus.CounterVec]
	requestDuration        atomic.Pointer[prometheus.HistogramVec]
	authFailuresTotal      atomic.Pointer[prometheus.CounterVec]
	sendsTotal             atomic.Pointer[prometheus.CounterVec]
	reviewsTotal           atomic.Pointer[prometheus.CounterVec]
	webhookDeliveriesTotal atomic.Pointer[prometheus.CounterVec]
	contentFiltersActive   atomic.Pointer[prometheus.Gauge]
)

// Version is reported by the info gauge. Set it before calling Init.
var Version = "dev"

// Init initializes all Prometheus metrics and registers them with the provided registry.
// This should be called once at application startup.
func Init(reg prometheus.Registerer) error {
	requestsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled by the gateway",
		},
		[]string{"method", "path", "status"},
	)
	if err := reg.Register(requestsTotalVec); err != nil {
		return fmt.Errorf("failed to register requestsTotal: %w", err)
	}

	requestDurationVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	if err := reg.Register(requestDurationVec); err != nil {
		return fmt.Errorf("failed to register requestDuration: %w", err)
	}

	authFailuresTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total number of authentication failures",
		},
		[]string{"reason"},
	)
	if err := reg.Register(authFailuresTotalVec); err != nil {
		return fmt.Errorf("failed to register authFailuresTotal: %w", err)
	}

	// Send outcomes: queued, flagged, blocked, not_allowed, consent_denied, rate_limited
	sendsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Send requests by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)
	if err := reg.Register(sendsTotalVec); err != nil {
		return fmt.Errorf("failed to register sendsTotal: %w", err)
	}

	reviewsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_total",
			Help:      "Review decisions by decision and resulting status",
		},
		[]string{"decision", "outcome"},
	)
	if err := reg.Register(reviewsTotalVec); err != nil {
		return fmt.Errorf("failed to register reviewsTotal: %w", err)
	}

	webhookDeliveriesVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook notification attempts by result",
		},
		[]string{"result"},
	)
	if err := reg.Register(webhookDeliveriesVec); err != nil {
		return fmt.Errorf("failed to register webhookDeliveries: %w", err)
	}

	filtersGauge := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "content_filters_active",
			Help:      "Number of compiled content filters in use",
		},
	)
	if err := reg.Register(filtersGauge); err != nil {
		return fmt.Errorf("failed to register contentFiltersActive: %w", err)
	}

	// Info gauge: static metric with constant label values for build info
	infoGaugeVec := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Gateway version and build information",
		},
		[]string{"version"},
	)
	if err := reg.Register(infoGaugeVec); err != nil {
		return fmt.Errorf("failed to register infoGauge: %w", err)
	}
	infoGaugeVec.WithLabelValues(Version).Set(1)

	requestsTotal.Store(requestsTotalVec)
	requestDuration.Store(requestDurationVec)
	authFailuresTotal.Store(authFailuresTotalVec)
	sendsTotal.Store(sendsTotalVec)
	reviewsTotal.Store(reviewsTotalVec)
	webhookDeliveriesTotal.Store(webhookDeliveriesVec)
	contentFiltersActive.Store(&filtersGauge)

	return nil
}

// RecordRequest increments the requests counter for the given method, path, and status code.
// The path should be normalized (e.g., "/gateway/queue/:id/approve").
func RecordRequest(method, path, statusCode string) {
	if counter := requestsTotal.Load(); counter != nil {
		counter.WithLabelValues(method, path, statusCode).Inc()
	}
}

// RecordRequestDuration records the latency for a request in seconds.
func RecordRequestDuration(method, path, statusCode string, durationSeconds float64) {
	if histogram := requestDuration.Load(); histogram != nil {
		histogram.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
	}
}

// RecordAuthFailure increments the auth failures counter for the given reason.
// Reasons: "missing_key", "invalid_format", "unknown_key", "revoked"
func RecordAuthFailure(reason string) {
	if counter := authFailuresTotal.Load(); counter != nil {
		counter.WithLabelValues(reason).Inc()
	}
}

// RecordSend counts a send request by channel and outcome.
func RecordSend(channel, outcome string) {
	if counter := sendsTotal.Load(); counter != nil {
		counter.WithLabelValues(channel, outcome).Inc()
	}
}

// RecordReview counts a review decision and the status it produced.
func RecordReview(decision, outcome string) {
	if counter := reviewsTotal.Load(); counter != nil {
		counter.WithLabelValues(decision, outcome).Inc()
	}
}

// RecordWebhookDelivery counts a webhook attempt by result.
func RecordWebhookDelivery(result string) {
	if counter := webhookDeliveriesTotal.Load(); counter != nil {
		counter.WithLabelValues(result).Inc()
	}
}

// SetContentFiltersActive reports the number of compiled content filters.
func SetContentFiltersActive(n int) {
	if gauge := contentFiltersActive.Load(); gauge != nil {
		(*gauge).Set(float64(n))
	}
}

// HandlerFor returns a metrics handler for a specific registry.
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// GetMetricsText returns the Prometheus text-format output from a registry.
// This is useful for testing and debugging.
func GetMetricsText(reg prometheus.Gatherer) (string, error) {
	handler := HandlerFor(reg)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	body, err := io.ReadAll(w.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metrics output: %w", err)
	}

	return string(body), nil
}
