// Package metrics provides Prometheus metrics collection for the BFF.
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

const (
	namespace = "checklist"
	subsystem = "bff"
)

// Version is reported by the info gauge.
var Version = "dev"

var (
	// Using atomic.Pointer for lock-free initialization checks on hot path metrics.
	requestsTotal      atomic.Pointer[prometheus.CounterVec]
	requestDuration    atomic.Pointer[prometheus.HistogramVec]
	authFailuresTotal  atomic.Pointer[prometheus.CounterVec]
	capabilitiesIssued atomic.Pointer[prometheus.Counter]
	capabilitiesDenied atomic.Pointer[prometheus.CounterVec]
	bytesStreamed      atomic.Pointer[prometheus.Counter]
	uploadsTotal       atomic.Pointer[prometheus.CounterVec]
	webhookOutcomes    atomic.Pointer[prometheus.CounterVec]
	cacheLookups       atomic.Pointer[prometheus.CounterVec]
	webhookInFlight    atomic.Pointer[prometheus.Gauge]
)

// Init initializes all Prometheus metrics and registers them with the provided registry.
// This should be called once at application startup.
func Init(reg prometheus.Registerer) error {
	requestsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled",
		},
		[]string{"method", "path", "status"},
	)
	requestDurationVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	authFailuresTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "auth_failures_total",
			Help:      "Total number of authentication and authorization failures",
		},
		[]string{"reason"},
	)
	issued := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "capability_issued_total",
		Help:      "Signed retrieval URLs issued",
	})
	deniedVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "capability_denied_total",
			Help:      "Retrievals refused, by reason",
		},
		[]string{"reason"},
	)
	streamed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "file_bytes_streamed_total",
		Help:      "Bytes streamed from the file store to clients",
	})
	uploadsVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "uploads_total",
			Help:      "Photo uploads by backend and result",
		},
		[]string{"backend", "result"},
	)
	webhookVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_outcomes_total",
			Help:      "Payment notifications by outcome and reason",
		},
		[]string{"outcome", "reason"},
	)
	cacheVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "webhook_in_flight",
		Help:      "Payment notifications being processed in the background",
	})
	infoGaugeVec := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "info",
			Help:      "Service version and build information",
		},
		[]string{"version"},
	)

	for name, c := range map[string]prometheus.Collector{
		"requestsTotal":     requestsTotalVec,
		"requestDuration":   requestDurationVec,
		"authFailuresTotal": authFailuresTotalVec,
		"capabilityIssued":  issued,
		"capabilityDenied":  deniedVec,
		"bytesStreamed":     streamed,
		"uploadsTotal":      uploadsVec,
		"webhookOutcomes":   webhookVec,
		"cacheLookups":      cacheVec,
		"webhookInFlight":   inFlight,
		"infoGauge":         infoGaugeVec,
	} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("failed to register %s: %w", name, err)
		}
	}
	infoGaugeVec.WithLabelValues(Version).Set(1)

	// Store metrics in atomics for lock-free access in record functions
	requestsTotal.Store(requestsTotalVec)
	requestDuration.Store(requestDurationVec)
	authFailuresTotal.Store(authFailuresTotalVec)
	capabilitiesIssued.Store(&issued)
	capabilitiesDenied.Store(deniedVec)
	bytesStreamed.Store(&streamed)
	uploadsTotal.Store(uploadsVec)
	webhookOutcomes.Store(webhookVec)
	cacheLookups.Store(cacheVec)
	webhookInFlight.Store(&inFlight)

	return nil
}

// RecordRequest increments the requests counter for the given method, path, and status code.
// The path should be a route pattern (e.g., "/drive-file/{id}").
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
// Common reasons: "missing_token", "invalid_token", "forbidden", "invalid_ops_key"
func RecordAuthFailure(reason string) {
	if counter := authFailuresTotal.Load(); counter != nil {
		counter.WithLabelValues(reason).Inc()
	}
}

// RecordCapabilitiesIssued adds n to the issued URL counter.
func RecordCapabilitiesIssued(n int) {
	if counter := capabilitiesIssued.Load(); counter != nil {
		(*counter).Add(float64(n))
	}
}

// RecordCapabilityDenied counts a refused retrieval ("forbidden" or "not_found").
func RecordCapabilityDenied(reason string) {
	if counter := capabilitiesDenied.Load(); counter != nil {
		counter.WithLabelValues(reason).Inc()
	}
}

// RecordBytesStreamed adds n to the streamed bytes counter.
func RecordBytesStreamed(n int64) {
	if counter := bytesStreamed.Load(); counter != nil && n > 0 {
		(*counter).Add(float64(n))
	}
}

// RecordUpload counts an upload attempt.
func RecordUpload(backend, result string) {
	if counter := uploadsTotal.Load(); counter != nil {
		counter.WithLabelValues(backend, result).Inc()
	}
}

// RecordWebhookOutcome counts a processed payment notification.
// outcome is "applied", "ignored" or "error".
func RecordWebhookOutcome(outcome, reason string) {
	if counter := webhookOutcomes.Load(); counter != nil {
		counter.WithLabelValues(outcome, reason).Inc()
	}
}

// RecordCacheLookup counts a hit or miss for the named cache.
func RecordCacheLookup(cache string, hit bool) {
	if counter := cacheLookups.Load(); counter != nil {
		result := "miss"
		if hit {
			result = "hit"
		}
		counter.WithLabelValues(cache, result).Inc()
	}
}

// AddWebhookInFlight adjusts the background notification gauge by delta.
func AddWebhookInFlight(delta float64) {
	if gauge := webhookInFlight.Load(); gauge != nil {
		(*gauge).Add(delta)
	}
}

// Handler returns an HTTP handler for Prometheus metrics in text format.
// This handler should be registered at /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a metrics handler for a specific gatherer.
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
