package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record RPC
// activity per service and method.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mmlink",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total gRPC requests segmented by service, method and outcome.",
			}, []string{"service", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mmlink",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total gRPC errors segmented by service, method and status code.",
			}, []string{"service", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "mmlink",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gRPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"service", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mmlink",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"service", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of one call. code is the gRPC status code name;
// "OK" counts as success.
func (m *moduleMetrics) Observe(service, method, code string, duration time.Duration) {
	if m == nil {
		return
	}
	service = orUnknown(service)
	method = orUnknown(method)
	outcome := "success"
	if code != "OK" {
		outcome = "error"
		m.errors.WithLabelValues(service, method, orUnknown(code)).Inc()
	}
	m.requests.WithLabelValues(service, method, outcome).Inc()
	m.latency.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied service and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(service, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(orUnknown(service), reason).Inc()
}

// SplitMethod breaks a gRPC full method name into service and method.
func SplitMethod(fullMethod string) (string, string) {
	trimmed := strings.TrimPrefix(fullMethod, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[:idx], trimmed[idx+1:]
	}
	return "unknown", trimmed
}

func orUnknown(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return "unknown"
	}
	return v
}
