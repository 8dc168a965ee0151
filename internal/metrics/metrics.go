// Package metrics holds the Prometheus collectors for creditdesk.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "creditdesk",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "creditdesk",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "creditdesk",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	planOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "creditdesk",
			Subsystem: "plans",
			Name:      "executions_total",
			Help:      "Total number of plan executions by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	stepConfirmations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "creditdesk",
			Subsystem: "steps",
			Name:      "confirmation_duration_seconds",
			Help:      "Time from submission to confirmed application log per step.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		},
		[]string{"method"},
	)

	failureKinds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "creditdesk",
			Subsystem: "steps",
			Name:      "failures_total",
			Help:      "Total number of classified step failures.",
		},
		[]string{"kind", "reason"},
	)

	rpcCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "creditdesk",
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Duration of JSON-RPC node calls.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		planOutcomes,
		stepConfirmations,
		failureKinds,
		rpcCalls,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordPlanOutcome counts one finished plan execution.
func RecordPlanOutcome(action, outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	planOutcomes.WithLabelValues(action, outcome).Inc()
}

// RecordStepConfirmation observes the submit-to-confirmation latency of a step.
func RecordStepConfirmation(method string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	stepConfirmations.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordFailure counts one classified step failure.
func RecordFailure(kind, reason string) {
	if reason == "" {
		reason = "none"
	}
	failureKinds.WithLabelValues(kind, reason).Inc()
}

// RecordRPCCall observes the duration and outcome of one node call.
func RecordRPCCall(method string, duration time.Duration, err error) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	success := "true"
	if err != nil {
		success = "false"
	}
	rpcCalls.WithLabelValues(method, success).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Flush passes through so streamed responses keep flushing under the wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	// Collapse /api/v1 prefixes and account-scoped resources so label
	// cardinality stays bounded.
	if len(parts) >= 2 && parts[0] == "api" {
		parts = parts[2:]
	}
	if len(parts) == 0 {
		return "/"
	}
	if parts[0] != "accounts" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/accounts"
	}
	if len(parts) == 2 {
		return "/accounts/:account"
	}
	return "/accounts/:account/" + parts[2]
}
