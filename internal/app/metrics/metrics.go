// Package metrics exposes the engine's Prometheus collectors on a private
// registry so the process never pollutes the default one.
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
			Namespace: "sourcing_engine",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sourcing_engine",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sourcing_engine",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	pipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sourcing_engine",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by type and outcome.",
		},
		[]string{"run_type", "status"},
	)

	pipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sourcing_engine",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7m
		},
		[]string{"run_type"},
	)

	stageItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sourcing_engine",
			Subsystem: "pipeline",
			Name:      "stage_items_total",
			Help:      "Items processed per stage by outcome.",
		},
		[]string{"stage", "outcome"},
	)

	pricingQuotes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sourcing_engine",
			Subsystem: "pricing",
			Name:      "quotes_total",
			Help:      "Total number of sell prices computed.",
		},
	)

	exchangeRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sourcing_engine",
			Subsystem: "pricing",
			Name:      "usd_aud_rate",
			Help:      "Exchange rate currently applied to pricing.",
		},
	)

	connectorCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sourcing_engine",
			Subsystem: "connector",
			Name:      "calls_total",
			Help:      "Outbound connector calls by target and outcome.",
		},
		[]string{"connector", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		pipelineRuns,
		pipelineDuration,
		stageItems,
		pricingQuotes,
		exchangeRate,
		connectorCalls,
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

// RecordRun records the outcome of a completed pipeline run.
func RecordRun(runType, status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	pipelineRuns.WithLabelValues(runType, status).Inc()
	pipelineDuration.WithLabelValues(runType).Observe(duration.Seconds())
}

// RecordStageItem counts one processed item for a stage.
func RecordStageItem(stage string, ok bool) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	stageItems.WithLabelValues(stage, outcome).Inc()
}

// RecordQuote counts one computed sell price.
func RecordQuote() {
	pricingQuotes.Inc()
}

// SetExchangeRate publishes the rate currently applied to pricing.
func SetExchangeRate(rate float64) {
	exchangeRate.Set(rate)
}

// RecordConnectorCall counts one outbound call to an upstream system.
func RecordConnectorCall(connector string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	connectorCalls.WithLabelValues(connector, outcome).Inc()
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

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "pipeline" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/pipeline"
	}
	if parts[1] == "runs" && len(parts) > 2 {
		return "/pipeline/runs/:id"
	}
	return "/pipeline/" + parts[1]
}
