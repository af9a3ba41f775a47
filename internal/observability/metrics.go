package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Sauti.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Sandbox engine metrics.
	SandboxOpsTotal   *prometheus.CounterVec
	SandboxOpDuration *prometheus.HistogramVec

	// Gateway client metrics.
	GatewayRequestsTotal   *prometheus.CounterVec
	GatewayRequestDuration *prometheus.HistogramVec
	GatewayRetriesTotal    prometheus.Counter

	// Voice pipeline metrics.
	SynthesisJobsTotal *prometheus.CounterVec
	SynthesisDuration  prometheus.Histogram

	// Reaper metrics.
	ReaperSweepsTotal *prometheus.CounterVec
	ReaperPausedTotal prometheus.Counter

	// Credit metrics.
	CreditsDebitedTotal *prometheus.CounterVec

	// HTTP server metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		SandboxOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sauti",
			Subsystem: "sandbox",
			Name:      "operations_total",
			Help:      "Total sandbox engine operations.",
		}, []string{"op", "status"}),

		SandboxOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sauti",
			Subsystem: "sandbox",
			Name:      "operation_duration_seconds",
			Help:      "Sandbox engine operation duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"op"}),

		GatewayRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sauti",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total requests to the routing gateway.",
		}, []string{"kind", "status"}),

		GatewayRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sauti",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Gateway request duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"kind"}),

		GatewayRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sauti",
			Subsystem: "gateway",
			Name:      "retries_total",
			Help:      "Total gateway request retry attempts.",
		}),

		SynthesisJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sauti",
			Subsystem: "voice",
			Name:      "synthesis_jobs_total",
			Help:      "Total sentence synthesis jobs.",
		}, []string{"status"}),

		SynthesisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sauti",
			Subsystem: "voice",
			Name:      "synthesis_duration_seconds",
			Help:      "Per-sentence synthesis duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		ReaperSweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sauti",
			Subsystem: "reaper",
			Name:      "sweeps_total",
			Help:      "Total reaper sweeps.",
		}, []string{"status"}),

		ReaperPausedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sauti",
			Subsystem: "reaper",
			Name:      "agents_paused_total",
			Help:      "Total agents paused by the reaper.",
		}),

		CreditsDebitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sauti",
			Subsystem: "credits",
			Name:      "debited_total",
			Help:      "Total credits debited.",
		}, []string{"kind"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sauti",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sauti",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sauti",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.SandboxOpsTotal,
		m.SandboxOpDuration,
		m.GatewayRequestsTotal,
		m.GatewayRequestDuration,
		m.GatewayRetriesTotal,
		m.SynthesisJobsTotal,
		m.SynthesisDuration,
		m.ReaperSweepsTotal,
		m.ReaperPausedTotal,
		m.CreditsDebitedTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}
