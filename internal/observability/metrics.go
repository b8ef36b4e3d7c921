package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Skip reasons recorded on ProcessesSkippedTotal.
const (
	SkipVanished  = "vanished"
	SkipNotKernel = "not_kernel"
	SkipNoSession = "no_session"
)

// Metrics holds all Prometheus metrics for service self-monitoring.
// It uses a custom registry to avoid polluting the global default.
type Metrics struct {
	Registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Correlation metrics
	QueryDuration         prometheus.Histogram
	QueryErrorsTotal      *prometheus.CounterVec
	ProcessesSkippedTotal *prometheus.CounterVec
	KernelProcesses       *prometheus.GaugeVec

	// Collaborator metrics
	GPUQueryDuration     *prometheus.HistogramVec
	SessionFetchDuration prometheus.Histogram
	SessionsListed       prometheus.Gauge

	// Auth metrics
	AuthRejectionsTotal *prometheus.CounterVec

	// Runtime metrics
	MemoryPressureEvents prometheus.Counter
	GPUInitAttempts      *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics
// registered on a custom registry, plus the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	fastBuckets := prometheus.ExponentialBuckets(0.001, 2, 14)

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpuman_http_requests_total",
			Help: "Total number of HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gpuman_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gpuman_query_duration_seconds",
			Help:    "Duration of one GPU/kernel correlation in seconds.",
			Buckets: fastBuckets,
		}),
		QueryErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpuman_query_errors_total",
			Help: "Total number of failed correlations by error code.",
		}, []string{"code"}),
		ProcessesSkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpuman_processes_skipped_total",
			Help: "GPU processes left out of a response, by reason.",
		}, []string{"reason"}),
		KernelProcesses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpuman_kernel_processes",
			Help: "Kernel processes matched to a session in the last correlation, per GPU.",
		}, []string{"gpu"}),

		GPUQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gpuman_gpu_query_duration_seconds",
			Help:    "Duration of GPU telemetry queries in seconds.",
			Buckets: fastBuckets,
		}, []string{"backend", "query"}),
		SessionFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gpuman_session_fetch_duration_seconds",
			Help:    "Duration of session registry fetches in seconds.",
			Buckets: fastBuckets,
		}),
		SessionsListed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpuman_sessions_listed",
			Help: "Number of sessions returned by the last session registry fetch.",
		}),

		AuthRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpuman_auth_rejections_total",
			Help: "Total number of requests rejected by caller authentication.",
		}, []string{"status"}),

		MemoryPressureEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpuman_memory_pressure_events_total",
			Help: "Times heap usage crossed the GOMEMLIMIT pressure threshold.",
		}),
		GPUInitAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpuman_gpu_init_attempts_total",
			Help: "GPU backend initialization attempts by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.QueryDuration,
		m.QueryErrorsTotal,
		m.ProcessesSkippedTotal,
		m.KernelProcesses,
		m.GPUQueryDuration,
		m.SessionFetchDuration,
		m.SessionsListed,
		m.AuthRejectionsTotal,
		m.MemoryPressureEvents,
		m.GPUInitAttempts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}
