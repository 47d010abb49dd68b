// Package metrics defines the Prometheus collectors exported by nbexec.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// ExecutionBuckets spans quick cells through the 600s timeout ceiling.
var ExecutionBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600}

var (
	// ExecutionsTotal counts calls by mode (oneshot/session) and outcome
	// (success, fault, timeout, rejected, error).
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nbexec_executions_total",
			Help: "Cell executions",
		},
		[]string{"mode", "outcome"},
	)

	// ExecutionDuration records end-to-end call duration in seconds.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nbexec_execution_duration_seconds",
			Help:    "Cell execution duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"mode"},
	)

	// FailedStagesTotal counts failures by the stage that failed.
	FailedStagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nbexec_failed_stages_total",
			Help: "Failed calls by stage",
		},
		[]string{"stage"},
	)

	// StagedBytes counts bytes moved by staging, by direction (download/upload).
	StagedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nbexec_staged_bytes_total",
			Help: "Bytes transferred by input and output staging",
		},
		[]string{"direction"},
	)

	// RuntimesActive tracks runtimes currently running a cell.
	RuntimesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nbexec_runtimes_active",
			Help: "Runtimes currently executing a cell",
		},
	)

	// ProfileMemoryBytes records the memory budget assigned per call.
	ProfileMemoryBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nbexec_profile_memory_bytes",
			Help:    "Memory budget of the resource profile assigned to a call",
			Buckets: []float64{2 << 30, 4 << 30},
		},
	)

	// HTTPRequestsTotal counts gateway requests by method, route and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nbexec_http_requests_total",
			Help: "Gateway requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration records gateway request duration in seconds.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nbexec_http_request_duration_seconds",
			Help:    "Gateway request duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"method", "route"},
	)

	// SessionsConnected tracks open websocket sessions.
	SessionsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nbexec_sessions_connected",
			Help: "Open websocket session connections",
		},
	)

	// ObjectsStored and ObjectBytes are refreshed after every sweep.
	ObjectsStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nbexec_objectstore_objects",
			Help: "Objects held by the dev object store",
		},
	)
	ObjectBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nbexec_objectstore_bytes",
			Help: "Content bytes held by the dev object store",
		},
	)

	// ObjectsSwept counts expired objects removed from the dev object store.
	ObjectsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nbexec_objectstore_swept_total",
			Help: "Expired objects removed by the sweeper",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ExecutionsTotal,
		ExecutionDuration,
		FailedStagesTotal,
		StagedBytes,
		RuntimesActive,
		ProfileMemoryBytes,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SessionsConnected,
		ObjectsSwept,
		ObjectsStored,
		ObjectBytes,
	)
}
