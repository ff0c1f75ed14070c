package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "landslide_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for a pipeline run.
type Metrics struct {
	FeaturesLoaded  *prometheus.CounterVec // labels: role={target,counterpart}
	JoinPresence    *prometheus.CounterVec // labels: flag={present,absent}
	PipelineRunning prometheus.Gauge
	RunDuration     prometheus.Histogram

	// Rainfall aggregation metrics.
	RainfallOutcomes *prometheus.CounterVec // labels: window, outcome={computed,fallback,unavailable}
	RainfallRetries  *prometheus.CounterVec // labels: window

	// Archive metrics.
	ArchiveRequests *prometheus.CounterVec   // labels: backend={grid,engine}, outcome={success,error,no_data}
	ArchiveCache    *prometheus.CounterVec   // labels: result={hit,miss}
	ArchiveDuration *prometheus.HistogramVec // labels: backend

	// Export metrics.
	FeaturesExported *prometheus.CounterVec // labels: format
	ExportErrors     *prometheus.CounterVec // labels: format
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests can
// build as many as they need.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FeaturesLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_loaded_total",
			Help:      "Features read from the feature store by collection role.",
		}, []string{"role"}),
		JoinPresence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_presence_total",
			Help:      "Joined target features by presence flag.",
		}, []string{"flag"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete join and aggregation run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		RainfallOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rainfall_outcomes_total",
			Help:      "Rainfall results by window and outcome.",
		}, []string{"window", "outcome"}),
		RainfallRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rainfall_retries_total",
			Help:      "Retried rainfall aggregations by window.",
		}, []string{"window"}),
		ArchiveRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_requests_total",
			Help:      "Zonal reduction requests by backend and outcome.",
		}, []string{"backend", "outcome"}),
		ArchiveCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_cache_total",
			Help:      "Zonal reduction cache lookups by result.",
		}, []string{"result"}),
		ArchiveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "archive_request_duration_seconds",
			Help:      "Zonal reduction duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"backend"}),
		FeaturesExported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_exported_total",
			Help:      "Enriched features written by export format.",
		}, []string{"format"}),
		ExportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_errors_total",
			Help:      "Failed exports by format.",
		}, []string{"format"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FeaturesLoaded,
		m.JoinPresence,
		m.PipelineRunning,
		m.RunDuration,
		m.RainfallOutcomes,
		m.RainfallRetries,
		m.ArchiveRequests,
		m.ArchiveCache,
		m.ArchiveDuration,
		m.FeaturesExported,
		m.ExportErrors,
	}
}
