package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flood_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	// Extraction metrics, labelled by endpoint.
	PagesFetched     *prometheus.CounterVec
	FetchErrors      *prometheus.CounterVec
	RecordsExtracted *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec

	RowsWritten      *prometheus.CounterVec // labels: table
	FeaturesExported prometheus.Counter

	RunsTotal          *prometheus.CounterVec   // labels: mode, outcome={success,partial,error}
	RunDuration        *prometheus.HistogramVec // labels: mode
	PipelineRunning    prometheus.Gauge
	WatermarkTimestamp prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PagesFetched,
		m.FetchErrors,
		m.RecordsExtracted,
		m.RequestDuration,
		m.RowsWritten,
		m.FeaturesExported,
		m.RunsTotal,
		m.RunDuration,
		m.PipelineRunning,
		m.WatermarkTimestamp,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests can
// build as many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Total API pages fetched and decoded.",
		}, []string{"endpoint"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Total failed page requests, counted per attempt.",
		}, []string{"endpoint"}),
		RecordsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_extracted_total",
			Help:      "Total records returned by the API.",
		}, []string{"endpoint"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "API page request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Total rows persisted per table.",
		}, []string{"table"}),
		FeaturesExported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "features_exported_total",
			Help:      "Total feature rows exported to the sink topic.",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by mode and outcome.",
		}, []string{"mode", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete pipeline run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"mode"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		WatermarkTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_timestamp_seconds",
			Help:      "Unix time of the last successful extraction.",
		}),
	}
}
