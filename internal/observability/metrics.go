// Package observability holds the Prometheus metrics exported by the engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "severity"

// Metrics holds the counters, histograms and gauges for reconciliation and scoring.
type Metrics struct {
	// Reconciliation.
	ReconcileRows          *prometheus.CounterVec // labels: status={matched,no_adm2_match,...}
	ReconcileInvalidValues prometheus.Counter
	ReconcileBatchDuration prometheus.Histogram
	ReconcileFailures      prometheus.Counter
	JobsRunning            prometheus.Gauge

	// Scoring.
	ScoresWritten   *prometheus.CounterVec // labels: level={dataset,category,framework,overall}
	ScoringDuration *prometheus.HistogramVec

	// HTTP API.
	HTTPRequests *prometheus.CounterVec // labels: route, code
}

func build() *Metrics {
	return &Metrics{
		ReconcileRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_rows_total",
			Help:      "Raw rows reconciled, by match status.",
		}, []string{"status"}),
		ReconcileInvalidValues: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_invalid_values_total",
			Help:      "Matched rows whose value could not be parsed.",
		}),
		ReconcileBatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_batch_duration_seconds",
			Help:      "Duration of one fetch-match-commit reconciliation batch.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ReconcileFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_failures_total",
			Help:      "Reconciliation runs that stopped with a computation error.",
		}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Reconciliation jobs currently executing.",
		}),
		ScoresWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scores_written_total",
			Help:      "Scores upserted, by aggregation level.",
		}, []string{"level"}),
		ScoringDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scoring_duration_seconds",
			Help:      "Duration of a scoring operation.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests served, by route pattern and status code.",
		}, []string{"route", "code"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ReconcileRows,
		m.ReconcileInvalidValues,
		m.ReconcileBatchDuration,
		m.ReconcileFailures,
		m.JobsRunning,
		m.ScoresWritten,
		m.ScoringDuration,
		m.HTTPRequests,
	}
}

// NewMetrics creates the metrics and registers them with the default registry.
func NewMetrics() *Metrics {
	m := build()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsWithRegistry registers the metrics with reg. Tests pass a fresh
// registry to avoid "already registered" panics.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	m := build()
	reg.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting returns unregistered metrics.
func NewMetricsForTesting() *Metrics {
	return build()
}
