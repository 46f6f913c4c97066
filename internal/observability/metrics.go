package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "forecast_verify"

// Metrics holds the Prometheus collectors for the verification pipeline.
type Metrics struct {
	Runs          *prometheus.CounterVec // labels: outcome={success,failed}
	RunDuration   prometheus.Histogram
	RunInProgress prometheus.Gauge
	PipelineState prometheus.Gauge

	Timesteps *prometheus.CounterVec // labels: outcome={scored,skipped}

	// Reference provider metrics.
	ReferenceFetches       *prometheus.CounterVec // labels: outcome={success,missing,error}
	ReferenceFetchDuration prometheus.Histogram

	// Mean score of the most recent run, labels: model, metric={mae,rmse,r2}.
	LastRunMean *prometheus.GaugeVec
}

func newMetrics() *Metrics {
	return &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Verification runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete verification run.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		RunInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_in_progress",
			Help:      "1 while a verification run is executing.",
		}),
		PipelineState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_state",
			Help:      "Current pipeline state (0=idle, 1=initializing, 2=resolving, 3=aligning, 4=per-timestep, 5=aggregating, 6=done, 7=failed).",
		}),
		Timesteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timesteps_total",
			Help:      "Timesteps processed by outcome.",
		}, []string{"outcome"}),
		ReferenceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reference_fetches_total",
			Help:      "Reference field fetch attempts by outcome.",
		}, []string{"outcome"}),
		ReferenceFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reference_fetch_duration_seconds",
			Help:      "Duration of a single reference fetch attempt.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		LastRunMean: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_mean_score",
			Help:      "Mean score per model and metric over the most recent run.",
		}, []string{"model", "metric"}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.Runs,
		m.RunDuration,
		m.RunInProgress,
		m.PipelineState,
		m.Timesteps,
		m.ReferenceFetches,
		m.ReferenceFetchDuration,
		m.LastRunMean,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
