// Package monitoring exposes reconciliation metrics to Prometheus and
// summarizes recent runs from the run log.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/covid-cli/internal/model"
)

// Metrics provides observability for reconciliation runs.
type Metrics struct {
	// Global counter totals by indicator path and geometry variant
	IndicatorTotal *prometheus.GaugeVec

	// Run outcomes by status
	Runs *prometheus.CounterVec

	// Units emitted by the last run per variant
	Units *prometheus.GaugeVec

	// Sources that failed to download
	SourceFailures *prometheus.CounterVec

	// Full run latency per variant
	RunLatency *prometheus.HistogramVec
}

// New registers every metric on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		IndicatorTotal: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "covid_indicator_total",
			Help: "Global total of each indicator after the last reconciled day",
		}, []string{"indicator", "variant"}),

		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "covid_runs_total",
			Help: "Reconciliation runs by final status",
		}, []string{"status"}),

		Units: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "covid_snapshot_units",
			Help: "Units in the last reconciled snapshot",
		}, []string{"variant"}),

		SourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "covid_source_failures_total",
			Help: "Sources skipped because their download or parse failed",
		}, []string{"source"}),

		RunLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "covid_run_duration_seconds",
			Help:    "Duration of one reconciliation run",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"variant"}),
	}
}

// ObserveTotals sets the indicator gauges of a variant.
func (m *Metrics) ObserveTotals(variant string, totals map[string]float64) {
	if m == nil {
		return
	}
	for path, v := range totals {
		m.IndicatorTotal.WithLabelValues(path, variant).Set(v)
	}
}

// ObserveRun records the outcome of one run.
func (m *Metrics) ObserveRun(variant string, status model.RunStatus, units int, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(string(status)).Inc()
	m.RunLatency.WithLabelValues(variant).Observe(d.Seconds())
	if status == model.RunStatusComplete {
		m.Units.WithLabelValues(variant).Set(float64(units))
	}
}

// ObserveSourceFailures counts each failed source.
func (m *Metrics) ObserveSourceFailures(sources []string) {
	if m == nil {
		return
	}
	for _, s := range sources {
		m.SourceFailures.WithLabelValues(s).Inc()
	}
}
