// Package metrics exposes Prometheus counters for QA plan runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for Runs
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the run counters
type Metrics struct {
	Registry *prometheus.Registry

	// Runs counts finished runs by outcome
	Runs *prometheus.CounterVec

	// Beams counts committed verification beams by technique
	Beams *prometheus.CounterVec

	// IsoShift observes the applied isocenter shift in mm
	IsoShift prometheus.Histogram

	// CouchOverrides counts beams whose couch angle was reset to 0
	CouchOverrides prometheus.Counter
}

// NewMetrics creates the counters on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qaplan",
			Name:      "runs_total",
			Help:      "QA plan runs by outcome.",
		}, []string{"outcome"}),
		Beams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qaplan",
			Name:      "beams_total",
			Help:      "Verification beams created by technique.",
		}, []string{"technique"}),
		IsoShift: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "qaplan",
			Name:      "iso_shift_mm",
			Help:      "Superior isocenter shift applied to QA plans.",
			Buckets:   []float64{0, 10, 20, 30, 50, 100},
		}),
		CouchOverrides: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qaplan",
			Name:      "couch_overrides_total",
			Help:      "Beams whose couch angle was reset to 0.",
		}),
	}
	m.Registry.MustRegister(m.Runs, m.Beams, m.IsoShift, m.CouchOverrides)
	return m
}

// WriteFile writes all counters in the Prometheus text format
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
