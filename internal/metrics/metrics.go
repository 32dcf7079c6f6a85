// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the instruments wired through the service. A nil
// *Metrics is valid and records nothing, so tests skip instrumentation.
type Metrics struct {
	StepsProcessed *prometheus.CounterVec
	StepDuration   *prometheus.HistogramVec
	SearchDuration prometheus.Histogram
	DocsAdmitted   prometheus.Counter
	DocsDeleted    prometheus.Counter
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StepsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memd",
			Name:      "pipeline_steps_total",
			Help:      "Pipeline steps processed, by step and outcome.",
		}, []string{"step", "outcome"}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "memd",
			Name:      "pipeline_step_duration_seconds",
			Help:      "Wall-clock duration of pipeline steps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"step"}),
		SearchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "memd",
			Name:      "search_duration_seconds",
			Help:      "Wall-clock duration of similarity searches.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		DocsAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "memd",
			Name:      "documents_admitted_total",
			Help:      "Documents accepted for ingestion.",
		}),
		DocsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "memd",
			Name:      "documents_deleted_total",
			Help:      "Document deletions dispatched.",
		}),
	}
}

// ObserveStep records one handler run. Safe on a nil receiver.
func (m *Metrics) ObserveStep(step, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.StepsProcessed.WithLabelValues(step, outcome).Inc()
	m.StepDuration.WithLabelValues(step).Observe(seconds)
}

// ObserveSearch records one search. Safe on a nil receiver.
func (m *Metrics) ObserveSearch(seconds float64) {
	if m == nil {
		return
	}
	m.SearchDuration.Observe(seconds)
}

// IncAdmitted counts one admission. Safe on a nil receiver.
func (m *Metrics) IncAdmitted() {
	if m != nil {
		m.DocsAdmitted.Inc()
	}
}

// IncDeleted counts one deletion dispatch. Safe on a nil receiver.
func (m *Metrics) IncDeleted() {
	if m != nil {
		m.DocsDeleted.Inc()
	}
}
