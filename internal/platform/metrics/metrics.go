// Package metrics holds the Prometheus collectors for the roadmap engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the engine's collectors. A nil *Metrics is valid and
// records nothing, so tests and tools can skip instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	generations        *prometheus.CounterVec
	generationDuration prometheus.Histogram
	nodeConflicts      prometheus.Counter
	nodeCache          *prometheus.CounterVec
	submissions        *prometheus.CounterVec
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roadmap_generations_total",
				Help: "Curriculum node generations by outcome.",
			},
			[]string{"outcome"},
		),
		generationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "roadmap_generation_duration_seconds",
				Help:    "Latency of curriculum generator calls.",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
		),
		nodeConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "roadmap_node_create_conflicts_total",
				Help: "Node creations that lost the unique-key race and reloaded the winner.",
			},
		),
		nodeCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roadmap_node_cache_total",
				Help: "Node cache lookups by result.",
			},
			[]string{"result"},
		),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_submissions_total",
				Help: "Quiz submissions by roadmap kind and resulting status.",
			},
			[]string{"kind", "status"},
		),
	}

	reg.MustRegister(
		m.generations,
		m.generationDuration,
		m.nodeConflicts,
		m.nodeCache,
		m.submissions,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveGeneration records one generator call.
func (m *Metrics) ObserveGeneration(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(outcome).Inc()
	m.generationDuration.Observe(d.Seconds())
}

// NodeConflict records a lost node-creation race.
func (m *Metrics) NodeConflict() {
	if m == nil {
		return
	}
	m.nodeConflicts.Inc()
}

// NodeCache records a cache hit, miss or error.
func (m *Metrics) NodeCache(result string) {
	if m == nil {
		return
	}
	m.nodeCache.WithLabelValues(result).Inc()
}

// Submission records a graded quiz.
func (m *Metrics) Submission(kind, status string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(kind, status).Inc()
}
