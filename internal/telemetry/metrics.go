// Package telemetry provides the Prometheus metrics and OpenTelemetry
// tracing ambient stack for the retrieval service, mirroring the teacher's
// pkg/observability and TicoDavid-RAGbox.co's middleware package.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector the retrieval service exposes.
type Metrics struct {
	SearchDuration     *prometheus.HistogramVec
	SearchesTotal      *prometheus.CounterVec
	CircuitTransitions *prometheus.CounterVec
	BM25Flushes        *prometheus.CounterVec
	ActiveSearches     prometheus.Gauge
}

// NewMetrics builds and registers every collector against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "retrieval_search_duration_seconds",
				Help:    "Hybrid search latency in seconds, by mode.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"mode"},
		),
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrieval_searches_total",
				Help: "Total searches by mode and outcome (ok, degraded, error).",
			},
			[]string{"mode", "outcome"},
		),
		CircuitTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrieval_circuit_transitions_total",
				Help: "Circuit breaker state transitions by service and new state.",
			},
			[]string{"service", "state"},
		),
		BM25Flushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrieval_bm25_flushes_total",
				Help: "BM25 index flushes to disk by knowledge base and outcome.",
			},
			[]string{"kb_id", "outcome"},
		),
		ActiveSearches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "retrieval_active_searches",
				Help: "Number of in-flight search requests.",
			},
		),
	}

	reg.MustRegister(m.SearchDuration, m.SearchesTotal, m.CircuitTransitions, m.BM25Flushes, m.ActiveSearches)
	return m
}

// ObserveSearch records one completed search's latency and outcome.
func (m *Metrics) ObserveSearch(mode, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SearchDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.SearchesTotal.WithLabelValues(mode, outcome).Inc()
}

// RecordCircuitTransition records a circuit breaker entering state for service.
func (m *Metrics) RecordCircuitTransition(service, state string) {
	if m == nil {
		return
	}
	m.CircuitTransitions.WithLabelValues(service, state).Inc()
}

// RecordBM25Flush records a BM25 index flush outcome for kbID.
func (m *Metrics) RecordBM25Flush(kbID, outcome string) {
	if m == nil {
		return
	}
	m.BM25Flushes.WithLabelValues(kbID, outcome).Inc()
}
