package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestMetrics_ObserveSearchRecordsCountAndDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveSearch("hybrid", "ok", 50*time.Millisecond)
	m.ObserveSearch("hybrid", "degraded", 80*time.Millisecond)

	require.Equal(t, float64(1), counterValue(t, m.SearchesTotal.WithLabelValues("hybrid", "ok")))
	require.Equal(t, float64(1), counterValue(t, m.SearchesTotal.WithLabelValues("hybrid", "degraded")))
}

func TestMetrics_RecordCircuitTransitionIncrementsLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordCircuitTransition("embedding", "open")
	m.RecordCircuitTransition("embedding", "open")

	require.Equal(t, float64(2), counterValue(t, m.CircuitTransitions.WithLabelValues("embedding", "open")))
}

func TestMetrics_RecordBM25FlushIncrementsLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordBM25Flush("kb1", "ok")

	require.Equal(t, float64(1), counterValue(t, m.BM25Flushes.WithLabelValues("kb1", "ok")))
}

func TestMetrics_NilReceiverIsNoOp(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveSearch("hybrid", "ok", time.Second)
		m.RecordCircuitTransition("embedding", "open")
		m.RecordBM25Flush("kb1", "ok")
	})
}
