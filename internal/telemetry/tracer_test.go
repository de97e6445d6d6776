package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTracer_DisabledReturnsUsableNoopTracer(t *testing.T) {
	tr, err := NewTracer(context.Background(), TracerConfig{Enabled: false, ServiceName: "retrieval-core"})
	require.NoError(t, err)
	require.NotNil(t, tr)

	ctx, span := tr.StartSearch(context.Background(), "hybrid", 10)
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()

	require.NoError(t, tr.Shutdown(context.Background()))
}

func TestNewTracer_EnabledStartsAndShutsDownCleanly(t *testing.T) {
	tr, err := NewTracer(context.Background(), TracerConfig{Enabled: true, ServiceName: "retrieval-core", SamplingRate: 1.0})
	require.NoError(t, err)
	require.NotNil(t, tr)

	_, span := tr.StartRerank(context.Background(), 20)
	span.End()

	require.NoError(t, tr.Shutdown(context.Background()))
}

func TestTracer_RecordErrorIgnoresNilSpanAndError(t *testing.T) {
	tr, err := NewTracer(context.Background(), TracerConfig{Enabled: false})
	require.NoError(t, err)
	require.NotPanics(t, func() {
		tr.RecordError(nil, nil)
	})
}
