package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerConfig configures the service's tracer provider.
type TracerConfig struct {
	Enabled      bool
	ServiceName  string
	SamplingRate float64
}

// Tracer wraps an OpenTelemetry tracer with the retrieval-specific spans
// the engine and its collaborators start.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a Tracer from cfg. When cfg.Enabled is false, it returns
// a Tracer backed by the OTel no-op provider, so callers never need a nil
// check before starting a span.
func NewTracer(ctx context.Context, cfg TracerConfig) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(cfg.ServiceName)}, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{provider: provider, tracer: provider.Tracer(cfg.ServiceName)}, nil
}

// StartSearch begins a span for one Engine.Search call.
func (t *Tracer) StartSearch(ctx context.Context, mode string, topK int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "retrieval.search", trace.WithAttributes(
		attribute.String("retrieval.mode", mode),
		attribute.Int("retrieval.top_k", topK),
	))
}

// StartRerank begins a span for one rerank call.
func (t *Tracer) StartRerank(ctx context.Context, candidateCount int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "retrieval.rerank", trace.WithAttributes(
		attribute.Int("retrieval.candidate_count", candidateCount),
	))
}

// StartRewrite begins a span for one query-rewrite call.
func (t *Tracer) StartRewrite(ctx context.Context, historyTurns int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "retrieval.rewrite", trace.WithAttributes(
		attribute.Int("retrieval.history_turns", historyTurns),
	))
}

// RecordError records err on span, if both are non-nil.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
}

// Shutdown flushes and stops the underlying tracer provider, a no-op when
// the tracer was built disabled.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
