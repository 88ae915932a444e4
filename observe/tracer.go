package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// OpMeta contains metadata about a data-access operation for telemetry
// purposes.
type OpMeta struct {
	Resource string // Logical resource name, e.g. "users" (required)
	Kind     string // Operation kind: query|mutation|prefetch (optional)
	Key      string // Request fingerprint key (optional)
	Method   string // Transport method, e.g. "GET" (optional)
}

// SpanName returns the deterministic span name for this operation.
// Format: fetch.<kind>.<resource> or fetch.<resource>
func (m OpMeta) SpanName() string {
	if m.Kind != "" {
		return "fetch." + m.Kind + "." + m.Resource
	}
	return "fetch." + m.Resource
}

// OpID returns the fully qualified operation identifier.
func (m OpMeta) OpID() string {
	if m.Kind != "" {
		return m.Kind + "." + m.Resource
	}
	return m.Resource
}

// Validate checks that the required metadata is present.
func (m OpMeta) Validate() error {
	if m.Resource == "" {
		return ErrMissingResource
	}
	return nil
}

// Tracer wraps OpenTelemetry tracing with operation-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: StartSpan must honor cancellation/deadlines and return ctx.Err() when canceled.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a data-access operation.
	StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// newTracer creates a new Tracer wrapping the given OpenTelemetry tracer.
func newTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with operation metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span) {
	spanName := meta.SpanName()

	attrs := []attribute.KeyValue{
		attribute.String("op.id", meta.OpID()),
		attribute.String("op.resource", meta.Resource),
		attribute.Bool("op.error", false), // Will be updated in EndSpan if error
	}

	if meta.Kind != "" {
		attrs = append(attrs, attribute.String("op.kind", meta.Kind))
	}
	if meta.Key != "" {
		attrs = append(attrs, attribute.String("op.key", meta.Key))
	}
	if meta.Method != "" {
		attrs = append(attrs, attribute.String("op.method", meta.Method))
	}

	ctx, span := t.tracer.Start(ctx, spanName,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)

	return ctx, span
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("op.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// newNoopTracer creates a no-op tracer.
func newNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
