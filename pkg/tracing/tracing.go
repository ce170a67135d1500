package tracing

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

// SetTracer sets the tracer to be used for tracing.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// GetActiveSpan returns the active span from the context, or nil when tracing is off.
func GetActiveSpan(ctx context.Context) trace.Span {
	if tracer == nil {
		return nil
	}
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	return span
}

// StartSpan starts a new span. Without a configured tracer the span is a no-op.
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName)
}

func carrier(ctx context.Context) propagation.MapCarrier {
	c := propagation.MapCarrier{}
	if GetActiveSpan(ctx) == nil {
		return c
	}
	propagation.TraceContext{}.Inject(ctx, c)
	return c
}

// GetTraceParent returns the W3C traceparent header value.
func GetTraceParent(ctx context.Context) string {
	return carrier(ctx).Get("traceparent")
}

// GetTraceState returns the W3C tracestate header value.
func GetTraceState(ctx context.Context) string {
	return carrier(ctx).Get("tracestate")
}

func GetTraceID(ctx context.Context) string {
	span := GetActiveSpan(ctx)
	if span == nil {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

func GetSpanID(ctx context.Context) string {
	span := GetActiveSpan(ctx)
	if span == nil {
		return ""
	}
	return span.SpanContext().SpanID().String()
}
