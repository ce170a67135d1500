package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Bafix001/zibridge/pkg/tracing/exporters"
)

// Config selects the exporter. An empty Endpoint keeps tracing in-process only.
type Config struct {
	ServiceName string
	Endpoint    string
	Protocol    string
	Insecure    bool
}

// Init installs a global tracer provider and returns its shutdown function.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter = &exporters.ConsoleExporter{}
	if cfg.Endpoint != "" {
		otlpCfg := exporters.DefaultOTLPConfig()
		otlpCfg.Endpoint = cfg.Endpoint
		otlpCfg.Insecure = cfg.Insecure
		if cfg.Protocol != "" {
			otlpCfg.Protocol = cfg.Protocol
		}
		exp, err := exporters.NewOTLPExporter(ctx, otlpCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(sdkresource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	SetTracer(provider.Tracer(cfg.ServiceName))

	return provider.Shutdown, nil
}
