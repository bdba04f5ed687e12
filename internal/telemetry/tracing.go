// Package telemetry configures OpenTelemetry tracing for the crawler.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config selects where spans go.
type Config struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	// Endpoint is an OTLP/HTTP traces URL. Empty keeps spans in-process so
	// trace context still propagates through published messages.
	Endpoint    string            `mapstructure:"endpoint"`
	Headers     map[string]string `mapstructure:"headers"`
	SampleRatio float64           `mapstructure:"sample_ratio"`
}

// Telemetry owns the installed tracer provider.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
}

// Shutdown flushes pending spans.
func (t Telemetry) Shutdown(ctx context.Context) error {
	if t.TracerProvider == nil {
		return nil
	}
	if err := t.TracerProvider.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}

// Setup installs a global tracer provider and the W3C trace-context and
// baggage propagators.
func Setup(ctx context.Context, cfg Config) (Telemetry, error) {
	if cfg.ServiceName == "" {
		return Telemetry{}, errors.New("telemetry: service name is required")
	}
	res, err := newResource(cfg)
	if err != nil {
		return Telemetry{}, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	}
	if cfg.Endpoint != "" {
		exporter, err := newExporter(ctx, cfg)
		if err != nil {
			return Telemetry{}, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)
	return Telemetry{TracerProvider: tp}, nil
}

func newResource(cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.Version))
	}
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, attrs...),
	)
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.Endpoint),
		otlptracehttp.WithHeaders(cfg.Headers),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp trace exporter: %w", err)
	}
	return exporter, nil
}

// sampler treats a ratio outside (0,1) as "sample everything".
func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
