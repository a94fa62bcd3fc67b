// Package telemetry wires OpenTelemetry traces, metrics and logs plus
// Pyroscope profiling for the API server and the dispatch worker.
package telemetry

import (
	"context"
	"fmt"
	"time"

	otelpyroscope "github.com/grafana/otel-profiling-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
)

// ServiceVersion is reported on every exported resource
const ServiceVersion = "1.0.0"

const traceShutdownTimeout = 10 * time.Second

// Config holds trace configuration.
type Config struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	// SpanProfiles links CPU profiles to spans. The profiler must be running.
	SpanProfiles bool
	// Exporter replaces the OTLP exporter, e.g. an in-memory one in tests
	Exporter sdktrace.SpanExporter
}

// TracerProvider is the SDK provider behind the batch, unit and HTTP spans.
// The zero value and nil are disabled.
type TracerProvider struct {
	sdk          *sdktrace.TracerProvider
	log          *zap.Logger
	spanProfiles bool
}

// newResource names the process in every exported signal
func newResource(serviceName string) (*resource.Resource, error) {
	own := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(ServiceVersion),
	)
	res, err := resource.Merge(resource.Default(), own)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// NewTracerProvider installs the provider and the W3C trace context and
// baggage propagators globally. Disabled, the global no-op provider stays.
// Sampling follows a sampled remote parent; root spans use SamplingRatio.
func NewTracerProvider(ctx context.Context, cfg Config, log *zap.Logger) (*TracerProvider, error) {
	tp := &TracerProvider{log: log}
	if !cfg.Enabled {
		log.Info("Tracing disabled")
		return tp, nil
	}

	exp := cfg.Exporter
	if exp == nil {
		var err error
		if exp, err = otlpSpanExporter(ctx, cfg); err != nil {
			return nil, err
		}
	}
	res, err := newResource(cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	tp.sdk = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRatio))),
	)

	if cfg.SpanProfiles {
		tp.spanProfiles = true
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(tp.sdk))
	} else {
		otel.SetTracerProvider(tp.sdk)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	log.Info("Tracing enabled",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.Float64("sampling_ratio", cfg.SamplingRatio),
		zap.Bool("span_profiles", cfg.SpanProfiles),
	)
	return tp, nil
}

func otlpSpanExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	return exp, nil
}

// Shutdown exports the spans still queued and stops the exporter.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if !tp.IsEnabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, traceShutdownTimeout)
	defer cancel()
	if err := tp.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	tp.log.Info("Tracing flushed")
	return nil
}

// ForceFlush exports all finished spans now.
func (tp *TracerProvider) ForceFlush(ctx context.Context) error {
	if !tp.IsEnabled() {
		return nil
	}
	return tp.sdk.ForceFlush(ctx)
}

func (tp *TracerProvider) IsEnabled() bool {
	return tp != nil && tp.sdk != nil
}

// SpanProfilesEnabled reports whether spans carry profiling labels.
func (tp *TracerProvider) SpanProfilesEnabled() bool {
	return tp != nil && tp.spanProfiles
}
