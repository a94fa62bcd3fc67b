package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// ErrMeterNil is returned when an instrument set is built without a meter.
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

const (
	defaultExportInterval = time.Minute
	meterShutdownTimeout  = 10 * time.Second
)

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ExportInterval    time.Duration
	ServiceName       string
	Insecure          bool
	// Reader replaces the OTLP periodic reader, e.g. a ManualReader in tests.
	// A provider with its own reader is not installed globally.
	Reader sdkmetric.Reader
}

// MeterProvider is the SDK provider behind the dispatch, HTTP and DB
// instruments. Disabled, it hands out meters of the global provider, which
// is a no-op unless something else installed one.
type MeterProvider struct {
	sdk *sdkmetric.MeterProvider
	log *zap.Logger
}

func NewMeterProvider(ctx context.Context, cfg MetricsConfig, log *zap.Logger) (*MeterProvider, error) {
	mp := &MeterProvider{log: log}
	if !cfg.Enabled {
		log.Info("Metrics disabled")
		return mp, nil
	}

	reader := cfg.Reader
	if reader == nil {
		var err error
		if reader, err = otlpReader(ctx, cfg); err != nil {
			return nil, err
		}
	}
	res, err := newResource(cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	mp.sdk = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	if cfg.Reader == nil {
		otel.SetMeterProvider(mp.sdk)
	}
	log.Info("Metrics exporting", zap.String("collector_endpoint", cfg.CollectorEndpoint))
	return mp, nil
}

func otlpReader(ctx context.Context, cfg MetricsConfig) (sdkmetric.Reader, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}
	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = defaultExportInterval
	}
	return sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval)), nil
}

// Shutdown pushes the last collection and stops the exporter.
func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	if !mp.IsEnabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, meterShutdownTimeout)
	defer cancel()
	if err := mp.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown meter provider: %w", err)
	}
	mp.log.Info("Metrics flushed")
	return nil
}

func (mp *MeterProvider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if !mp.IsEnabled() {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return mp.sdk.Meter(name, opts...)
}

func (mp *MeterProvider) IsEnabled() bool {
	return mp != nil && mp.sdk != nil
}

// Spec describes one instrument. Buckets apply to histograms only.
type Spec struct {
	Name        string
	Description string
	Unit        string
	Buckets     []float64
}

// Counter is a monotonic int64 count
type Counter struct{ inst metric.Int64Counter }

func NewCounter(meter metric.Meter, s Spec) (*Counter, error) {
	inst, err := meter.Int64Counter(s.Name, metric.WithDescription(s.Description), metric.WithUnit(s.Unit))
	if err != nil {
		return nil, fmt.Errorf("counter %s: %w", s.Name, err)
	}
	return &Counter{inst: inst}, nil
}

func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) { c.Add(ctx, 1, attrs...) }

func (c *Counter) Add(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	c.inst.Add(ctx, n, metric.WithAttributes(attrs...))
}

// Histogram records durations in seconds
type Histogram struct{ inst metric.Float64Histogram }

func NewHistogram(meter metric.Meter, s Spec) (*Histogram, error) {
	opts := []metric.Float64HistogramOption{metric.WithDescription(s.Description), metric.WithUnit(s.Unit)}
	if len(s.Buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(s.Buckets...))
	}
	inst, err := meter.Float64Histogram(s.Name, opts...)
	if err != nil {
		return nil, fmt.Errorf("histogram %s: %w", s.Name, err)
	}
	return &Histogram{inst: inst}, nil
}

func (h *Histogram) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	h.inst.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// Gauge holds the last recorded int64 per attribute set
type Gauge struct{ inst metric.Int64Gauge }

func NewGauge(meter metric.Meter, s Spec) (*Gauge, error) {
	inst, err := meter.Int64Gauge(s.Name, metric.WithDescription(s.Description), metric.WithUnit(s.Unit))
	if err != nil {
		return nil, fmt.Errorf("gauge %s: %w", s.Name, err)
	}
	return &Gauge{inst: inst}, nil
}

func (g *Gauge) Record(ctx context.Context, value int64, attrs ...attribute.KeyValue) {
	g.inst.Record(ctx, value, metric.WithAttributes(attrs...))
}

// Metric attribute keys
var (
	// dispatch
	AttrChannelType = attribute.Key("channel_type")
	AttrUnitStatus  = attribute.Key("unit_status")
	AttrBatchStatus = attribute.Key("batch_status")
	AttrTrigger     = attribute.Key("trigger")
	// AttrOutcome is the delivery outcome of an HTTP send: success, failure or none
	AttrOutcome = attribute.Key("outcome")

	// http
	AttrHTTPMethod     = attribute.Key("http.method")
	AttrHTTPStatusCode = attribute.Key("http.status_code")
	AttrHTTPRoute      = attribute.Key("http.route")

	// database
	AttrDBOperation = attribute.Key("db.operation")
	AttrDBPoolState = attribute.Key("db.pool.state")
)

// Histogram bucket boundaries in seconds
var (
	HTTPDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 120}
	DBDurationBuckets   = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}
	// UnitDurationBuckets cover one delivery attempt up to the unit timeout
	UnitDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
)
