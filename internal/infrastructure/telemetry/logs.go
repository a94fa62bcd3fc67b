package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const logShutdownTimeout = 10 * time.Second

// LogsConfig holds logs export configuration.
type LogsConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ServiceName       string
	Insecure          bool
	// Exporter replaces the OTLP exporter; records are then exported synchronously
	Exporter sdklog.Exporter
}

// LoggerProvider ships zap entries to the collector. Nil is disabled.
type LoggerProvider struct {
	sdk *sdklog.LoggerProvider
	log *zap.Logger
}

func NewLoggerProvider(ctx context.Context, cfg LogsConfig, log *zap.Logger) (*LoggerProvider, error) {
	lp := &LoggerProvider{log: log}
	if !cfg.Enabled {
		log.Info("Log export disabled")
		return lp, nil
	}

	proc, err := logProcessor(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := newResource(cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	lp.sdk = sdklog.NewLoggerProvider(sdklog.WithResource(res), sdklog.WithProcessor(proc))
	global.SetLoggerProvider(lp.sdk)
	log.Info("Log export enabled", zap.String("collector_endpoint", cfg.CollectorEndpoint))
	return lp, nil
}

func logProcessor(ctx context.Context, cfg LogsConfig) (sdklog.Processor, error) {
	if cfg.Exporter != nil {
		return sdklog.NewSimpleProcessor(cfg.Exporter), nil
	}
	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	exp, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP logs exporter: %w", err)
	}
	return sdklog.NewBatchProcessor(exp), nil
}

// Shutdown exports queued records and stops the exporter.
func (lp *LoggerProvider) Shutdown(ctx context.Context) error {
	if !lp.IsEnabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, logShutdownTimeout)
	defer cancel()
	if err := lp.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown logger provider: %w", err)
	}
	return nil
}

func (lp *LoggerProvider) IsEnabled() bool {
	return lp != nil && lp.sdk != nil
}

// OTLPCore returns a zap core that forwards entries at or above min to lp,
// under the instrumentation scope "<service>/<component>". Tee it with the
// console core. A disabled provider yields a no-op core.
func OTLPCore(lp *LoggerProvider, service, component string, min zapcore.Level) (zapcore.Core, error) {
	if !lp.IsEnabled() {
		return zapcore.NewNopCore(), nil
	}
	scope := service
	if component != "" {
		scope += "/" + component
	}
	core, err := zapcore.NewIncreaseLevelCore(otelzap.NewCore(scope, otelzap.WithLoggerProvider(lp.sdk)), min)
	if err != nil {
		return nil, fmt.Errorf("otlp log core: %w", err)
	}
	return core, nil
}
