// Package bootstrap wires configuration into the running object graph shared
// by the API server and the dispatch worker.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/leadflow/backend/internal/application/dispatch"
	appintegration "github.com/leadflow/backend/internal/application/integration"
	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/shared"
	"github.com/leadflow/backend/internal/infrastructure/cache"
	"github.com/leadflow/backend/internal/infrastructure/channel"
	"github.com/leadflow/backend/internal/infrastructure/config"
	"github.com/leadflow/backend/internal/infrastructure/fieldmap"
	"github.com/leadflow/backend/internal/infrastructure/httpclient"
	"github.com/leadflow/backend/internal/infrastructure/locale"
	"github.com/leadflow/backend/internal/infrastructure/logger"
	"github.com/leadflow/backend/internal/infrastructure/mail"
	"github.com/leadflow/backend/internal/infrastructure/persistence"
	"github.com/leadflow/backend/internal/infrastructure/queue"
	"github.com/leadflow/backend/internal/infrastructure/telemetry"
)

// App holds every long-lived component of a process
type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB     *persistence.Database
	Redis  redis.UniversalClient
	Queue  queue.Producer
	Memory *queue.Memory

	Profiler *telemetry.Profiler
	Tracer   *telemetry.TracerProvider
	Meter    *telemetry.MeterProvider
	Logs     *telemetry.LoggerProvider
	Metrics  *telemetry.DispatchMetrics

	Mail    integration.MailSender
	Locale  *locale.Service
	Factory *channel.Factory
	Manager *appintegration.Manager

	Leads       *persistence.GormLeadRepository
	Owners      *persistence.GormOwnerDirectory
	Credentials *persistence.GormCredentialSetRepository
	Units       *persistence.GormDispatchUnitRepository
	Batches     *persistence.GormBatchRepository

	Orchestrator *dispatch.Orchestrator
	Detector     *dispatch.AutoDetector
	Resend       *dispatch.ResendService
	UnitService  *dispatch.UnitService
	Notifier     *dispatch.Notifier
	Processor    *dispatch.UnitProcessor
	Aggregator   *dispatch.Aggregator
	Jobs         *dispatch.JobHandler

	closers []func(context.Context) error
}

// New builds the application for the named component (server, worker).
// On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, component string) (app *App, err error) {
	app = &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
			app = nil
		}
	}()

	if err = app.initLogger(ctx, component); err != nil {
		return nil, err
	}
	if err = app.initTelemetry(ctx, component); err != nil {
		return nil, err
	}
	if err = app.initDatabase(ctx); err != nil {
		return nil, err
	}
	if err = app.initQueue(ctx); err != nil {
		return nil, err
	}
	if err = app.initMail(); err != nil {
		return nil, err
	}
	app.initChannels()
	if err = app.initServices(ctx); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.Logger != nil {
		_ = logger.Sync(a.Logger)
	}
	return errors.Join(errs...)
}

func (a *App) logConfig(component string) *logger.Config {
	return &logger.Config{
		Level:       a.Config.Log.Level,
		Format:      a.Config.Log.Format,
		Output:      a.Config.Log.Output,
		TimeFormat:  "2006-01-02T15:04:05.000Z07:00",
		Service:     a.Config.App.Name,
		Environment: a.Config.App.Env,
		Component:   component,
	}
}

// initLogger builds the zap logger. With telemetry on, entries are also
// bridged to the OTLP logs exporter.
func (a *App) initLogger(ctx context.Context, component string) error {
	base, err := logger.New(a.logConfig(component))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.Logger = base

	if !a.Config.Telemetry.Enabled {
		return nil
	}
	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           true,
		CollectorEndpoint: a.Config.Telemetry.CollectorEndpoint,
		ServiceName:       a.Config.Telemetry.ServiceName,
		Insecure:          a.Config.Telemetry.Insecure,
	}, base)
	if err != nil {
		return fmt.Errorf("failed to initialize log exporter: %w", err)
	}
	a.Logs = lp
	a.onClose(lp.Shutdown)

	otlp, err := telemetry.OTLPCore(lp, a.Config.Telemetry.ServiceName, component, zapcore.InfoLevel)
	if err != nil {
		return err
	}
	bridged, err := logger.New(a.logConfig(component), otlp)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.Logger = bridged
	return nil
}

// initTelemetry starts the profiler first so span profiles can attach to it.
func (a *App) initTelemetry(ctx context.Context, component string) error {
	tc := a.Config.Telemetry
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           tc.ProfilingEnabled,
		ServerAddress:     tc.ProfilingServerAddress,
		ApplicationName:   tc.ProfilingAppName,
		BasicAuthUser:     tc.ProfilingAuthUser,
		BasicAuthPassword: tc.ProfilingAuthPassword,
		ProfileTypes:      tc.ProfilingTypes,
		Component:         component,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize profiler: %w", err)
	}
	a.Profiler = profiler
	a.onClose(profiler.Stop)

	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		SamplingRatio:     tc.SamplingRatio,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
		SpanProfiles:      tc.SpanProfiles && profiler.IsEnabled(),
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	a.Tracer = tp
	a.onClose(tp.Shutdown)

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		ExportInterval:    tc.MetricsInterval,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize meter: %w", err)
	}
	a.Meter = mp
	a.onClose(mp.Shutdown)
	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	gormLog := logger.NewSQLLogger(a.Logger, logger.SQLLoggerConfig{
		Level:         logger.SQLLogLevel(a.Config.Log.Level),
		SlowThreshold: a.Config.Telemetry.DBSlowQueryThresh,
	})
	db, err := persistence.Open(ctx, &a.Config.Database, gormLog)
	if err != nil {
		return err
	}
	a.DB = db
	a.onClose(func(context.Context) error { return db.Close() })
	a.Logger.Info("Database connected successfully")

	tracing := telemetry.DefaultDBTracingConfig()
	tracing.Enabled = a.Config.Telemetry.Enabled && a.Config.Telemetry.DBTraceEnabled
	tracing.LogFullSQL = a.Config.Telemetry.DBLogFullSQL
	if a.Config.Telemetry.DBSlowQueryThresh > 0 {
		tracing.SlowQueryThresh = a.Config.Telemetry.DBSlowQueryThresh
	}
	if err := telemetry.NewDBTracingPlugin(tracing, a.Logger).Register(db.DB); err != nil {
		return fmt.Errorf("failed to register database tracing: %w", err)
	}

	dbm, err := telemetry.RegisterDBMetrics(db.DB, a.Meter, telemetry.DBMetricsConfig{
		SlowQueryThreshold: a.Config.Telemetry.DBSlowQueryThresh,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to register database metrics: %w", err)
	}
	a.onClose(func(context.Context) error {
		dbm.Stop()
		return nil
	})

	a.Leads = persistence.NewGormLeadRepository(db.DB)
	a.Owners = persistence.NewGormOwnerDirectory(db.DB)
	a.Credentials = persistence.NewGormCredentialSetRepository(db.DB)
	a.Units = persistence.NewGormDispatchUnitRepository(db.DB)
	a.Batches = persistence.NewGormBatchRepository(db.DB)
	return nil
}

// initQueue opens Redis, which carries the dispatch streams and the
// idempotency keys. The memory backend keeps everything in process.
func (a *App) initQueue(ctx context.Context) error {
	if a.Config.Dispatch.QueueBackend == "memory" {
		a.Logger.Warn("Using in-memory dispatch queue; units do not survive a restart")
		a.Memory = queue.NewMemory(1024)
		a.Queue = a.Memory
		a.onClose(func(context.Context) error { return a.Memory.Close() })
		return nil
	}

	a.Redis = cache.NewRedisClient(a.Config.Redis)
	a.onClose(func(context.Context) error { return a.Redis.Close() })
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.Redis.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", a.Config.Redis.Addr(), err)
	}
	a.Logger.Info("Redis connected", zap.String("addr", a.Config.Redis.Addr()))
	a.Queue = queue.NewRedisProducer(a.Redis, a.Logger)
	return nil
}

func (a *App) initMail() error {
	if a.Config.RabbitMQ.URL == "" {
		simulate := a.Config.App.Env == "development"
		a.Logger.Warn("RabbitMQ not configured, mail requests are only logged",
			zap.Bool("reported_as_delivered", simulate))
		a.Mail = mail.NewLogSender(a.Logger, simulate)
		return nil
	}
	sender, err := mail.NewSender(mail.Config{
		URL:        a.Config.RabbitMQ.URL,
		Exchange:   a.Config.RabbitMQ.Exchange,
		RoutingKey: a.Config.RabbitMQ.RoutingKey,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize mail sender: %w", err)
	}
	a.Mail = sender
	a.onClose(func(context.Context) error { return sender.Close() })
	return nil
}

func (a *App) initChannels() {
	a.Locale = locale.NewService(locale.Config{
		DefaultLocale: a.Config.Locale.Default,
		Templates:     a.Config.Locale.Templates,
	})

	configs := make(map[integration.ChannelType]channel.TypeConfig)
	overrides := make(map[integration.ChannelType]map[string]any)
	for code, ic := range a.Config.Integrations {
		t, err := integration.ParseChannelType(code)
		if err != nil {
			a.Logger.Warn("Ignoring configuration of unknown integration type", zap.String("type", code))
			continue
		}
		configs[t] = channel.TypeConfig{BaseURL: ic.BaseURL, RequiredFields: ic.RequiredFields}
		if len(ic.Fields) > 0 {
			overrides[t] = ic.Fields
		}
	}

	hc := a.Config.HTTPClient
	client := httpclient.New(httpclient.Config{
		Timeout:        hc.Timeout,
		ConnectTimeout: hc.ConnectTimeout,
		Retries:        hc.Retries,
		RetryDelay:     hc.RetryDelay,
		UserAgent:      hc.UserAgent,
	}, a.Logger)

	a.Factory = channel.NewFactory(configs, channel.Deps{
		HTTP:       client,
		Mapper:     fieldmap.NewMapper(overrides, a.Locale, a.Logger),
		Mail:       a.Mail,
		Translator: a.Locale,
		Templates:  a.Locale,
		Logger:     a.Logger,
	})
	a.Manager = appintegration.NewManager(a.Factory, a.Logger)
}

func (a *App) initServices(ctx context.Context) error {
	dc := a.Config.Dispatch

	if a.Meter.IsEnabled() {
		m, err := telemetry.NewDispatchMetrics(telemetry.DispatchMetricsConfig{
			Meter:         a.Meter.Meter("leadflow/dispatch"),
			Logger:        a.Logger,
			StatsProvider: telemetry.NewGormUnitStatsProvider(a.DB.DB),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize dispatch metrics: %w", err)
		}
		a.Metrics = m
		m.StartPeriodicCollection(ctx, a.Config.Telemetry.MetricsInterval)
		a.onClose(func(context.Context) error {
			m.Stop()
			return nil
		})
	}

	supported, err := a.supportedTypes()
	if err != nil {
		return err
	}

	a.Orchestrator = dispatch.NewOrchestrator(a.Batches, a.Units, a.Queue, a.Metrics, a.Logger)
	a.Orchestrator.SetDefaultPolicy(integration.RetryPolicy{
		MaxAttempts: dc.MaxAttempts,
		Backoff:     dc.Backoff,
		Timeout:     dc.UnitTimeout,
	})
	a.Detector = dispatch.NewAutoDetector(a.Leads, a.Credentials, a.Orchestrator, a.Queue, supported, a.Logger)
	a.Resend = dispatch.NewResendService(a.Leads, a.Detector, a.Orchestrator, a.Queue, a.Logger)
	a.UnitService = dispatch.NewUnitService(a.Units, a.Batches, a.Orchestrator, a.Logger)
	a.Notifier = dispatch.NewNotifier(a.Mail, a.Owners, a.Locale, dispatch.NotifierConfig{
		OperatorEmails: a.Config.Notification.OperatorEmails,
		OperatorLocale: a.Config.Notification.OperatorLocale,
	}, a.Logger)
	a.Processor = dispatch.NewUnitProcessor(a.Units, a.Leads, dispatch.NewRunner(a.Leads, a.Manager),
		a.Queue, a.Notifier, a.Metrics, a.Logger)
	a.Jobs = dispatch.NewJobHandler(a.Detector, a.Resend, dc.JobTimeout, a.Logger)

	store, err := a.idempotencyStore(ctx)
	if err != nil {
		return err
	}
	a.Aggregator = dispatch.NewAggregator(a.Batches, a.Units, a.Leads, a.Notifier, store,
		shared.IdempotencyConfig{TTL: dc.IdempotencyTTL}, a.Metrics, a.Logger)
	return nil
}

// supportedTypes narrows the batch-supported types to the configured list
func (a *App) supportedTypes() ([]integration.ChannelType, error) {
	if len(a.Config.Dispatch.SupportedTypes) == 0 {
		return integration.BatchChannelTypes, nil
	}
	out := make([]integration.ChannelType, 0, len(a.Config.Dispatch.SupportedTypes))
	for _, code := range a.Config.Dispatch.SupportedTypes {
		t, err := integration.ParseChannelType(code)
		if err != nil {
			return nil, fmt.Errorf("dispatch.supported_types: %w", err)
		}
		if !t.IsBatchSupported() {
			return nil, fmt.Errorf("dispatch.supported_types: %q cannot be auto-detected", code)
		}
		out = append(out, t)
	}
	return out, nil
}

// idempotencyStore guards batch finalization. Several aggregators must share
// Redis; a lone in-memory queue process may use the in-memory store.
func (a *App) idempotencyStore(ctx context.Context) (shared.IdempotencyStore, error) {
	return cache.OpenIdempotencyStore(ctx, a.Redis, cache.StoreOptions{
		KeyPrefix:    a.Config.Redis.KeyPrefix + "idempotency:",
		RequireRedis: a.Redis != nil && a.Config.App.Env == "production",
		Logger:       a.Logger,
	})
}

// ConsumerName identifies this process inside a Redis consumer group
func ConsumerName(component string, index int) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s-%s-%d-%d", component, host, os.Getpid(), index)
}
