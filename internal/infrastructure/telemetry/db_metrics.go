package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBMetricsConfig holds configuration for database metrics collection.
type DBMetricsConfig struct {
	SlowQueryThreshold time.Duration // default 200ms
}

// DBMetrics records query counts and latency per table, slow queries, lost
// compare-and-set writes on the dispatch tables and connection pool usage.
type DBMetrics struct {
	queries     *Counter
	duration    *Histogram
	slow        *Counter
	staleWrites *Counter

	threshold time.Duration
	pool      metric.Registration
	logger    *zap.Logger
}

// RegisterDBMetrics installs the metrics plugin on db. It returns nil when
// the meter provider is disabled. Call Stop on shutdown.
func RegisterDBMetrics(db *gorm.DB, mp *MeterProvider, cfg DBMetricsConfig, logger *zap.Logger) (*DBMetrics, error) {
	if !mp.IsEnabled() {
		logger.Debug("MeterProvider not available, skipping database metrics")
		return nil, nil
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = 200 * time.Millisecond
	}
	meter := mp.Meter("leadflow/db")

	m := &DBMetrics{threshold: cfg.SlowQueryThreshold, logger: logger}
	var err error
	if m.queries, err = NewCounter(meter, Spec{Name: "db_query_total", Description: "Database queries by operation and table", Unit: "{query}"}); err != nil {
		return nil, err
	}
	if m.slow, err = NewCounter(meter, Spec{Name: "db_slow_query_total", Description: "Queries slower than the configured threshold", Unit: "{query}"}); err != nil {
		return nil, err
	}
	if m.staleWrites, err = NewCounter(meter, Spec{
		Name: "db_stale_write_total", Description: "Conditional dispatch updates that matched no row", Unit: "{write}",
	}); err != nil {
		return nil, err
	}
	if m.duration, err = NewHistogram(meter, Spec{
		Name:        "db_query_duration_seconds",
		Description: "Database query latency",
		Unit:        "s",
		Buckets:     DBDurationBuckets,
	}); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database metrics: %w", err)
	}
	conns, err := meter.Int64ObservableGauge("db_pool_connections",
		metric.WithDescription("Connections in the pool by state"), metric.WithUnit("{connection}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create gauge db_pool_connections: %w", err)
	}
	maxConns, err := meter.Int64ObservableGauge("db_pool_connections_max",
		metric.WithDescription("Maximum open connections"), metric.WithUnit("{connection}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create gauge db_pool_connections_max: %w", err)
	}
	m.pool, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := sqlDB.Stats()
		o.ObserveInt64(conns, int64(s.Idle), metric.WithAttributes(AttrDBPoolState.String("idle")))
		o.ObserveInt64(conns, int64(s.InUse), metric.WithAttributes(AttrDBPoolState.String("in_use")))
		o.ObserveInt64(conns, int64(s.OpenConnections), metric.WithAttributes(AttrDBPoolState.String("open")))
		o.ObserveInt64(maxConns, int64(s.MaxOpenConnections))
		return nil
	}, conns, maxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to register pool stats callback: %w", err)
	}

	if err := db.Use(&dbMetricsPlugin{metrics: m}); err != nil {
		_ = m.pool.Unregister()
		return nil, fmt.Errorf("register database metrics plugin: %w", err)
	}

	logger.Info("Database metrics registered", zap.Duration("slow_query_threshold", cfg.SlowQueryThreshold))
	return m, nil
}

// Stop detaches the pool stats callback. Safe on nil.
func (m *DBMetrics) Stop() {
	if m == nil || m.pool == nil {
		return
	}
	if err := m.pool.Unregister(); err != nil {
		m.logger.Debug("Pool stats callback already removed", zap.Error(err))
	}
	m.pool = nil
}

// RecordQuery records one finished statement.
func (m *DBMetrics) RecordQuery(ctx context.Context, operation, table string, rows int64, d time.Duration, err error) {
	if table == "" {
		table = "unknown"
	}
	tableAttr := attribute.String(AttrDBTable, table)
	m.queries.Inc(ctx, AttrDBOperation.String(operation), tableAttr)
	m.duration.RecordDuration(ctx, d, AttrDBOperation.String(operation))
	if d > m.threshold {
		m.slow.Inc(ctx, tableAttr)
	}
	if _, guarded := guardedTables[table]; guarded && operation == "UPDATE" && err == nil && rows == 0 {
		m.staleWrites.Inc(ctx, tableAttr)
	}
}

type dbMetricsPlugin struct {
	metrics *DBMetrics
}

func (p *dbMetricsPlugin) Name() string { return "leadflow:db_metrics" }

type dbMetricsStartKey struct{}

func (p *dbMetricsPlugin) Initialize(db *gorm.DB) error {
	start := func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		db.Statement.Context = context.WithValue(ctx, dbMetricsStartKey{}, time.Now())
	}
	cb := db.Callback()
	hooks := []struct {
		op            string
		before, after callbackRegistrar
	}{
		{"INSERT", cb.Create().Before("gorm:create"), cb.Create().After("gorm:create")},
		{"SELECT", cb.Query().Before("gorm:query"), cb.Query().After("gorm:query")},
		{"UPDATE", cb.Update().Before("gorm:update"), cb.Update().After("gorm:update")},
		{"DELETE", cb.Delete().Before("gorm:delete"), cb.Delete().After("gorm:delete")},
		{"", cb.Row().Before("gorm:row"), cb.Row().After("gorm:row")},
		{"", cb.Raw().Before("gorm:raw"), cb.Raw().After("gorm:raw")},
	}
	var errs []error
	for i, h := range hooks {
		name := fmt.Sprintf("leadflow:db_metrics_%d", i)
		errs = append(errs,
			h.before.Register(name+"_start", start),
			h.after.Register(name+"_record", p.record(h.op)),
		)
	}
	return errors.Join(errs...)
}

// record uses op when set, else reads the verb off the raw SQL
func (p *dbMetricsPlugin) record(op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		var d time.Duration
		if start, ok := ctx.Value(dbMetricsStartKey{}).(time.Time); ok {
			d = time.Since(start)
		}
		operation := op
		if operation == "" {
			operation = sqlVerb(db.Statement.SQL.String())
		}
		p.metrics.RecordQuery(ctx, operation, db.Statement.Table, db.Statement.RowsAffected, d, db.Error)
	}
}

func sqlVerb(sql string) string {
	sql = strings.ToUpper(strings.TrimSpace(sql))
	for _, verb := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.HasPrefix(sql, verb) {
			return verb
		}
	}
	return "OTHER"
}
