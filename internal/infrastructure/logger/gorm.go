package logger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// maxLoggedSQL caps the statement text; unit batch inserts get long
const maxLoggedSQL = 2048

// SQLLoggerConfig configures the gorm logger
type SQLLoggerConfig struct {
	Level gormlogger.LogLevel
	// SlowThreshold flags statements slower than this; zero disables it
	SlowThreshold time.Duration
}

// SQLLogger writes gorm statements through zap with the lead and batch ids
// of the dispatch run that issued them. Missing rows are never logged: the
// repositories turn them into domain not-found errors.
type SQLLogger struct {
	logger *zap.Logger
	cfg    SQLLoggerConfig
}

// NewSQLLogger builds the logger. Statements themselves are written at
// Info level only.
func NewSQLLogger(zapLogger *zap.Logger, cfg SQLLoggerConfig) *SQLLogger {
	return &SQLLogger{logger: zapLogger.Named("sql"), cfg: cfg}
}

func (l *SQLLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.cfg.Level = level
	return &c
}

func (l *SQLLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.cfg.Level >= gormlogger.Info {
		l.logger.Sugar().Infof(msg, data...)
	}
}

func (l *SQLLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.cfg.Level >= gormlogger.Warn {
		l.logger.Sugar().Warnf(msg, data...)
	}
}

func (l *SQLLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.cfg.Level >= gormlogger.Error {
		l.logger.Sugar().Errorf(msg, data...)
	}
}

// Trace logs one statement. Statements cut short by a cancelled context
// (worker shutdown, request abort) are warnings, not errors.
func (l *SQLLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}
	if errors.Is(err, gormlogger.ErrRecordNotFound) {
		err = nil
	}

	elapsed := time.Since(begin)
	slow := l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold
	if err == nil && !slow && l.cfg.Level < gormlogger.Info {
		return
	}

	stmt, rows := fc()
	if len(stmt) > maxLoggedSQL {
		stmt = stmt[:maxLoggedSQL] + "..."
	}
	fields := append([]zap.Field{
		zap.String("sql", stmt),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	}, CorrelationFields(ctx)...)

	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		if l.cfg.Level >= gormlogger.Warn {
			l.logger.Warn("SQL statement interrupted", append(fields, zap.Error(err))...)
		}
	case err != nil:
		if l.cfg.Level >= gormlogger.Error {
			l.logger.Error("SQL statement failed", append(fields, zap.Error(err))...)
		}
	case slow:
		if l.cfg.Level >= gormlogger.Warn {
			l.logger.Warn("Slow SQL statement", append(fields, zap.Duration("threshold", l.cfg.SlowThreshold))...)
		}
	default:
		l.logger.Debug("SQL statement", fields...)
	}
}

// SQLLogLevel maps the application log level to gorm's. Only debug logs
// every statement.
func SQLLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "error":
		return gormlogger.Error
	case "silent":
		return gormlogger.Silent
	default:
		return gormlogger.Warn
	}
}
