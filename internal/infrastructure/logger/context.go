package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// correlation holds the ids that tie log lines of one request or one
// dispatch run together
type correlation struct {
	requestID string
	leadID    string
	batchID   string
}

type correlationKey struct{}

func correlationFrom(ctx context.Context) correlation {
	c, _ := ctx.Value(correlationKey{}).(correlation)
	return c
}

func withCorrelation(ctx context.Context, set func(*correlation)) context.Context {
	c := correlationFrom(ctx)
	set(&c)
	return context.WithValue(ctx, correlationKey{}, c)
}

// WithRequestID stores the request id in ctx and returns a logger carrying it.
func WithRequestID(ctx context.Context, logger *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	ctx = withCorrelation(ctx, func(c *correlation) { c.requestID = requestID })
	return ctx, logger.With(zap.String("request_id", requestID))
}

// WithLeadID stores the lead id in ctx and returns a logger carrying it.
func WithLeadID(ctx context.Context, logger *zap.Logger, leadID string) (context.Context, *zap.Logger) {
	ctx = withCorrelation(ctx, func(c *correlation) { c.leadID = leadID })
	return ctx, logger.With(zap.String("lead_id", leadID))
}

// WithBatchID stores the batch id in ctx and returns a logger carrying it.
func WithBatchID(ctx context.Context, logger *zap.Logger, batchID string) (context.Context, *zap.Logger) {
	ctx = withCorrelation(ctx, func(c *correlation) { c.batchID = batchID })
	return ctx, logger.With(zap.String("batch_id", batchID))
}

// CorrelationFields returns the request, lead, batch and trace ids in ctx.
// Loggers that never saw the With* helpers (gorm, queue consumers) use it to
// join the same trail.
func CorrelationFields(ctx context.Context) []zap.Field {
	c := correlationFrom(ctx)
	var fields []zap.Field
	if c.requestID != "" {
		fields = append(fields, zap.String("request_id", c.requestID))
	}
	if c.leadID != "" {
		fields = append(fields, zap.String("lead_id", c.leadID))
	}
	if c.batchID != "" {
		fields = append(fields, zap.String("batch_id", c.batchID))
	}
	return append(fields, traceFields(ctx)...)
}

func traceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// ContextLogger logs with the trace and span ids of the active span
type ContextLogger struct {
	ctx    context.Context
	logger *zap.Logger
}

// WithLogger binds logger to the span in ctx. A nil logger discards entries.
func WithLogger(ctx context.Context, logger *zap.Logger) *ContextLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContextLogger{ctx: ctx, logger: logger}
}

func (cl *ContextLogger) traced() *zap.Logger {
	if fields := traceFields(cl.ctx); len(fields) > 0 {
		return cl.logger.With(fields...)
	}
	return cl.logger
}

func (cl *ContextLogger) Debug(msg string, fields ...zap.Field) { cl.traced().Debug(msg, fields...) }
func (cl *ContextLogger) Info(msg string, fields ...zap.Field)  { cl.traced().Info(msg, fields...) }
func (cl *ContextLogger) Warn(msg string, fields ...zap.Field)  { cl.traced().Warn(msg, fields...) }
func (cl *ContextLogger) Error(msg string, fields ...zap.Field) { cl.traced().Error(msg, fields...) }
