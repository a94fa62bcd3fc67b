package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/infrastructure/telemetry"
)

// HTTPMetricsConfig holds configuration for HTTP metrics middleware.
type HTTPMetricsConfig struct {
	MeterProvider *telemetry.MeterProvider
}

type httpMetrics struct {
	requests *telemetry.Counter
	duration *telemetry.Histogram
	inFlight metric.Int64UpDownCounter
}

func newHTTPMetrics(meter metric.Meter) (*httpMetrics, error) {
	requests, err := telemetry.NewCounter(meter, telemetry.Spec{
		Name:        "leadflow_api_requests_total",
		Description: "API requests by route, status and channel",
		Unit:        "{request}",
	})
	if err != nil {
		return nil, err
	}
	duration, err := telemetry.NewHistogram(meter, telemetry.Spec{
		Name:        "leadflow_api_request_duration_seconds",
		Description: "API request latency; synchronous sends include the remote call",
		Unit:        "s",
		Buckets:     telemetry.HTTPDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	inFlight, err := meter.Int64UpDownCounter("leadflow_api_requests_in_flight",
		metric.WithDescription("API requests being served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	return &httpMetrics{requests: requests, duration: duration, inFlight: inFlight}, nil
}

// HTTPMetrics records request counts, latency and in-flight requests. A
// disabled provider yields a pass-through middleware.
func HTTPMetrics(cfg HTTPMetricsConfig) gin.HandlerFunc {
	if !cfg.MeterProvider.IsEnabled() {
		return func(c *gin.Context) { c.Next() }
	}
	return HTTPMetricsWithMeter(cfg.MeterProvider.Meter("leadflow/http"))
}

// HTTPMetricsWithMeter is HTTPMetrics on an explicit meter.
func HTTPMetricsWithMeter(meter metric.Meter) gin.HandlerFunc {
	m, err := newHTTPMetrics(meter)
	if err != nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()
		m.inFlight.Add(ctx, 1)
		c.Next()
		m.inFlight.Add(ctx, -1)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		base := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(c.Request.Method),
			telemetry.AttrHTTPRoute.String(route),
		}
		attrs := append(base[:len(base):len(base)],
			telemetry.AttrHTTPStatusCode.Int(status),
			telemetry.AttrOutcome.String(statusClass(status)),
		)
		if ct := channelOf(c); ct != "" {
			attrs = append(attrs, telemetry.AttrChannelType.String(ct))
		}
		m.requests.Inc(ctx, attrs...)
		m.duration.RecordDuration(ctx, time.Since(start), base...)
	}
}

// channelOf returns the channel of /integrations/:type routes. Unknown
// types are folded into "unsupported" to bound cardinality.
func channelOf(c *gin.Context) string {
	if !strings.Contains(c.FullPath(), "/integrations/:type") {
		return ""
	}
	t, err := integration.ParseChannelType(c.Param("type"))
	if err != nil {
		return "unsupported"
	}
	return t.String()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	}
	return "other"
}
