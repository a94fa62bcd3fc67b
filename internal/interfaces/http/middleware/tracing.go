// Package middleware provides HTTP middleware for the dispatch API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/leadflow/backend/internal/infrastructure/telemetry"
)

// MaxRequestIDLength bounds caller supplied request ids
const MaxRequestIDLength = 128

// untracedPaths are polled by orchestrators and would drown real traffic
var untracedPaths = map[string]bool{"/health": true, "/system/ping": true}

// Tracing opens a server span per request named "METHOD route", e.g.
// "POST /api/v1/leads/:id/dispatch", continuing a W3C traceparent sent by
// the caller. Disabled, it is a pass-through.
func Tracing(serviceName string, enabled bool) gin.HandlerFunc {
	if !enabled {
		return func(c *gin.Context) { c.Next() }
	}
	return otelgin.Middleware(serviceName, otelgin.WithFilter(func(r *http.Request) bool {
		return !untracedPaths[r.URL.Path]
	}))
}

// SpanAnnotator tags the open request span with dispatch identifiers and,
// once the handler is done, marks 4xx and 5xx answers as errors. It must run
// after Tracing and RequestID.
func SpanAnnotator() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			c.Next()
			return
		}
		span.SetAttributes(routeAttributes(c)...)

		c.Next()

		status := c.Writer.Status()
		if status < http.StatusBadRequest {
			return
		}
		for _, e := range c.Errors {
			span.RecordError(e.Err)
		}
		span.SetStatus(codes.Error, statusDescription(status))
	}
}

// routeAttributes reads the request id, the lead of /leads/:id routes and
// the channel of /integrations/:type routes. Lead ids that are not UUIDs
// never reach trace storage.
func routeAttributes(c *gin.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if id := c.GetString(RequestIDKey); id != "" {
		attrs = append(attrs, attribute.String("request_id", id))
	}
	route := c.FullPath()
	if strings.Contains(route, "/leads/:id") {
		if id, err := uuid.Parse(c.Param("id")); err == nil {
			attrs = append(attrs, attribute.String(telemetry.SpanAttrLeadID, id.String()))
		}
	}
	if strings.Contains(route, "/integrations/:type") {
		attrs = append(attrs, attribute.String(telemetry.SpanAttrChannelType, strings.ToLower(c.Param("type"))))
	}
	return attrs
}

var statusDescriptions = map[int]string{
	http.StatusNotFound:              "Not Found",
	http.StatusConflict:              "Conflict",
	http.StatusRequestEntityTooLarge: "Body Too Large",
	http.StatusUnprocessableEntity:   "Validation Failed",
	http.StatusTooManyRequests:       "Rate Limited",
}

func statusDescription(status int) string {
	if status >= http.StatusInternalServerError {
		return "Internal Server Error"
	}
	if d, ok := statusDescriptions[status]; ok {
		return d
	}
	return "Client Error"
}
