package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/leadflow/backend/internal/infrastructure/telemetry"
)

// Profiling labels CPU samples taken while a request runs with its route
// pattern and method. Health checks and the docs are left unlabelled.
func Profiling() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" || route == "/health" || strings.HasPrefix(route, "/swagger") {
			c.Next()
			return
		}
		labels := telemetry.HTTPProfilingLabels(c.Request.Method, route)
		if t := c.Param("type"); t != "" {
			labels[telemetry.ProfilingLabelChannel] = strings.ToLower(t)
		}
		telemetry.WithProfilingLabels(c.Request.Context(), labels, func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}
