package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// quietPaths are health endpoints logged at debug level only
var quietPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/ready":   true,
}

// GinMiddleware logs one line per API call. The request id and, on lead
// routes, the lead id are put in the request context so the services behind
// the handler log with them.
func GinMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		ctx, reqLog := WithRequestID(c.Request.Context(),
			log.With(zap.String("method", c.Request.Method), zap.String("path", path)),
			c.GetString("request_id"))
		if id := leadParam(c); id != "" {
			ctx, reqLog = WithLeadID(ctx, reqLog, id)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		level := levelFor(status, path)
		if !reqLog.Core().Enabled(level) {
			return
		}
		fields := []zap.Field{
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.Int("body_size", c.Writer.Size()),
		}
		if route := c.FullPath(); route != "" {
			fields = append(fields, zap.String("route", route))
		}
		if q := c.Request.URL.RawQuery; q != "" {
			fields = append(fields, zap.String("query", q))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}
		reqLog.Log(level, "HTTP Request", fields...)
	}
}

func levelFor(status int, path string) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	case quietPaths[path]:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// leadParam returns the :id path parameter of lead routes
func leadParam(c *gin.Context) string {
	if !strings.Contains(c.FullPath(), "/leads/:id") {
		return ""
	}
	return c.Param("id")
}

// internalErrorBody mirrors the API error envelope; this package cannot
// import the dto package.
var internalErrorBody = gin.H{
	"success": false,
	"message": "Internal server error",
	"error":   gin.H{"code": "INTERNAL_ERROR", "message": "Internal server error"},
}

// Recovery turns a handler panic into a logged 500 with the error envelope.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			log.Error("Panic recovered",
				zap.String("request_id", c.GetString("request_id")),
				zap.String("method", c.Request.Method),
				zap.String("route", c.FullPath()),
				zap.Any("error", r),
				zap.Stack("stacktrace"),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, internalErrorBody)
		}()
		c.Next()
	}
}
