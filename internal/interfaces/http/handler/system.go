package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/leadflow/backend/internal/interfaces/http/dto"
)

const healthTimeout = 2 * time.Second

// HealthCheck checks one dependency
type HealthCheck func(ctx context.Context) error

// TelemetryStatus says which signals this process exports
type TelemetryStatus struct {
	Tracing      bool `json:"tracing"`
	SpanProfiles bool `json:"span_profiles"`
	Metrics      bool `json:"metrics"`
	Profiling    bool `json:"profiling"`
}

// SystemHandler serves health, ping and build information
type SystemHandler struct {
	BaseHandler
	name      string
	version   string
	started   time.Time
	checks    map[string]HealthCheck
	telemetry TelemetryStatus
}

type SystemOption func(*SystemHandler)

// WithHealthCheck adds a dependency to /health
func WithHealthCheck(name string, check HealthCheck) SystemOption {
	return func(h *SystemHandler) { h.checks[name] = check }
}

func WithTelemetryStatus(s TelemetryStatus) SystemOption {
	return func(h *SystemHandler) { h.telemetry = s }
}

func NewSystemHandler(name, version string, opts ...SystemOption) *SystemHandler {
	h := &SystemHandler{name: name, version: version, started: time.Now(), checks: map[string]HealthCheck{}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SystemInfoResponse describes the running build
type SystemInfoResponse struct {
	Name      string          `json:"name" example:"leadflow"`
	Version   string          `json:"version" example:"1.0.0"`
	GoVersion string          `json:"go_version" example:"go1.25.5"`
	Uptime    string          `json:"uptime" example:"1h30m45s"`
	Telemetry TelemetryStatus `json:"telemetry"`
}

// GetSystemInfo godoc
// @ID           getSystemInfo
// @Summary      Get system information
// @Description  Build version, uptime and the telemetry signals being exported
// @Tags         system
// @Produce      json
// @Success      200 {object} APIResponse[SystemInfoResponse]
// @Router       /system/info [get]
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	h.Success(c, SystemInfoResponse{
		Name:      h.name,
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Telemetry: h.telemetry,
	})
}

// CheckResult is the outcome of one dependency check
type CheckResult struct {
	Status    string `json:"status" example:"ok"`
	LatencyMS int64  `json:"latency_ms" example:"3"`
	Error     string `json:"error,omitempty"`
}

// HealthResponse reports the state of each dependency
type HealthResponse struct {
	Status string                 `json:"status" example:"ok"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Health godoc
// @ID           health
// @Summary      Health check
// @Description  Checks the database and the queue concurrently. Any failing dependency answers 503.
// @Tags         system
// @Produce      json
// @Success      200 {object} APIResponse[HealthResponse]
// @Failure      503 {object} APIResponse[HealthResponse]
// @Router       /health [get]
func (h *SystemHandler) Health(c *gin.Context) {
	resp := h.runChecks(c.Request.Context())
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, dto.Response{Success: status == http.StatusOK, Data: resp})
}

func (h *SystemHandler) runChecks(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	results := make([]CheckResult, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			start := time.Now()
			err := h.checks[name](ctx)
			results[i] = CheckResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				results[i].Status, results[i].Error = "down", err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := HealthResponse{Status: "ok", Checks: make(map[string]CheckResult, len(names))}
	for i, name := range names {
		resp.Checks[name] = results[i]
		if results[i].Status != "ok" {
			resp.Status = "degraded"
		}
	}
	return resp
}

// PingResponse answers /system/ping
type PingResponse struct {
	Message   string `json:"message" example:"pong"`
	Timestamp string `json:"timestamp" example:"2026-01-23T12:00:00Z"`
}

// Ping godoc
// @ID           pingSystem
// @Summary      Ping the API
// @Description  Answers without touching any dependency
// @Tags         system
// @Produce      json
// @Success      200 {object} APIResponse[PingResponse]
// @Router       /system/ping [get]
func (h *SystemHandler) Ping(c *gin.Context) {
	h.Success(c, PingResponse{Message: "pong", Timestamp: time.Now().UTC().Format(time.RFC3339)})
}
