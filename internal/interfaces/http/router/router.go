package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/leadflow/backend/docs"
	"github.com/leadflow/backend/internal/infrastructure/logger"
	"github.com/leadflow/backend/internal/infrastructure/telemetry"
	"github.com/leadflow/backend/internal/interfaces/http/handler"
	"github.com/leadflow/backend/internal/interfaces/http/middleware"
)

// APIPrefix is the versioned root of the dispatch API
const APIPrefix = "/api/v1"

// Handlers are the HTTP handlers served by the API
type Handlers struct {
	System       *handler.SystemHandler
	Integrations *handler.IntegrationHandler
	Leads        *handler.LeadHandler
	Dispatch     *handler.DispatchHandler
}

// route is one endpoint below APIPrefix
type route struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

func get(path string, hs ...gin.HandlerFunc) route  { return route{http.MethodGet, path, hs} }
func post(path string, hs ...gin.HandlerFunc) route { return route{http.MethodPost, path, hs} }

// apiRoutes lists the versioned endpoints. resendLimit guards the per-lead
// resend route and may be nil.
func apiRoutes(h Handlers, resendLimit gin.HandlerFunc) []route {
	resend := []gin.HandlerFunc{h.Leads.Resend}
	if resendLimit != nil {
		resend = []gin.HandlerFunc{resendLimit, h.Leads.Resend}
	}
	return []route{
		get("/system/info", h.System.GetSystemInfo),
		get("/system/ping", h.System.Ping),

		get("/integrations/types", h.Integrations.ListTypes),
		post("/integrations/:type/test", h.Integrations.TestConnection),
		post("/integrations/:type/send", h.Integrations.Send),

		post("/leads/resend", h.Leads.BulkResend),
		post("/leads/:id/dispatch", h.Leads.Dispatch),
		post("/leads/:id/resend", resend...),

		get("/batches/:id", h.Dispatch.GetBatch),

		get("/dispatch/dead", h.Dispatch.ListDeadUnits),
		get("/dispatch/stats", h.Dispatch.GetStats),
		post("/dispatch/units/:id/retry", h.Dispatch.RetryUnit),
	}
}

// EngineConfig configures the middleware stack of the engine
type EngineConfig struct {
	Release        bool
	ServiceName    string
	TrustedProxies []string
	CORS           middleware.CORSConfig
	HSTS           bool
	MaxBodySize    int64

	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	ResendLimitRequests int
	ResendLimitWindow   time.Duration

	Swagger middleware.SwaggerConfig

	TracingEnabled   bool
	ProfilingEnabled bool
	MeterProvider    *telemetry.MeterProvider
}

// NewEngine builds the gin engine with the middleware stack and every route
// of the API. /health and /swagger live outside the versioned prefix.
func NewEngine(cfg EngineConfig, h Handlers, log *zap.Logger) *gin.Engine {
	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Order matters: the request id must exist before logging and tracing
	// read it, and the tracing span must be open before attributes are added.
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Tracing(cfg.ServiceName, cfg.TracingEnabled))
	engine.Use(middleware.SpanAnnotator())
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{MeterProvider: cfg.MeterProvider}))
	if cfg.ProfilingEnabled {
		engine.Use(middleware.Profiling())
	}
	engine.Use(middleware.Secure(cfg.HSTS))
	engine.Use(middleware.CORSWithConfig(cfg.CORS))
	if cfg.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodySize))
	}
	if cfg.RateLimitEnabled {
		engine.Use(middleware.RateLimit(middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)))
		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.RateLimitRequests),
			zap.Duration("window", cfg.RateLimitWindow),
		)
	}

	var resendLimit gin.HandlerFunc
	if cfg.ResendLimitRequests > 0 && cfg.ResendLimitWindow > 0 {
		resendLimit = middleware.RateLimitByKey(
			middleware.NewRateLimiter(cfg.ResendLimitRequests, cfg.ResendLimitWindow),
			middleware.LeadParamKey,
		)
	}

	engine.GET("/health", h.System.Health)
	engine.GET("/swagger/*any",
		middleware.SwaggerProtection(cfg.Swagger),
		ginSwagger.WrapHandler(swaggerFiles.Handler),
	)

	api := engine.Group(APIPrefix)
	for _, rt := range apiRoutes(h, resendLimit) {
		api.Handle(rt.method, rt.path, rt.handlers...)
	}
	return engine
}
