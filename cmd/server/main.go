package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/bootstrap"
	"github.com/leadflow/backend/internal/infrastructure/config"
	"github.com/leadflow/backend/internal/infrastructure/scheduler"
	"github.com/leadflow/backend/internal/interfaces/http/handler"
	"github.com/leadflow/backend/internal/interfaces/http/middleware"
	"github.com/leadflow/backend/internal/interfaces/http/router"
)

const version = "1.0.0"

//	@title			Leadflow Dispatch API
//	@version		1.0
//	@description	Dispatches leads to CRMs, messengers and mailing services and tracks every delivery attempt.

//	@license.name	Proprietary

//	@BasePath	/api/v1

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	app, err := bootstrap.New(context.Background(), cfg, "server")
	if err != nil {
		panic("Failed to initialize application: " + err.Error())
	}
	log := app.Logger
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Close(ctx); err != nil {
			log.Error("Error releasing resources", zap.Error(err))
		}
	}()

	log.Info("Starting Leadflow API",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("queue_backend", cfg.Dispatch.QueueBackend),
	)

	// The memory queue only lives in this process, so its workers must too
	var workers *scheduler.Group
	if app.Memory != nil {
		workers, err = app.Workers(context.Background(), "server")
		if err != nil {
			log.Fatal("Failed to assemble dispatch workers", zap.Error(err))
		}
		if err := workers.Start(context.Background()); err != nil {
			log.Fatal("Failed to start dispatch workers", zap.Error(err))
		}
		log.Info("In-process dispatch workers started")
	}

	systemOpts := []handler.SystemOption{
		handler.WithHealthCheck("database", app.DB.Ping),
		handler.WithTelemetryStatus(handler.TelemetryStatus{
			Tracing:      app.Tracer.IsEnabled(),
			SpanProfiles: app.Tracer.SpanProfilesEnabled(),
			Metrics:      app.Meter.IsEnabled(),
			Profiling:    app.Profiler.IsEnabled(),
		}),
	}
	if app.Redis != nil {
		systemOpts = append(systemOpts, handler.WithHealthCheck("redis", func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		}))
	}

	handlers := router.Handlers{
		System:       handler.NewSystemHandler(cfg.App.Name, version, systemOpts...),
		Integrations: handler.NewIntegrationHandler(app.Manager, app.Leads),
		Leads:        handler.NewLeadHandler(app.Leads, app.Detector, app.Resend),
		Dispatch:     handler.NewDispatchHandler(app.UnitService),
	}

	engine := router.NewEngine(router.EngineConfig{
		Release:        cfg.App.Env == "production",
		ServiceName:    cfg.Telemetry.ServiceName,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		CORS: middleware.CORSConfig{
			AllowOrigins: cfg.HTTP.CORSAllowOrigins,
			AllowMethods: cfg.HTTP.CORSAllowMethods,
			AllowHeaders: cfg.HTTP.CORSAllowHeaders,
			ExposeHeaders: []string{
				middleware.RequestIDHeader,
			},
			MaxAge: 12 * time.Hour,
		},
		HSTS:                cfg.HTTP.HSTSEnabled,
		MaxBodySize:         cfg.HTTP.MaxBodySize,
		RateLimitEnabled:    cfg.HTTP.RateLimitEnabled,
		RateLimitRequests:   cfg.HTTP.RateLimitRequests,
		RateLimitWindow:     cfg.HTTP.RateLimitWindow,
		ResendLimitRequests: cfg.HTTP.ResendLimitRequests,
		ResendLimitWindow:   cfg.HTTP.ResendLimitWindow,
		Swagger: middleware.SwaggerConfig{
			Enabled:    cfg.HTTP.SwaggerEnabled,
			AllowedIPs: cfg.HTTP.SwaggerAllowedIPs,
		},
		TracingEnabled:   app.Tracer.IsEnabled(),
		ProfilingEnabled: app.Profiler.IsEnabled(),
		MeterProvider:    app.Meter,
	}, handlers, log)

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if workers != nil {
		if err := workers.Stop(ctx); err != nil {
			log.Error("Dispatch workers did not stop cleanly", zap.Error(err))
		}
	}

	log.Info("Server exited gracefully")
}
