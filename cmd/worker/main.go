// Command worker consumes the dispatch streams: channel units, orchestration
// jobs and batch outcomes, and runs the retry scheduler.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/leadflow/backend/internal/bootstrap"
	"github.com/leadflow/backend/internal/infrastructure/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	if cfg.Dispatch.QueueBackend == "memory" {
		panic("The worker needs dispatch.queue_backend=redis; the memory queue runs inside the server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "worker")
	if err != nil {
		panic("Failed to initialize application: " + err.Error())
	}
	log := app.Logger
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			log.Error("Error releasing resources", zap.Error(err))
		}
	}()

	group, err := app.Workers(ctx, "worker")
	if err != nil {
		log.Error("Failed to assemble dispatch workers", zap.Error(err))
		os.Exit(1)
	}
	if err := group.Start(ctx); err != nil {
		log.Error("Failed to start dispatch workers", zap.Error(err))
		os.Exit(1)
	}
	log.Info("Dispatch worker running",
		zap.String("env", cfg.App.Env),
		zap.String("consumer_group", cfg.Dispatch.ConsumerGroup),
	)

	<-ctx.Done()
	log.Info("Shutting down dispatch worker...")

	// Units in flight finish within their own timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatch.UnitTimeout+10*time.Second)
	defer cancel()
	if err := group.Stop(shutdownCtx); err != nil {
		log.Error("Dispatch workers did not stop cleanly", zap.Error(err))
	}
	log.Info("Dispatch worker exited gracefully")
}
