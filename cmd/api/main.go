package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfman30/dental-booking-agent/cmd/mainconfig"
	"github.com/wolfman30/dental-booking-agent/internal/api/router"
	"github.com/wolfman30/dental-booking-agent/internal/app/bootstrap"
	appconfig "github.com/wolfman30/dental-booking-agent/internal/config"
	"github.com/wolfman30/dental-booking-agent/internal/dialogue"
	"github.com/wolfman30/dental-booking-agent/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/dental-booking-agent/internal/http/middleware"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

func main() {
	cfg := mainconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting dental booking API",
		"env", cfg.Env,
		"port", cfg.Port,
		"clinic_id", cfg.ClinicID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg := mainconfig.OptionalAWS(ctx, cfg, logger)
	app, err := bootstrap.BuildApp(ctx, cfg, logger, bootstrap.Options{AWS: awsCfg})
	if err != nil {
		logger.Error("failed to build app", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	pipeline := bootstrap.BuildPipeline(cfg, awsCfg, app.Engine, logger)
	inline := pipeline.Backend == "memory"
	if inline {
		pipeline.Worker.Start(ctx)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      buildHandler(cfg, app, pipeline, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	if inline {
		waitForWorker(shutdownCtx, pipeline.Worker, logger)
	}
	logger.Info("server stopped")
}

func buildHandler(cfg *appconfig.Config, app *bootstrap.App, pipeline *bootstrap.Pipeline, logger *logging.Logger) http.Handler {
	var admin *handlers.AdminHandler
	if cfg.AdminJWTSecret != "" {
		admin = handlers.NewAdminHandler(app.Runner, app.Gateway.Blocklist(), app.Actions, app.Gateway.DeliveryLog(), logger)
	} else {
		logger.Warn("ADMIN_JWT_SECRET not set, admin API disabled")
	}

	var limiter *httpmiddleware.RateLimiter
	if cfg.APIRateLimitRPS > 0 {
		limiter = httpmiddleware.NewRateLimiter(cfg.APIRateLimitRPS, cfg.APIRateLimitBurst)
	}

	var (
		publisher *dialogue.Publisher
		jobs      dialogue.JobRecorder
	)
	if pipeline != nil {
		publisher, jobs = pipeline.Publisher, pipeline.Jobs
	}

	return router.New(&router.Config{
		Logger:          logger,
		Dialogue:        dialogue.NewHandler(app.Engine, publisher, jobs, logger),
		Admin:           admin,
		AdminAuthSecret: cfg.AdminJWTSecret,
		MetricsHandler:  app.MetricsHandler(),
		RateLimiter:     limiter,
		HealthChecks:    app.HealthChecks(),
	})
}

func waitForWorker(ctx context.Context, worker *dialogue.Worker, logger *logging.Logger) {
	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("inline conversation worker stopped")
	case <-ctx.Done():
		logger.Error("inline conversation worker shutdown timed out", "error", ctx.Err())
	}
}
