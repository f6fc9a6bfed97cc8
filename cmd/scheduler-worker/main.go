package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfman30/dental-booking-agent/cmd/mainconfig"
	"github.com/wolfman30/dental-booking-agent/internal/app/bootstrap"
	"github.com/wolfman30/dental-booking-agent/internal/reminders"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

func main() {
	cfg := mainconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" && !cfg.UseMemoryStores {
		logger.Error("scheduler worker requires DATABASE_URL (or USE_MEMORY_STORES=true for local runs)")
		os.Exit(1)
	}

	app, err := bootstrap.BuildApp(ctx, cfg, logger, bootstrap.Options{AWS: mainconfig.OptionalAWS(ctx, cfg, logger)})
	if err != nil {
		logger.Error("failed to build app", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	scheduler := reminders.NewScheduler(app.Runner, cfg.Location(), logger)
	if err := scheduler.Register(); err != nil {
		logger.Error("failed to register reminder jobs", "error", err)
		os.Exit(1)
	}
	scheduler.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("scheduler worker shutting down")
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	scheduler.Stop(stopCtx)
}
