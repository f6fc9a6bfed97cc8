package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfman30/dental-booking-agent/cmd/mainconfig"
	"github.com/wolfman30/dental-booking-agent/internal/app/bootstrap"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

func main() {
	cfg := mainconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.UseMemoryQueue || cfg.ConversationQueueURL == "" {
		logger.Error("conversation worker needs CONVERSATION_QUEUE_URL and USE_MEMORY_QUEUE=false")
		os.Exit(1)
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	app, err := bootstrap.BuildApp(ctx, cfg, logger, bootstrap.Options{AWS: &awsCfg})
	if err != nil {
		logger.Error("failed to build app", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	pipeline := bootstrap.BuildPipeline(cfg, &awsCfg, app.Engine, logger)
	pipeline.Worker.Start(ctx)
	logger.Info("conversation worker started", "backend", pipeline.Backend, "workers", cfg.WorkerCount)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		pipeline.Worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-doneCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", doneCtx.Err())
	}
}
