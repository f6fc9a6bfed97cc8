package bootstrap

import (
	"context"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dental-booking-agent/internal/api/router"
	"github.com/wolfman30/dental-booking-agent/internal/booking"
	appconfig "github.com/wolfman30/dental-booking-agent/internal/config"
	"github.com/wolfman30/dental-booking-agent/internal/dialogue"
	"github.com/wolfman30/dental-booking-agent/internal/messaging"
	"github.com/wolfman30/dental-booking-agent/internal/messaging/templates"
	"github.com/wolfman30/dental-booking-agent/internal/notify"
	"github.com/wolfman30/dental-booking-agent/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-agent/internal/reminders"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// App is the fully wired core shared by every binary.
type App struct {
	Config   *appconfig.Config
	Logger   *logging.Logger
	Redis    *redis.Client
	Postgres *pgxpool.Pool
	Registry *prometheus.Registry

	Actions  *booking.Actions
	Gateway  *notify.Gateway
	Provider string
	Engine   *dialogue.Engine
	Runner   *reminders.Runner

	closers []func()
}

// Options adjusts BuildApp. AWS is nil when the binary runs without AWS
// access; Transport replaces provider selection.
type Options struct {
	AWS       *aws.Config
	Transport messaging.Transport
}

// BuildApp connects the stores and wires the engine and the reminder runner.
func BuildApp(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, opts Options) (*App, error) {
	logger = orDefault(logger)
	app := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app.Redis = BuildRedisClient(ctx, cfg, logger, true)
	if app.Redis != nil {
		app.closers = append(app.closers, func() { _ = app.Redis.Close() })
	}
	pool, err := BuildPostgresPool(ctx, cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	if pool != nil {
		app.Postgres = pool
		app.closers = append(app.closers, pool.Close)
	}

	app.Actions = BuildBookingActions(cfg, BuildBookingRepository(cfg, pool, logger), logger)
	app.Gateway, app.Provider = BuildGateway(cfg, GatewayDeps{
		Redis:     app.Redis,
		Postgres:  pool,
		Email:     BuildEmailSender(cfg, opts.AWS, logger),
		Metrics:   metrics.NewDeliveryMetrics(app.Registry),
		Transport: opts.Transport,
	}, logger)

	classifier, release := BuildClassifier(ctx, cfg, opts.AWS, logger)
	app.closers = append(app.closers, release)

	catalog := templates.MustCatalog()
	app.Engine = dialogue.NewEngine(dialogue.Config{
		Sessions:         BuildSessions(cfg, app.Redis, logger),
		Actions:          app.Actions,
		Classifier:       classifier,
		Sender:           app.Gateway,
		Catalog:          catalog,
		Metrics:          metrics.NewDialogueMetrics(app.Registry),
		ClinicID:         cfg.ClinicID,
		ClinicName:       cfg.ClinicName,
		DefaultDentistID: cfg.DefaultDentistID,
		DateOptions:      cfg.DateOptions,
		AgentThreshold:   cfg.IntentThreshold,
		Logger:           logger,
	})
	app.Runner = reminders.NewRunner(reminders.Config{
		Actions:    app.Actions,
		Gateway:    app.Gateway,
		Catalog:    catalog,
		Metrics:    metrics.NewSchedulerMetrics(app.Registry),
		ClinicID:   cfg.ClinicID,
		ClinicName: cfg.ClinicName,
		Logger:     logger,
	})
	return app, nil
}

// MetricsHandler exposes the app's registry.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
}

// HealthChecks probes the connected backends.
func (a *App) HealthChecks() map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	if a.Postgres != nil {
		checks["postgres"] = a.Postgres.Ping
	}
	return checks
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
