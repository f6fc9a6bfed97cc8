package bootstrap

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dental-booking-agent/internal/booking"
	appconfig "github.com/wolfman30/dental-booking-agent/internal/config"
	"github.com/wolfman30/dental-booking-agent/internal/intent"
	"github.com/wolfman30/dental-booking-agent/internal/messaging"
	"github.com/wolfman30/dental-booking-agent/internal/notify"
	"github.com/wolfman30/dental-booking-agent/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-agent/internal/session"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// BuildSessions returns a session manager on Redis when a client is given,
// otherwise on process memory.
func BuildSessions(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) *session.Manager {
	logger = orDefault(logger)
	if redisClient == nil {
		logger.Info("session store: memory")
		return session.NewManager(session.NewMemoryStore(), session.NewLocalLocker(), logger)
	}
	ttl := 24 * time.Hour
	if cfg != nil && cfg.SessionTTL > 0 {
		ttl = cfg.SessionTTL
	}
	logger.Info("session store: redis", "ttl", ttl.String())
	return session.NewManager(session.NewRedisStore(redisClient, ttl), session.NewRedisLocker(redisClient, 10*time.Second), logger)
}

// BuildBookingRepository picks Postgres when a pool is available. The memory
// repository is seeded with the configured clinic so local runs can book.
func BuildBookingRepository(cfg *appconfig.Config, pool *pgxpool.Pool, logger *logging.Logger) booking.Repository {
	logger = orDefault(logger)
	if pool != nil {
		logger.Info("booking repository: postgres")
		return booking.NewPostgresRepository(pool)
	}
	repo := booking.NewMemoryRepository()
	repo.SeedDefaults(cfg.ClinicID, cfg.DefaultDentistID, cfg.ClosedWeekday)
	logger.Info("booking repository: memory", "clinic_id", cfg.ClinicID)
	return repo
}

// BuildBookingActions wraps a repository with the clinic's scheduling rules.
func BuildBookingActions(cfg *appconfig.Config, repo booking.Repository, logger *logging.Logger) *booking.Actions {
	return booking.NewActions(repo, booking.Settings{
		ClosedWeekday:   cfg.ClosedWeekday,
		LookaheadDays:   cfg.LookaheadDays,
		SlotLength:      time.Duration(cfg.SlotMinutes) * time.Minute,
		DepositRequired: cfg.DepositRequired,
		PaymentWindow:   cfg.PaymentWindow,
		Timeout:         cfg.RepositoryTimeout,
		Location:        cfg.Location(),
	}, logger)
}

// BuildEmailSender selects SendGrid, SES or the logging stub. awsCfg may be
// nil when SES is not in use.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	logger = orDefault(logger)
	provider := strings.ToLower(strings.TrimSpace(cfg.EmailProvider))
	switch {
	case (provider == "" || provider == "sendgrid") && cfg.SendGridAPIKey != "":
		logger.Info("operator email: sendgrid")
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	case (provider == "" || provider == "ses") && cfg.SESFromEmail != "" && awsCfg != nil:
		logger.Info("operator email: ses")
		return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	}
	logger.Info("operator email: stub", "requested", provider)
	return notify.NewStubEmailSender(logger)
}

// GatewayDeps carries the optional backends for BuildGateway.
type GatewayDeps struct {
	Redis     *redis.Client
	Postgres  *pgxpool.Pool
	Email     notify.EmailSender
	Metrics   *metrics.DeliveryMetrics
	Transport messaging.Transport
}

// BuildGateway assembles the notification gateway. Transport overrides the
// provider selection, which tests use to inject a CaptureTransport.
func BuildGateway(cfg *appconfig.Config, deps GatewayDeps, logger *logging.Logger) (*notify.Gateway, string) {
	logger = orDefault(logger)
	transport, provider := deps.Transport, "injected"
	if transport == nil {
		var reason string
		transport, provider, reason = messaging.BuildTransport(messaging.ProviderSelectionConfig{
			Preference:       cfg.SMSProvider,
			FromNumber:       cfg.SMSFromNumber,
			TelnyxAPIKey:     cfg.TelnyxAPIKey,
			TelnyxProfileID:  cfg.TelnyxMessagingProfileID,
			TwilioAccountSID: cfg.TwilioAccountSID,
			TwilioAuthToken:  cfg.TwilioAuthToken,
			TwilioFromNumber: cfg.TwilioFromNumber,
			TwilioWhatsApp:   cfg.TwilioWhatsApp,
		}, logger)
		if reason != "" {
			logger.Warn("sms transport fallback", "provider", provider, "reason", reason)
		}
	}

	var limiter notify.Limiter
	if deps.Redis != nil {
		limiter = notify.NewRedisLimiter(deps.Redis, cfg.RateLimitMax, cfg.RateLimitWindow)
	} else {
		limiter = notify.NewSlidingWindowLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
	}

	var (
		retryStore notify.RetryStore
		blockStore notify.BlocklistStore
		log        notify.DeliveryLog
	)
	if deps.Postgres != nil {
		retryStore = notify.NewPostgresRetryStore(deps.Postgres)
		blockStore = notify.NewPostgresBlocklistStore(deps.Postgres)
		log = notify.NewPostgresDeliveryLog(deps.Postgres)
	} else {
		retryStore = notify.NewMemoryRetryStore()
		blockStore = notify.NewMemoryBlocklistStore()
		log = notify.NewMemoryDeliveryLog()
	}

	blocklist := notify.NewBlocklist(blockStore, logger).
		WithThreshold(cfg.BlockThreshold).
		WithDuration(cfg.BlockDuration)
	if alerter := notify.NewOperatorAlerter(deps.Email, cfg.OperatorAlertEmail, logger); alerter.Enabled() {
		blocklist = blocklist.OnBlock(alerter.PhoneBlocked)
	}

	retries := notify.NewRetryQueue(retryStore, logger).
		WithMaxRetries(cfg.RetryMax).
		WithDelay(cfg.RetryDelay).
		WithBatchSize(cfg.RetrySweepBatch)

	gw := notify.NewGateway(notify.GatewayConfig{
		Transport:        transport,
		Provider:         provider,
		Limiter:          limiter,
		Blocklist:        blocklist,
		Retries:          retries,
		Log:              log,
		Metrics:          deps.Metrics,
		TransportTimeout: cfg.TransportTimeout,
		Logger:           logger,
	})
	logger.Info("notification gateway ready", "provider", provider, "durable", deps.Postgres != nil)
	return gw, provider
}

// BuildClassifier returns the rule classifier, backed by a model when one is
// configured. The returned func releases model clients.
func BuildClassifier(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (*intent.Classifier, func()) {
	logger = orDefault(logger)
	opts := []intent.Option{intent.WithLogger(logger)}
	cleanup := func() {}

	switch strings.ToLower(strings.TrimSpace(cfg.IntentModelProvider)) {
	case "gemini":
		client, err := intent.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Warn("gemini intent model disabled", "error", err)
			break
		}
		cleanup = func() { _ = client.Close() }
		opts = append(opts, intent.WithExternal(intent.NewModelClassifier(client, cfg.GeminiModelID)))
		logger.Info("intent model: gemini", "model", cfg.GeminiModelID)
	case "bedrock":
		if awsCfg == nil || strings.TrimSpace(cfg.BedrockModelID) == "" {
			logger.Warn("bedrock intent model disabled", "reason", "missing aws config or BEDROCK_MODEL_ID")
			break
		}
		client := intent.NewBedrockLLMClient(bedrockruntime.NewFromConfig(*awsCfg), cfg.BedrockModelID)
		opts = append(opts, intent.WithExternal(intent.NewModelClassifier(client, cfg.BedrockModelID)))
		logger.Info("intent model: bedrock", "model", cfg.BedrockModelID)
	case "":
	default:
		logger.Warn("unknown intent model provider", "provider", cfg.IntentModelProvider)
	}
	return intent.NewClassifier(opts...), cleanup
}
