package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/dental-booking-agent/internal/apperr"
	"github.com/wolfman30/dental-booking-agent/internal/messaging"
	"github.com/wolfman30/dental-booking-agent/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultTransportTimeout = 10 * time.Second

// IsPermanent reports whether a delivery error should never be retried.
func IsPermanent(err error) bool {
	return messaging.IsPermanent(err) || apperr.Is(err, apperr.KindPermanentDelivery)
}

// GatewayConfig wires a Gateway. Limiter, Blocklist, Retries and Log default
// to in-memory implementations when nil.
type GatewayConfig struct {
	Transport        messaging.Transport
	Provider         string
	Limiter          Limiter
	Blocklist        *Blocklist
	Retries          *RetryQueue
	Log              DeliveryLog
	Metrics          *metrics.DeliveryMetrics
	TransportTimeout time.Duration
	Logger           *logging.Logger
}

// Gateway is the only path to the transport.
type Gateway struct {
	transport messaging.Transport
	provider  string
	limiter   Limiter
	blocklist *Blocklist
	retries   *RetryQueue
	log       DeliveryLog
	metrics   *metrics.DeliveryMetrics
	timeout   time.Duration
	now       func() time.Time
	logger    *logging.Logger
	tracer    trace.Tracer
}

func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Transport == nil {
		panic("notify: transport required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewSlidingWindowLimiter(defaultRateLimitMax, defaultRateLimitWindow)
	}
	if cfg.Blocklist == nil {
		cfg.Blocklist = NewBlocklist(NewMemoryBlocklistStore(), cfg.Logger)
	}
	if cfg.Retries == nil {
		cfg.Retries = NewRetryQueue(NewMemoryRetryStore(), cfg.Logger)
	}
	if cfg.Log == nil {
		cfg.Log = NewMemoryDeliveryLog()
	}
	if cfg.TransportTimeout <= 0 {
		cfg.TransportTimeout = defaultTransportTimeout
	}
	return &Gateway{
		transport: cfg.Transport,
		provider:  cfg.Provider,
		limiter:   cfg.Limiter,
		blocklist: cfg.Blocklist,
		retries:   cfg.Retries,
		log:       cfg.Log,
		metrics:   cfg.Metrics,
		timeout:   cfg.TransportTimeout,
		now:       time.Now,
		logger:    cfg.Logger,
		tracer:    otel.Tracer("dental.internal.notify.gateway"),
	}
}

func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	if now != nil {
		g.now = now
	}
	return g
}

func (g *Gateway) Blocklist() *Blocklist { return g.blocklist }

func (g *Gateway) DeliveryLog() DeliveryLog { return g.log }

// Send delivers msg. Scheduled messages that already have a delivery log
// entry are skipped with OutcomeDuplicate. The returned error carries an
// apperr kind whenever the message was not sent.
func (g *Gateway) Send(ctx context.Context, msg Message) (Receipt, error) {
	const op = "notify.send"
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.EventType == "" {
		msg.EventType = EventLiveReply
	}
	ctx, span := g.tracer.Start(ctx, "gateway.send", trace.WithAttributes(
		attribute.String("event_type", string(msg.EventType)),
		attribute.Bool("live", msg.Live),
	))
	defer span.End()

	msg.Recipient = messaging.NormalizeE164(msg.Recipient)
	if msg.Recipient == "" {
		g.metrics.ObserveSend(string(msg.EventType), string(OutcomeFailed))
		return Receipt{MessageID: msg.ID, Outcome: OutcomeFailed}, apperr.New(apperr.KindPermanentDelivery, op, "recipient is not a valid phone number")
	}

	if !msg.Live && msg.EntityID != "" {
		handled, err := g.AlreadyHandled(ctx, msg.EntityID, msg.EventType)
		if err != nil {
			return Receipt{MessageID: msg.ID}, apperr.Wrap(apperr.KindInternal, op, err)
		}
		if handled {
			g.metrics.ObserveSend(string(msg.EventType), string(OutcomeDuplicate))
			return Receipt{MessageID: msg.ID, Outcome: OutcomeDuplicate}, nil
		}
	}

	rec, err := g.attempt(ctx, msg)
	if err == nil {
		g.metrics.ObserveSend(string(msg.EventType), string(rec.Outcome))
		return rec, nil
	}
	span.RecordError(err)

	switch {
	case rec.Outcome == OutcomeBlocked:
		g.logger.Warn("delivery skipped, recipient blocked", "recipient", msg.Recipient, "event_type", msg.EventType, "entity_id", msg.EntityID)
	case apperr.Is(err, apperr.KindRateLimited) && msg.Live:
		g.logger.Info("live reply dropped, rate limited", "recipient", msg.Recipient, "retry_after", rec.RetryAfter)
	case IsPermanent(err):
		if ferr := g.retries.Fail(ctx, msg, err); ferr != nil {
			g.logger.Error("record final failure failed", "error", ferr, "message_id", msg.ID)
		}
		rec.Outcome = OutcomeFailed
	default:
		queued, qerr := g.retries.Schedule(ctx, msg, err)
		if qerr != nil {
			g.logger.Error("schedule retry failed", "error", qerr, "message_id", msg.ID)
			rec.Outcome = OutcomeFailed
			break
		}
		if queued {
			rec.Outcome = OutcomeQueued
			g.metrics.ObserveRetry("scheduled")
			if apperr.Is(err, apperr.KindRateLimited) {
				// the retry sweep owns it from here
				g.metrics.ObserveSend(string(msg.EventType), string(rec.Outcome))
				return rec, nil
			}
		} else {
			rec.Outcome = OutcomeFailed
			err = apperr.Wrap(apperr.KindPermanentDelivery, op, err)
		}
	}
	g.metrics.ObserveSend(string(msg.EventType), string(rec.Outcome))
	return rec, err
}

// attempt runs the blocklist, limiter and transport steps once. On success
// the delivery is logged and the failure counter reset; on transport failure
// the blocklist records it. Queueing is left to the caller.
func (g *Gateway) attempt(ctx context.Context, msg Message) (Receipt, error) {
	const op = "notify.attempt"
	rec := Receipt{MessageID: msg.ID}

	blocked, err := g.blocklist.IsBlocked(ctx, msg.Recipient)
	if err != nil {
		g.logger.Error("blocklist lookup failed", "error", err, "recipient", msg.Recipient)
	}
	if blocked {
		rec.Outcome = OutcomeBlocked
		return rec, apperr.New(apperr.KindPermanentDelivery, op, "recipient is blocked")
	}

	allowed, wait, err := g.limiter.Allow(ctx, msg.Recipient)
	if err != nil {
		// fail open
		g.logger.Error("rate limiter unavailable", "error", err, "recipient", msg.Recipient)
		allowed = true
	}
	if !allowed {
		rec.Outcome = OutcomeDropped
		rec.RetryAfter = wait
		return rec, apperr.RateLimited(op, wait)
	}

	sendCtx, cancel := context.WithTimeout(ctx, g.timeout)
	start := g.now()
	res, sendErr := g.transport.SendText(sendCtx, msg.Recipient, msg.Body)
	cancel()
	provider := res.Provider
	if provider == "" {
		provider = g.provider
	}
	g.metrics.ObserveTransportLatency(provider, sendErr == nil, g.now().Sub(start).Seconds())

	if sendErr != nil {
		if _, ferr := g.blocklist.RecordFailure(ctx, msg.Recipient, msg.EventType, sendErr); ferr != nil {
			g.logger.Error("record delivery failure failed", "error", ferr, "recipient", msg.Recipient)
		}
		g.logger.Warn("transport send failed", "error", sendErr, "recipient", msg.Recipient, "event_type", msg.EventType, "retry", msg.RetryCount)
		rec.Outcome = OutcomeFailed
		if IsPermanent(sendErr) {
			return rec, apperr.Wrap(apperr.KindPermanentDelivery, op, sendErr)
		}
		return rec, apperr.Wrap(apperr.KindTransientDelivery, op, sendErr)
	}

	entityID := msg.EntityID
	if entityID == "" {
		entityID = msg.ID
	}
	if _, err := g.log.Append(ctx, Entry{
		EntityID:          entityID,
		NotificationType:  msg.EventType,
		Recipient:         msg.Recipient,
		Provider:          provider,
		ProviderMessageID: res.ID,
		SentAt:            g.now().UTC(),
	}); err != nil {
		g.logger.Error("delivery log append failed", "error", err, "entity_id", entityID, "event_type", msg.EventType)
	}
	if err := g.blocklist.RecordSuccess(ctx, msg.Recipient); err != nil {
		g.logger.Error("record delivery success failed", "error", err, "recipient", msg.Recipient)
	}
	rec.Outcome = OutcomeSent
	rec.Provider = provider
	rec.ProviderMessageID = res.ID
	return rec, nil
}

// ProcessDue sweeps the retry queue through the same blocklist, limiter and
// transport steps as Send.
func (g *Gateway) ProcessDue(ctx context.Context) (SweepResult, error) {
	res, err := g.retries.ProcessDue(ctx, func(ctx context.Context, msg Message) error {
		rec, err := g.attempt(ctx, msg)
		if err == nil {
			g.metrics.ObserveSend(string(msg.EventType), string(rec.Outcome))
		}
		return err
	})
	for i := 0; i < res.Sent; i++ {
		g.metrics.ObserveRetry("sent")
	}
	for i := 0; i < res.Rescheduled; i++ {
		g.metrics.ObserveRetry("scheduled")
	}
	for i := 0; i < res.Failed; i++ {
		g.metrics.ObserveRetry("exhausted")
	}
	if err != nil {
		return res, fmt.Errorf("notify: process due: %w", err)
	}
	if res.Claimed > 0 {
		g.logger.Info("retry sweep finished", "claimed", res.Claimed, "sent", res.Sent, "rescheduled", res.Rescheduled, "failed", res.Failed)
	}
	return res, nil
}

// AlreadyHandled is true when the pair was delivered or went through the
// retry queue, whether the retry is still in flight or was finalized as
// failed. Re-sending a finalized pair would start a fresh attempt budget.
func (g *Gateway) AlreadyHandled(ctx context.Context, entityID string, eventType EventType) (bool, error) {
	if entityID == "" {
		return false, errors.New("notify: entity id required")
	}
	exists, err := g.log.Exists(ctx, entityID, eventType)
	if err != nil {
		return false, fmt.Errorf("notify: check delivery log: %w", err)
	}
	if exists {
		return true, nil
	}
	attempted, err := g.retries.HasAttempt(ctx, entityID, eventType)
	if err != nil {
		return false, fmt.Errorf("notify: check retry attempts: %w", err)
	}
	return attempted, nil
}
