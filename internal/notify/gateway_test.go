package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/dental-booking-agent/internal/apperr"
	"github.com/wolfman30/dental-booking-agent/internal/messaging"
	"github.com/wolfman30/dental-booking-agent/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

type gatewayFixture struct {
	clk       *fakeClock
	transport *messaging.CaptureTransport
	retries   *MemoryRetryStore
	log       *MemoryDeliveryLog
	blocklist *Blocklist
	gateway   *Gateway
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	clk := newFakeClock(testBase)
	logger := logging.Discard()
	f := &gatewayFixture{
		clk:       clk,
		transport: messaging.NewCaptureTransport(),
		retries:   NewMemoryRetryStore(),
		log:       NewMemoryDeliveryLog(),
	}
	f.blocklist = NewBlocklist(NewMemoryBlocklistStore(), logger).WithClock(clk.Now)
	f.gateway = NewGateway(GatewayConfig{
		Transport: f.transport,
		Provider:  "capture",
		Limiter:   NewSlidingWindowLimiter(3, time.Hour).WithClock(clk.Now),
		Blocklist: f.blocklist,
		Retries:   NewRetryQueue(f.retries, logger).WithClock(clk.Now),
		Log:       f.log,
		Metrics:   metrics.NewDeliveryMetrics(prometheus.NewRegistry()),
		Logger:    logger,
	}).WithClock(clk.Now)
	return f
}

func TestGatewaySendLogsDelivery(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	rec, err := f.gateway.Send(ctx, Message{Recipient: "(555) 000-1111", Body: "See you tomorrow", EventType: EventReminder24h, EntityID: "appt-1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, rec.Outcome)
	assert.Equal(t, "capture", rec.Provider)

	sent := f.transport.Messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "+15550001111", sent[0].Recipient)

	entries, err := f.log.List(ctx, "appt-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, EventReminder24h, entries[0].NotificationType)
	assert.Equal(t, rec.ProviderMessageID, entries[0].ProviderMessageID)

	handled, err := f.gateway.AlreadyHandled(ctx, "appt-1", EventReminder24h)
	require.NoError(t, err)
	assert.True(t, handled)
}

func TestGatewaySkipsDuplicateScheduledMessage(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	msg := Message{Recipient: "+15550001111", Body: "Thanks for visiting", EventType: EventReviewRequest, EntityID: "appt-1"}

	_, err := f.gateway.Send(ctx, msg)
	require.NoError(t, err)
	rec, err := f.gateway.Send(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, rec.Outcome)
	assert.Len(t, f.transport.Messages(), 1)
}

func TestGatewayDropsRateLimitedLiveReply(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.gateway.Send(ctx, Message{Recipient: "+15550001111", Body: "reply", Live: true})
		require.NoError(t, err)
		f.clk.Advance(10 * time.Minute)
	}
	f.clk.Advance(-5 * time.Minute) // t=25m

	rec, err := f.gateway.Send(ctx, Message{Recipient: "+15550001111", Body: "reply", Live: true})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindRateLimited))
	assert.Equal(t, OutcomeDropped, rec.Outcome)
	assert.Equal(t, 35*time.Minute, rec.RetryAfter)
	assert.Empty(t, f.retries.List(), "live replies are never queued")
	assert.Len(t, f.transport.Messages(), 3)
}

func TestGatewayQueuesRateLimitedScheduledMessage(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.gateway.Send(ctx, Message{Recipient: "+15550001111", Body: "reply", Live: true})
		require.NoError(t, err)
	}

	rec, err := f.gateway.Send(ctx, Message{Recipient: "+15550001111", Body: "Reminder", EventType: EventReminder2h, EntityID: "appt-9"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, rec.Outcome)
	queued := f.retries.List()
	require.Len(t, queued, 1)
	assert.Equal(t, AttemptPending, queued[0].Status)

	handled, err := f.gateway.AlreadyHandled(ctx, "appt-9", EventReminder2h)
	require.NoError(t, err)
	assert.True(t, handled, "a pending retry counts as handled")

	f.clk.Advance(61 * time.Minute)
	res, err := f.gateway.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	exists, err := f.log.Exists(ctx, "appt-9", EventReminder2h)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestGatewayTransportFailureRetriesThenSucceeds(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	f.transport.FailNext(errors.New("provider 503"))

	rec, err := f.gateway.Send(ctx, Message{Recipient: "+15550001111", Body: "Booked", EventType: EventAppointmentCreated, EntityID: "appt-1:1"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindTransientDelivery))
	assert.Equal(t, OutcomeQueued, rec.Outcome)

	block, err := f.blocklist.Get(ctx, "+15550001111")
	require.NoError(t, err)
	assert.Equal(t, 1, block.ConsecutiveFailures)

	f.clk.Advance(30 * time.Minute)
	res, err := f.gateway.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Len(t, f.transport.Messages(), 1)

	block, err = f.blocklist.Get(ctx, "+15550001111")
	require.NoError(t, err)
	assert.Zero(t, block.ConsecutiveFailures)
}

func TestGatewayPermanentFailureIsNotRetried(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	f.transport.FailNext(messaging.Permanent("twilio", "21211", errors.New("invalid To")))

	rec, err := f.gateway.Send(ctx, Message{Recipient: "+15550001111", Body: "Booked", EventType: EventAppointmentCreated, EntityID: "appt-1:1"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, OutcomeFailed, rec.Outcome)
	attempts := f.retries.List()
	require.Len(t, attempts, 1)
	assert.Equal(t, AttemptFailed, attempts[0].Status)
}

func TestGatewayDoesNotResendAfterRetriesExhausted(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	down := errors.New("carrier timeout")
	f.transport.FailNext(down, down, down)
	msg := Message{Recipient: "+15550001111", Body: "See you tomorrow", EventType: EventReminder24h, EntityID: "appt-1"}

	rec, err := f.gateway.Send(ctx, msg)
	require.Error(t, err)
	require.Equal(t, OutcomeQueued, rec.Outcome)
	for i := 0; i < 3; i++ {
		f.clk.Advance(31 * time.Minute)
		_, err := f.gateway.ProcessDue(ctx)
		require.NoError(t, err)
	}
	attempts := f.retries.List()
	require.Len(t, attempts, 1)
	require.Equal(t, AttemptFailed, attempts[0].Status)

	handled, err := f.gateway.AlreadyHandled(ctx, "appt-1", EventReminder24h)
	require.NoError(t, err)
	assert.True(t, handled)

	rec, err = f.gateway.Send(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, rec.Outcome)
	assert.Empty(t, f.transport.Messages())
	assert.Len(t, f.retries.List(), 1)
}

func TestGatewayDoesNotResendAfterPermanentFailure(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	f.transport.FailNext(messaging.Permanent("twilio", "21211", errors.New("invalid To")))
	msg := Message{Recipient: "+15550001111", Body: "Thanks for visiting", EventType: EventReviewRequest, EntityID: "appt-1"}

	_, err := f.gateway.Send(ctx, msg)
	require.Error(t, err)

	rec, err := f.gateway.Send(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, rec.Outcome)
	assert.Empty(t, f.transport.Messages())
}

func TestGatewayBlockedRecipient(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	f.transport.FailNext(errors.New("x"), errors.New("y"), errors.New("z"))
	for _, et := range []EventType{EventAppointmentCreated, EventReminder24h, EventReminder2h} {
		_, _ = f.gateway.Send(ctx, Message{Recipient: "+15550001111", Body: "b", EventType: et, EntityID: "appt-" + string(et)})
	}

	rec, err := f.gateway.Send(ctx, Message{Recipient: "+15550001111", Body: "b", EventType: EventReviewRequest, EntityID: "appt-x"})
	require.Error(t, err)
	assert.Equal(t, OutcomeBlocked, rec.Outcome)
	assert.True(t, apperr.Is(err, apperr.KindPermanentDelivery))
	assert.Empty(t, f.transport.Messages())

	// queued retries for the blocked phone are finalized by the sweep
	f.clk.Advance(time.Hour)
	res, err := f.gateway.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Failed)
	assert.Empty(t, f.transport.Messages())
}

func TestGatewayRejectsInvalidRecipient(t *testing.T) {
	f := newGatewayFixture(t)
	rec, err := f.gateway.Send(context.Background(), Message{Recipient: "web-session", Body: "hi"})
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, rec.Outcome)
	assert.True(t, apperr.Is(err, apperr.KindPermanentDelivery))
}

func TestAlreadyHandledRequiresEntity(t *testing.T) {
	f := newGatewayFixture(t)
	_, err := f.gateway.AlreadyHandled(context.Background(), "", EventReminder24h)
	assert.Error(t, err)
}
