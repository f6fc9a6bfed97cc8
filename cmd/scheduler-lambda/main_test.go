package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-booking-agent/internal/reminders"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

type stubRunner struct {
	triggers []reminders.Trigger
	reviews  []string
	err      error
}

func (s *stubRunner) RunOnce(_ context.Context, trigger reminders.Trigger) (reminders.Result, error) {
	s.triggers = append(s.triggers, trigger)
	return reminders.Result{Trigger: trigger, Scanned: 2, Sent: 2}, s.err
}

func (s *stubRunner) SendReviewRequest(_ context.Context, id string) (reminders.Result, error) {
	s.reviews = append(s.reviews, id)
	return reminders.Result{Trigger: reminders.TriggerReviewRequest, Scanned: 1, Sent: 1}, s.err
}

func TestHandleConstantInput(t *testing.T) {
	runner := &stubRunner{}
	res, err := handle(context.Background(), runner, json.RawMessage(`{"trigger":"reminder_24h"}`), logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, []reminders.Trigger{reminders.TriggerReminder24h}, runner.triggers)
}

func TestHandleEventBridgeDetail(t *testing.T) {
	runner := &stubRunner{}
	raw := json.RawMessage(`{"detail-type":"Scheduled Event","source":"aws.events","resources":[],"detail":{"trigger":"payment_pending"}}`)
	_, err := handle(context.Background(), runner, raw, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, []reminders.Trigger{reminders.TriggerPaymentPending}, runner.triggers)
}

func TestHandleEventBridgeRuleName(t *testing.T) {
	runner := &stubRunner{}
	raw := json.RawMessage(`{"detail-type":"Scheduled Event","source":"aws.events","resources":["arn:aws:events:us-east-1:123:rule/dental-reminder_2h"],"detail":{}}`)
	_, err := handle(context.Background(), runner, raw, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, []reminders.Trigger{reminders.TriggerReminder2h}, runner.triggers)
}

func TestHandleReviewRequestForAppointment(t *testing.T) {
	runner := &stubRunner{}
	_, err := handle(context.Background(), runner, json.RawMessage(`{"appointment_id":"appt-9"}`), logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, []string{"appt-9"}, runner.reviews)
	assert.Empty(t, runner.triggers)
}

func TestHandleRejectsBadEvents(t *testing.T) {
	runner := &stubRunner{}
	for _, raw := range []string{``, `{}`, `not json`} {
		_, err := handle(context.Background(), runner, json.RawMessage(raw), logging.Discard())
		assert.Error(t, err, "event %q", raw)
	}
	assert.Empty(t, runner.triggers)
}

func TestHandlePropagatesRunnerError(t *testing.T) {
	runner := &stubRunner{err: errors.New("database down")}
	_, err := handle(context.Background(), runner, json.RawMessage(`{"trigger":"retry_sweep"}`), logging.Discard())
	assert.EqualError(t, err, "database down")
}
