// Command scheduler-lambda runs one reminder trigger per invocation. It is
// meant to be invoked by EventBridge schedules, one rule per trigger, with a
// constant input such as {"trigger":"reminder_24h"}.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/dental-booking-agent/cmd/mainconfig"
	"github.com/wolfman30/dental-booking-agent/internal/app/bootstrap"
	"github.com/wolfman30/dental-booking-agent/internal/reminders"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// invocation is the decoded request, from either a constant-input rule or
// the detail of an EventBridge event.
type invocation struct {
	Trigger       reminders.Trigger `json:"trigger"`
	AppointmentID string            `json:"appointment_id,omitempty"`
}

type triggerRunner interface {
	RunOnce(ctx context.Context, trigger reminders.Trigger) (reminders.Result, error)
	SendReviewRequest(ctx context.Context, appointmentID string) (reminders.Result, error)
}

func main() {
	cfg := mainconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	app, err := bootstrap.BuildApp(ctx, cfg, logger, bootstrap.Options{AWS: mainconfig.OptionalAWS(ctx, cfg, logger)})
	if err != nil {
		logger.Error("failed to build app", "error", err)
		panic(err)
	}

	lambda.Start(func(ctx context.Context, raw json.RawMessage) (reminders.Result, error) {
		return handle(ctx, app.Runner, raw, logger)
	})
}

func handle(ctx context.Context, runner triggerRunner, raw json.RawMessage, logger *logging.Logger) (reminders.Result, error) {
	inv, err := decodeInvocation(raw)
	if err != nil {
		logger.Warn("rejecting scheduler invocation", "error", err)
		return reminders.Result{}, err
	}

	var res reminders.Result
	if inv.AppointmentID != "" {
		res, err = runner.SendReviewRequest(ctx, inv.AppointmentID)
	} else {
		res, err = runner.RunOnce(ctx, inv.Trigger)
	}
	if err != nil {
		logger.Error("scheduler invocation failed", "trigger", inv.Trigger, "appointment_id", inv.AppointmentID, "error", err)
		return res, err
	}
	logger.Info("scheduler invocation done",
		"trigger", res.Trigger,
		"scanned", res.Scanned,
		"sent", res.Sent,
		"queued", res.Queued,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, nil
}

func decodeInvocation(raw json.RawMessage) (invocation, error) {
	var inv invocation
	if len(raw) == 0 {
		return inv, errors.New("empty event")
	}

	var evt events.CloudWatchEvent
	if err := json.Unmarshal(raw, &evt); err == nil && evt.DetailType != "" {
		if len(evt.Detail) > 0 {
			if err := json.Unmarshal(evt.Detail, &inv); err != nil {
				return inv, fmt.Errorf("decode event detail: %w", err)
			}
		}
		// Plain scheduled events carry the trigger in the rule name, e.g. dental-reminder_24h.
		if inv.Trigger == "" && len(evt.Resources) > 0 {
			arn := evt.Resources[0]
			if i := strings.LastIndex(arn, "dental-"); i >= 0 {
				inv.Trigger = reminders.Trigger(arn[i+len("dental-"):])
			}
		}
	} else if err := json.Unmarshal(raw, &inv); err != nil {
		return inv, fmt.Errorf("decode event: %w", err)
	}

	if inv.Trigger == "" && inv.AppointmentID == "" {
		return inv, errors.New("event names no trigger")
	}
	return inv, nil
}
