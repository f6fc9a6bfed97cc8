// Package reminders runs the periodic notification sweeps. Every trigger is
// the same scan, filter, idempotency check, optional effect and send
// sequence; only the window and the message differ.
package reminders

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/dental-booking-agent/internal/booking"
	"github.com/wolfman30/dental-booking-agent/internal/notify"
)

// Trigger names a scheduled job.
type Trigger string

const (
	TriggerReminder24h      Trigger = "reminder_24h"
	TriggerReminder2h       Trigger = "reminder_2h"
	TriggerPaymentPending   Trigger = "payment_pending"
	TriggerHistoryNudge     Trigger = "history_nudge"
	TriggerReviewRequest    Trigger = "review_request"
	TriggerAutoCancelUnpaid Trigger = "auto_cancel_unpaid"
	TriggerRetrySweep       Trigger = "retry_sweep"
)

// errSkip tells the sweep to leave a candidate alone without counting a failure.
var errSkip = errors.New("reminders: skip candidate")

// Sweep is one instance of the shared scan-and-notify pass.
type Sweep struct {
	Trigger Trigger
	// Spec is the cron expression, evaluated in the clinic time zone.
	Spec     string
	Event    notify.EventType
	Template string
	Window   func(now time.Time) booking.WindowQuery
	Filter   func(appt *booking.Appointment, patient *booking.Patient) bool
	// Effect runs after the idempotency check and before the send.
	Effect func(ctx context.Context, r *Runner, appt *booking.Appointment) (*booking.Appointment, error)
}

// paymentTail keeps payment_due_at == now+24h inside the half-open window.
const paymentTail = time.Microsecond

// DefaultSweeps returns every appointment trigger keyed by name.
func DefaultSweeps() map[Trigger]Sweep {
	sweeps := []Sweep{
		{
			Trigger:  TriggerReminder24h,
			Spec:     "0 * * * *",
			Event:    notify.EventReminder24h,
			Template: "reminder_24h",
			Window: func(now time.Time) booking.WindowQuery {
				return booking.WindowQuery{
					Field:    booking.ByStart,
					From:     now.Add(23 * time.Hour),
					To:       now.Add(25 * time.Hour),
					Statuses: []booking.Status{booking.StatusConfirmed},
				}
			},
		},
		{
			Trigger:  TriggerReminder2h,
			Spec:     "30 * * * *",
			Event:    notify.EventReminder2h,
			Template: "reminder_2h",
			Window: func(now time.Time) booking.WindowQuery {
				return booking.WindowQuery{
					Field:    booking.ByStart,
					From:     now.Add(90 * time.Minute),
					To:       now.Add(150 * time.Minute),
					Statuses: []booking.Status{booking.StatusConfirmed},
				}
			},
		},
		{
			Trigger:  TriggerPaymentPending,
			Spec:     "0 */6 * * *",
			Event:    notify.EventPaymentPending,
			Template: "payment_pending",
			Window: func(now time.Time) booking.WindowQuery {
				return booking.WindowQuery{
					Field:    booking.ByPaymentDue,
					From:     now.Add(paymentTail),
					To:       now.Add(24*time.Hour + paymentTail),
					Statuses: []booking.Status{booking.StatusPending},
				}
			},
		},
		{
			Trigger:  TriggerHistoryNudge,
			Spec:     "0 10 * * *",
			Event:    notify.EventHistoryNudge,
			Template: "history_nudge",
			Window: func(now time.Time) booking.WindowQuery {
				return booking.WindowQuery{
					Field:    booking.ByStart,
					From:     now,
					To:       now.Add(72 * time.Hour),
					Statuses: []booking.Status{booking.StatusPending, booking.StatusConfirmed},
				}
			},
			Filter: func(_ *booking.Appointment, p *booking.Patient) bool {
				return !p.HistoryComplete
			},
		},
		{
			Trigger:  TriggerReviewRequest,
			Spec:     "0 18 * * *",
			Event:    notify.EventReviewRequest,
			Template: "review_request",
			Window: func(now time.Time) booking.WindowQuery {
				return booking.WindowQuery{
					Field:    booking.ByEnd,
					From:     now.Add(-24 * time.Hour),
					To:       now,
					Statuses: []booking.Status{booking.StatusConfirmed, booking.StatusCompleted},
				}
			},
		},
		{
			Trigger:  TriggerAutoCancelUnpaid,
			Spec:     "0 */2 * * *",
			Event:    notify.EventAutoCancelled,
			Template: "auto_cancelled",
			Window: func(now time.Time) booking.WindowQuery {
				return booking.WindowQuery{
					Field:    booking.ByPaymentDue,
					From:     time.Unix(0, 0).UTC(),
					To:       now,
					Statuses: []booking.Status{booking.StatusPending},
				}
			},
			Effect: cancelUnpaid,
		},
	}
	out := make(map[Trigger]Sweep, len(sweeps))
	for _, s := range sweeps {
		out[s.Trigger] = s
	}
	return out
}

// cancelUnpaid re-reads the appointment so a deposit that landed after the
// scan wins over the cancellation.
func cancelUnpaid(ctx context.Context, r *Runner, appt *booking.Appointment) (*booking.Appointment, error) {
	fresh, err := r.actions.Get(ctx, appt.ID)
	if err != nil {
		return nil, err
	}
	if fresh.Status != booking.StatusPending || fresh.PaymentDueAt == nil || fresh.PaymentDueAt.After(r.now()) {
		return nil, errSkip
	}
	return r.actions.Cancel(ctx, fresh.ID, "deposit not received")
}
