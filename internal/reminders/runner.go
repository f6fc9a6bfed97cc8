package reminders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dental-booking-agent/internal/booking"
	"github.com/wolfman30/dental-booking-agent/internal/messaging/templates"
	"github.com/wolfman30/dental-booking-agent/internal/notify"
	"github.com/wolfman30/dental-booking-agent/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// Gateway is the slice of *notify.Gateway the sweeps need.
type Gateway interface {
	Send(ctx context.Context, msg notify.Message) (notify.Receipt, error)
	AlreadyHandled(ctx context.Context, entityID string, eventType notify.EventType) (bool, error)
	ProcessDue(ctx context.Context) (notify.SweepResult, error)
}

// Config wires a Runner.
type Config struct {
	Actions    *booking.Actions
	Gateway    Gateway
	Catalog    *templates.Catalog
	Metrics    *metrics.SchedulerMetrics
	ClinicID   string
	ClinicName string
	Logger     *logging.Logger
}

// Result summarizes one trigger run.
type Result struct {
	Trigger Trigger `json:"trigger"`
	Scanned int     `json:"scanned"`
	Sent    int     `json:"sent"`
	Queued  int     `json:"queued"`
	Skipped int     `json:"skipped"`
	Failed  int     `json:"failed"`
}

// Runner executes sweeps against the booking repository and the gateway.
// It keeps no state between runs.
type Runner struct {
	actions    *booking.Actions
	gateway    Gateway
	catalog    *templates.Catalog
	metrics    *metrics.SchedulerMetrics
	clinicID   string
	clinicName string
	sweeps     map[Trigger]Sweep
	logger     *logging.Logger
	now        func() time.Time
	tracer     trace.Tracer
}

func NewRunner(cfg Config) *Runner {
	if cfg.Actions == nil || cfg.Gateway == nil {
		panic("reminders: actions and gateway required")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = templates.MustCatalog()
	}
	if cfg.ClinicName == "" {
		cfg.ClinicName = "our clinic"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Runner{
		actions:    cfg.Actions,
		gateway:    cfg.Gateway,
		catalog:    cfg.Catalog,
		metrics:    cfg.Metrics,
		clinicID:   cfg.ClinicID,
		clinicName: cfg.ClinicName,
		sweeps:     DefaultSweeps(),
		logger:     cfg.Logger,
		now:        time.Now,
		tracer:     otel.Tracer("dental.internal.reminders.runner"),
	}
}

// WithClock overrides time.Now.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	if now != nil {
		r.now = now
	}
	return r
}

// Triggers lists everything RunOnce accepts.
func (r *Runner) Triggers() []Trigger {
	return []Trigger{
		TriggerReminder24h,
		TriggerReminder2h,
		TriggerPaymentPending,
		TriggerHistoryNudge,
		TriggerReviewRequest,
		TriggerAutoCancelUnpaid,
		TriggerRetrySweep,
	}
}

// RunOnce runs a trigger by name.
func (r *Runner) RunOnce(ctx context.Context, trigger Trigger) (Result, error) {
	if trigger == TriggerRetrySweep {
		res, err := r.gateway.ProcessDue(ctx)
		r.metrics.ObserveSweep(string(trigger), err)
		return Result{
			Trigger: trigger,
			Scanned: res.Claimed,
			Sent:    res.Sent,
			Queued:  res.Rescheduled,
			Failed:  res.Failed,
		}, err
	}
	sweep, ok := r.sweeps[trigger]
	if !ok {
		return Result{Trigger: trigger}, fmt.Errorf("reminders: unknown trigger %q", trigger)
	}
	return r.Run(ctx, sweep)
}

// Run scans the sweep's window and notifies each eligible appointment once.
func (r *Runner) Run(ctx context.Context, sweep Sweep) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "reminders.run", trace.WithAttributes(attribute.String("trigger", string(sweep.Trigger))))
	defer span.End()

	q := sweep.Window(r.now().UTC())
	q.ClinicID = r.clinicID
	appts, err := r.actions.InWindow(ctx, q)
	if err != nil {
		span.RecordError(err)
		r.metrics.ObserveSweep(string(sweep.Trigger), err)
		r.logger.Error("reminder scan failed", "trigger", sweep.Trigger, "error", err)
		return Result{Trigger: sweep.Trigger}, fmt.Errorf("reminders: scan %s: %w", sweep.Trigger, err)
	}

	res := r.process(ctx, sweep, appts)
	r.metrics.ObserveSweep(string(sweep.Trigger), nil)
	r.logger.Info("reminder sweep finished", "trigger", sweep.Trigger, "scanned", res.Scanned, "sent", res.Sent,
		"queued", res.Queued, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// SendReviewRequest asks for a review of one finished appointment. Calling it
// again for the same appointment does nothing.
func (r *Runner) SendReviewRequest(ctx context.Context, appointmentID string) (Result, error) {
	appt, err := r.actions.Get(ctx, appointmentID)
	if err != nil {
		return Result{Trigger: TriggerReviewRequest}, err
	}
	res := r.process(ctx, r.sweeps[TriggerReviewRequest], []booking.Appointment{*appt})
	if res.Failed > 0 {
		return res, fmt.Errorf("reminders: review request for %s failed", appointmentID)
	}
	return res, nil
}

func (r *Runner) process(ctx context.Context, sweep Sweep, appts []booking.Appointment) Result {
	res := Result{Trigger: sweep.Trigger, Scanned: len(appts)}
	for i := range appts {
		disposition := r.notify(ctx, sweep, &appts[i])
		r.metrics.ObserveCandidate(string(sweep.Trigger), disposition)
		switch disposition {
		case "sent":
			res.Sent++
		case "queued":
			res.Queued++
		case "skipped":
			res.Skipped++
		default:
			res.Failed++
		}
	}
	return res
}

func (r *Runner) notify(ctx context.Context, sweep Sweep, appt *booking.Appointment) string {
	log := r.logger.With("trigger", sweep.Trigger, "appointment_id", appt.ID)

	patient, err := r.actions.Patient(ctx, appt.PatientID)
	if err != nil {
		log.Error("load patient failed", "error", err)
		return "failed"
	}
	if patient.Phone == "" {
		log.Warn("patient has no phone, skipping")
		return "skipped"
	}
	if sweep.Filter != nil && !sweep.Filter(appt, patient) {
		return "skipped"
	}

	handled, err := r.gateway.AlreadyHandled(ctx, appt.ID, sweep.Event)
	if err != nil {
		log.Error("idempotency check failed", "error", err)
		return "failed"
	}
	if handled {
		log.Debug("already notified")
		return "skipped"
	}

	if sweep.Effect != nil {
		updated, err := sweep.Effect(ctx, r, appt)
		if errors.Is(err, errSkip) {
			return "skipped"
		}
		if err != nil {
			log.Error("sweep effect failed", "error", err)
			return "failed"
		}
		appt = updated
	}

	body, err := r.catalog.Render(sweep.Template, r.templateData(ctx, appt, patient))
	if err != nil {
		log.Error("render notification failed", "error", err)
		return "failed"
	}

	receipt, err := r.gateway.Send(ctx, notify.Message{
		Recipient: patient.Phone,
		Body:      body,
		EventType: sweep.Event,
		EntityID:  appt.ID,
	})
	switch {
	case receipt.Outcome == notify.OutcomeSent:
		return "sent"
	case receipt.Outcome == notify.OutcomeQueued:
		log.Info("notification queued for retry", "error", err)
		return "queued"
	case err != nil:
		log.Warn("notification not delivered", "error", err, "outcome", receipt.Outcome)
		return "failed"
	default:
		return "skipped"
	}
}

func (r *Runner) templateData(ctx context.Context, appt *booking.Appointment, patient *booking.Patient) templates.Data {
	loc := r.actions.Location()
	data := templates.Data{
		ClinicName:  r.clinicName,
		PatientName: patient.Name,
		DentistName: "your dentist",
		StartsAt:    appt.StartsAt.In(loc),
		Reason:      appt.Reason,
	}
	if d, err := r.actions.Dentist(ctx, appt.ClinicID, appt.DentistID); err == nil {
		data.DentistName = d.Name
	}
	if appt.PaymentDueAt != nil {
		data.Deposit = true
		data.PaymentDueAt = appt.PaymentDueAt.In(loc)
		if left := appt.PaymentDueAt.Sub(r.now()); left > 0 {
			data.HoursRemaining = int(math.Ceil(left.Hours()))
		}
	}
	return data
}
