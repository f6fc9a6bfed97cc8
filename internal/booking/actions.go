package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/dental-booking-agent/internal/apperr"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// Settings are the clinic scheduling rules.
type Settings struct {
	ClosedWeekday   time.Weekday
	LookaheadDays   int
	SlotLength      time.Duration
	DepositRequired bool
	PaymentWindow   time.Duration
	Timeout         time.Duration
	Location        *time.Location
}

func (s Settings) withDefaults() Settings {
	if s.LookaheadDays <= 0 {
		s.LookaheadDays = 30
	}
	if s.SlotLength <= 0 {
		s.SlotLength = 30 * time.Minute
	}
	if s.PaymentWindow <= 0 {
		s.PaymentWindow = 48 * time.Hour
	}
	if s.Timeout <= 0 {
		s.Timeout = 5 * time.Second
	}
	if s.Location == nil {
		s.Location = time.UTC
	}
	return s
}

// Actions are the booking operations the dialogue engine and the schedulers call.
// Every repository call gets its own deadline.
type Actions struct {
	repo     Repository
	settings Settings
	logger   *logging.Logger
	now      func() time.Time
}

// NewActions builds the booking service.
func NewActions(repo Repository, settings Settings, logger *logging.Logger) *Actions {
	if repo == nil {
		panic("booking: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Actions{repo: repo, settings: settings.withDefaults(), logger: logger, now: time.Now}
}

// WithClock overrides time.Now.
func (a *Actions) WithClock(now func() time.Time) *Actions {
	if now != nil {
		a.now = now
	}
	return a
}

// Location is the clinic time zone.
func (a *Actions) Location() *time.Location { return a.settings.Location }

// Repository exposes the underlying store for the schedulers.
func (a *Actions) Repository() Repository { return a.repo }

func (a *Actions) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.settings.Timeout)
}

func (a *Actions) startOfDay(t time.Time) time.Time {
	t = t.In(a.settings.Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, a.settings.Location)
}

// AvailableDates walks forward from from, skipping the closed weekday and
// days without an active working-hours record, until count dates are found
// or the lookahead runs out. It never fails; lookup errors make that day
// unavailable.
func (a *Actions) AvailableDates(ctx context.Context, dentistID, clinicID string, from time.Time, count int) []time.Time {
	if count <= 0 {
		return nil
	}
	day := a.startOfDay(from)
	var out []time.Time
	for i := 0; i < a.settings.LookaheadDays && len(out) < count; i++ {
		d := day.AddDate(0, 0, i)
		if d.Weekday() == a.settings.ClosedWeekday {
			continue
		}
		hours, err := a.workingHours(ctx, clinicID, d.Weekday())
		if err != nil {
			a.logger.Warn("working hours lookup failed", "clinic_id", clinicID, "dentist_id", dentistID, "date", d.Format("2006-01-02"), "error", err)
			continue
		}
		if hours != nil {
			out = append(out, d)
		}
	}
	return out
}

// workingHours returns the first active record for the weekday, or nil.
func (a *Actions) workingHours(ctx context.Context, clinicID string, weekday time.Weekday) (*WorkingHours, error) {
	cctx, cancel := a.call(ctx)
	defer cancel()
	hours, err := a.repo.ListWorkingHours(cctx, clinicID, weekday)
	if err != nil {
		return nil, err
	}
	for i := range hours {
		if hours[i].Active {
			return &hours[i], nil
		}
	}
	return nil, nil
}

// AvailableTimes returns the free slots on date for the dentist, ascending.
// Slots that already started are left out. A day with no schedule yields no
// slots rather than an error.
func (a *Actions) AvailableTimes(ctx context.Context, dentistID, clinicID string, date time.Time) ([]Slot, error) {
	return a.availableTimes(ctx, dentistID, clinicID, date, "")
}

func (a *Actions) availableTimes(ctx context.Context, dentistID, clinicID string, date time.Time, ignoreID string) ([]Slot, error) {
	const op = "booking.available_times"
	day := a.startOfDay(date)
	hours, err := a.workingHours(ctx, clinicID, day.Weekday())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	if hours == nil || day.Weekday() == a.settings.ClosedWeekday {
		a.logger.Warn("no clinic schedule for date",
			"kind", string(apperr.KindDataIntegrity),
			"clinic_id", clinicID,
			"date", day.Format("2006-01-02"),
		)
		return nil, nil
	}
	open, errOpen := clockOn(day, hours.Open)
	closing, errClose := clockOn(day, hours.Close)
	if errOpen != nil || errClose != nil || !closing.After(open) {
		a.logger.Error("invalid working hours",
			"kind", string(apperr.KindDataIntegrity),
			"clinic_id", clinicID,
			"open", hours.Open,
			"close", hours.Close,
		)
		return nil, nil
	}

	cctx, cancel := a.call(ctx)
	defer cancel()
	existing, err := a.repo.ListAppointmentsInWindow(cctx, WindowQuery{
		DentistID: dentistID,
		Field:     ByStart,
		From:      day,
		To:        day.AddDate(0, 0, 1),
		Statuses:  []Status{StatusPending, StatusConfirmed},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}

	now := a.now()
	var slots []Slot
	for start := open; !start.Add(a.settings.SlotLength).After(closing); start = start.Add(a.settings.SlotLength) {
		slot := Slot{Start: start, End: start.Add(a.settings.SlotLength)}
		if !slot.Start.After(now) {
			continue
		}
		taken := false
		for _, e := range existing {
			if e.ID == ignoreID {
				continue
			}
			if slot.Overlaps(e.StartsAt, e.EndsAt) {
				taken = true
				break
			}
		}
		if !taken {
			slots = append(slots, slot)
		}
	}
	return slots, nil
}

func clockOn(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}

// CreateRequest describes a new booking.
type CreateRequest struct {
	PatientID string
	ClinicID  string
	DentistID string
	Start     time.Time
	Reason    string
}

// Create books a slot. The slot must be one AvailableTimes would offer; the
// repository's overlap guard settles races between concurrent bookings.
func (a *Actions) Create(ctx context.Context, req CreateRequest) (*Appointment, error) {
	const op = "booking.create"
	if req.PatientID == "" || req.DentistID == "" || req.Start.IsZero() {
		return nil, apperr.UserInput(op, "Some booking details are missing. Let's start again.")
	}
	if err := a.ensureSlotOpen(ctx, op, req.DentistID, req.ClinicID, req.Start, ""); err != nil {
		return nil, err
	}

	now := a.now()
	appt := &Appointment{
		PatientID: req.PatientID,
		ClinicID:  req.ClinicID,
		DentistID: req.DentistID,
		StartsAt:  req.Start.UTC(),
		EndsAt:    req.Start.Add(a.settings.SlotLength).UTC(),
		Status:    StatusConfirmed,
		Reason:    strings.TrimSpace(req.Reason),
		CreatedAt: now.UTC(),
	}
	if a.settings.DepositRequired {
		due := now.Add(a.settings.PaymentWindow).UTC()
		appt.Status = StatusPending
		appt.PaymentDueAt = &due
	}

	cctx, cancel := a.call(ctx)
	defer cancel()
	if err := a.repo.CreateAppointment(cctx, appt); err != nil {
		return nil, a.mapRepoError(op, err)
	}
	a.logger.Info("appointment created", "appointment_id", appt.ID, "patient_id", appt.PatientID, "dentist_id", appt.DentistID, "starts_at", appt.StartsAt)
	return appt, nil
}

// Reschedule moves an active appointment to newStart, optionally with a
// different dentist (empty keeps the current one).
func (a *Actions) Reschedule(ctx context.Context, id string, newStart time.Time, dentistID string) (*Appointment, error) {
	const op = "booking.reschedule"
	appt, err := a.get(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if !appt.Status.Active() {
		return nil, apperr.Conflict(op, "That appointment can no longer be changed.", ErrInvalidTransition)
	}
	if dentistID == "" {
		dentistID = appt.DentistID
	}
	if err := a.ensureSlotOpen(ctx, op, dentistID, appt.ClinicID, newStart, appt.ID); err != nil {
		return nil, err
	}

	appt.DentistID = dentistID
	appt.StartsAt = newStart.UTC()
	appt.EndsAt = newStart.Add(a.settings.SlotLength).UTC()
	cctx, cancel := a.call(ctx)
	defer cancel()
	if err := a.repo.UpdateAppointment(cctx, appt); err != nil {
		return nil, a.mapRepoError(op, err)
	}
	a.logger.Info("appointment rescheduled", "appointment_id", appt.ID, "starts_at", appt.StartsAt, "dentist_id", appt.DentistID)
	return appt, nil
}

// Cancel marks an active appointment cancelled.
func (a *Actions) Cancel(ctx context.Context, id, reason string) (*Appointment, error) {
	const op = "booking.cancel"
	cctx, cancel := a.call(ctx)
	defer cancel()
	appt, err := a.repo.CancelAppointment(cctx, id, strings.TrimSpace(reason), a.now())
	if err != nil {
		return nil, a.mapRepoError(op, err)
	}
	a.logger.Info("appointment cancelled", "appointment_id", appt.ID, "reason", appt.CancelReason)
	return appt, nil
}

// MarkPaid confirms a pending appointment once its deposit is in.
func (a *Actions) MarkPaid(ctx context.Context, id string) (*Appointment, error) {
	const op = "booking.mark_paid"
	appt, err := a.get(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusPending {
		return nil, apperr.Conflict(op, "Only pending appointments can be marked paid.", ErrInvalidTransition)
	}
	appt.Status = StatusConfirmed
	appt.PaymentDueAt = nil
	cctx, cancel := a.call(ctx)
	defer cancel()
	if err := a.repo.UpdateAppointment(cctx, appt); err != nil {
		return nil, a.mapRepoError(op, err)
	}
	return appt, nil
}

// Get loads one appointment.
func (a *Actions) Get(ctx context.Context, id string) (*Appointment, error) {
	return a.get(ctx, "booking.get", id)
}

func (a *Actions) get(ctx context.Context, op, id string) (*Appointment, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.NotFound(op, "I couldn't find that appointment.")
	}
	cctx, cancel := a.call(ctx)
	defer cancel()
	appt, err := a.repo.GetAppointment(cctx, id)
	if err != nil {
		return nil, a.mapRepoError(op, err)
	}
	return appt, nil
}

// FindOrCreatePatient resolves a patient by phone, registering one on first contact.
func (a *Actions) FindOrCreatePatient(ctx context.Context, phone, name string) (*Patient, error) {
	const op = "booking.find_or_create_patient"
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, apperr.UserInput(op, "I need a phone number to look up your appointments.")
	}
	cctx, cancel := a.call(ctx)
	defer cancel()
	p, err := a.repo.FindPatientByPhone(cctx, phone)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	p = &Patient{Phone: phone, Name: strings.TrimSpace(name), CreatedAt: a.now().UTC()}
	if err := a.repo.CreatePatient(cctx, p); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	a.logger.Info("patient registered", "patient_id", p.ID)
	return p, nil
}

// Patient loads a patient by id.
func (a *Actions) Patient(ctx context.Context, id string) (*Patient, error) {
	const op = "booking.patient"
	cctx, cancel := a.call(ctx)
	defer cancel()
	p, err := a.repo.GetPatient(cctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.Wrapf(apperr.KindNotFound, op, "I couldn't find that patient.", err)
		}
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	return p, nil
}

// InWindow scans appointments for the reminder sweeps.
func (a *Actions) InWindow(ctx context.Context, q WindowQuery) ([]Appointment, error) {
	cctx, cancel := a.call(ctx)
	defer cancel()
	appts, err := a.repo.ListAppointmentsInWindow(cctx, q)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "booking.in_window", err)
	}
	return appts, nil
}

// ListUpcoming returns the patient's active appointments that have not started yet.
func (a *Actions) ListUpcoming(ctx context.Context, patientID string) ([]Appointment, error) {
	const op = "booking.list_upcoming"
	cctx, cancel := a.call(ctx)
	defer cancel()
	all, err := a.repo.ListAppointments(cctx, patientID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	now := a.now()
	var out []Appointment
	for _, appt := range all {
		if appt.Status.Active() && appt.StartsAt.After(now) {
			out = append(out, appt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

// AlternativeDentist finds another active dentist at the clinic with a free
// slot on date.
func (a *Actions) AlternativeDentist(ctx context.Context, clinicID, excludeID string, date time.Time) (*Dentist, error) {
	const op = "booking.alternative_dentist"
	cctx, cancel := a.call(ctx)
	dentists, err := a.repo.ListDentists(cctx, clinicID)
	cancel()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	for _, d := range dentists {
		if !d.Active || d.ID == excludeID {
			continue
		}
		slots, err := a.AvailableTimes(ctx, d.ID, clinicID, date)
		if err != nil {
			a.logger.Warn("alternative dentist lookup failed", "dentist_id", d.ID, "error", err)
			continue
		}
		if len(slots) > 0 {
			dentist := d
			return &dentist, nil
		}
	}
	return nil, apperr.NotFound(op, "No other dentist is free that day.")
}

// Dentist looks up one of the clinic's dentists by id.
func (a *Actions) Dentist(ctx context.Context, clinicID, id string) (*Dentist, error) {
	const op = "booking.dentist"
	cctx, cancel := a.call(ctx)
	defer cancel()
	dentists, err := a.repo.ListDentists(cctx, clinicID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err)
	}
	for _, d := range dentists {
		if d.ID == id {
			dentist := d
			return &dentist, nil
		}
	}
	return nil, apperr.NotFound(op, "I couldn't find that dentist.")
}

func (a *Actions) ensureSlotOpen(ctx context.Context, op, dentistID, clinicID string, start time.Time, ignoreID string) error {
	if !start.After(a.now()) {
		return apperr.UserInput(op, "That time has already passed. Please choose another.")
	}
	slots, err := a.availableTimes(ctx, dentistID, clinicID, start, ignoreID)
	if err != nil {
		return err
	}
	for _, s := range slots {
		if s.Start.Equal(start) {
			return nil
		}
	}
	return apperr.Conflict(op, "That time is no longer available. Please pick another slot.", ErrSlotTaken)
}

func (a *Actions) mapRepoError(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.Wrapf(apperr.KindNotFound, op, "I couldn't find that appointment.", err)
	case errors.Is(err, ErrSlotTaken):
		return apperr.Conflict(op, "That time was just taken. Please pick another slot.", err)
	case errors.Is(err, ErrStaleVersion):
		return apperr.Conflict(op, "That appointment was just changed. Please try again.", err)
	case errors.Is(err, ErrInvalidTransition):
		return apperr.Conflict(op, "That appointment can no longer be changed.", err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.KindInternal, op, fmt.Errorf("repository timeout: %w", err))
	default:
		return apperr.Wrap(apperr.KindInternal, op, err)
	}
}
