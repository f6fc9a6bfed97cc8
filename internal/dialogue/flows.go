package dialogue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/dental-booking-agent/internal/apperr"
	"github.com/wolfman30/dental-booking-agent/internal/booking"
	"github.com/wolfman30/dental-booking-agent/internal/notify"
	"github.com/wolfman30/dental-booking-agent/internal/session"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// parseChoice accepts a bare non-negative number, optionally followed by a period.
func parseChoice(text string) (int, bool) {
	text = strings.TrimSuffix(strings.TrimSpace(text), ".")
	if text == "" || len(text) > 3 {
		return 0, false
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(text)
	return n, err == nil
}

func inRange(n, size int) bool { return n >= 1 && n <= size }

// choose applies a numeric choice to the current step. Numbers outside the
// step's options re-prompt without touching the state.
func (e *Engine) choose(ctx context.Context, t *turn, n int) (string, error) {
	c := t.c
	switch c.Step {
	case session.StepMainMenu:
		switch n {
		case 1:
			return e.startBooking(ctx, t)
		case 2:
			return e.listAppointments(ctx, t)
		case 3:
			return e.startSelection(ctx, t, session.ActionReschedule, 0)
		case 4:
			return e.startSelection(ctx, t, session.ActionCancel, 0)
		}
		return e.outOfRange(ctx, c, 4), nil

	case session.StepSelectingDate, session.StepReschedulingDate:
		if !inRange(n, len(c.Entities.OfferedDates)) {
			return e.outOfRange(ctx, c, len(c.Entities.OfferedDates)), nil
		}
		return e.selectDate(ctx, t, c.Entities.OfferedDates[n-1])

	case session.StepSelectingTime, session.StepReschedulingTime:
		if !inRange(n, len(c.Entities.OfferedTimes)) {
			return e.outOfRange(ctx, c, len(c.Entities.OfferedTimes)), nil
		}
		return e.selectTime(ctx, t, c.Entities.OfferedTimes[n-1])

	case session.StepSelectingAppointment:
		if !inRange(n, len(c.Entities.OfferedAppointments)) {
			return e.outOfRange(ctx, c, len(c.Entities.OfferedAppointments)), nil
		}
		return e.selectAppointment(ctx, t, c.Entities.OfferedAppointments[n-1])

	case session.StepConfirmingCancellation:
		switch n {
		case 1:
			return e.confirmCancel(ctx, t)
		case 2:
			return e.keepAppointment(t), nil
		}
		return e.outOfRange(ctx, c, 2), nil

	case session.StepConfirmingReassignment:
		switch n {
		case 1:
			return e.acceptReassignment(ctx, t)
		case 2:
			return e.declineReassignment(ctx, t), nil
		}
		return e.outOfRange(ctx, c, 2), nil

	case session.StepAwaitingClientName, session.StepAwaitingDescription:
		return joinBlocks("Please type your answer in words.", e.prompt(ctx, c)), nil
	}

	c.ResetToMenu()
	return mainMenuText, nil
}

func (e *Engine) outOfRange(ctx context.Context, c *session.ConversationContext, max int) string {
	return joinBlocks(fmt.Sprintf("Please choose a number between 1 and %d.", max), e.prompt(ctx, c))
}

func (e *Engine) startBooking(ctx context.Context, t *turn) (string, error) {
	t.c.Entities = session.Entities{DentistID: e.cfg.DefaultDentistID}
	return e.offerDates(ctx, t, session.StepSelectingDate)
}

func (e *Engine) offerDates(ctx context.Context, t *turn, step session.Step) (string, error) {
	c := t.c
	dates := e.actions.AvailableDates(ctx, c.Entities.DentistID, e.cfg.ClinicID, e.now(), e.cfg.DateOptions)
	if len(dates) == 0 {
		c.ResetToMenu()
		return joinBlocks("There are no open dates in the coming weeks. Please call the clinic and we'll find you a time.", mainMenuText), nil
	}
	offered := make([]string, len(dates))
	for i, d := range dates {
		offered[i] = d.Format(dateLayout)
	}
	c.Entities.OfferedDates = offered
	c.Entities.OfferedTimes = nil
	c.Entities.SelectedDate = ""
	c.Entities.SelectedTime = ""
	c.Entities.ReassignDentistID = ""
	c.Step = step
	return e.prompt(ctx, c), nil
}

func (e *Engine) rescheduling(c *session.ConversationContext) bool {
	return c.Entities.PendingAction == session.ActionReschedule
}

// selectDate fixes the day and offers its free times. A fully booked day
// offers another dentist when one is free, or keeps the date list.
func (e *Engine) selectDate(ctx context.Context, t *turn, date string) (string, error) {
	const op = "dialogue.select_date"
	c := t.c
	day, err := time.ParseInLocation(dateLayout, date, e.actions.Location())
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, op, err)
	}
	slots, err := e.actions.AvailableTimes(ctx, c.Entities.DentistID, e.cfg.ClinicID, day)
	if err != nil {
		return "", err
	}

	if len(slots) == 0 {
		if !e.rescheduling(c) {
			alt, altErr := e.actions.AlternativeDentist(ctx, e.cfg.ClinicID, c.Entities.DentistID, day)
			if altErr == nil {
				c.Entities.SelectedDate = date
				c.Entities.ReassignDentistID = alt.ID
				c.Step = session.StepConfirmingReassignment
				return joinBlocks(
					fmt.Sprintf("There are no openings with your dentist on %s, but %s has time that day.", dateLabel(day), alt.Name),
					e.prompt(ctx, c),
				), nil
			}
		}
		c.Entities.SelectedDate = ""
		if c.Step != session.StepSelectingDate && c.Step != session.StepReschedulingDate {
			c.Step = session.StepSelectingDate
			if e.rescheduling(c) {
				c.Step = session.StepReschedulingDate
			}
		}
		return joinBlocks(fmt.Sprintf("Sorry, %s is fully booked.", dateLabel(day)), e.prompt(ctx, c)), nil
	}

	times := make([]string, len(slots))
	for i, s := range slots {
		times[i] = s.Start.In(e.actions.Location()).Format(clockLayout)
	}
	c.Entities.SelectedDate = date
	c.Entities.SelectedTime = ""
	c.Entities.OfferedTimes = times
	c.Step = session.StepSelectingTime
	if e.rescheduling(c) {
		c.Step = session.StepReschedulingTime
	}
	return e.prompt(ctx, c), nil
}

func (e *Engine) selectTime(ctx context.Context, t *turn, hhmm string) (string, error) {
	c := t.c
	c.Entities.SelectedTime = hhmm
	if e.rescheduling(c) {
		return e.completeReschedule(ctx, t)
	}
	if strings.TrimSpace(c.User.DisplayName) == "" {
		c.Step = session.StepAwaitingClientName
	} else {
		c.Entities.ClientName = c.User.DisplayName
		c.Step = session.StepAwaitingDescription
	}
	return e.prompt(ctx, c), nil
}

func (e *Engine) takeName(ctx context.Context, t *turn, text string) (string, error) {
	c := t.c
	name := truncate(strings.Join(strings.Fields(text), " "), maxNameLength)
	if name == "" {
		return e.prompt(ctx, c), nil
	}
	c.User.DisplayName = name
	c.Entities.ClientName = name
	c.Step = session.StepAwaitingDescription
	return joinBlocks(fmt.Sprintf("Thanks, %s.", name), e.prompt(ctx, c)), nil
}

func (e *Engine) takeDescription(ctx context.Context, t *turn, text string) (string, error) {
	c := t.c
	desc := truncate(strings.TrimSpace(text), maxDescriptionLength)
	if desc == "" {
		return e.prompt(ctx, c), nil
	}
	c.Entities.Description = desc
	return e.completeBooking(ctx, t)
}

func (e *Engine) selectedStart(c *session.ConversationContext) (time.Time, error) {
	start, err := time.ParseInLocation(dateLayout+" "+clockLayout, c.Entities.SelectedDate+" "+c.Entities.SelectedTime, e.actions.Location())
	if err != nil {
		return time.Time{}, apperr.Wrap(apperr.KindInternal, "dialogue.selected_start", err)
	}
	return start, nil
}

// patientID resolves the session's patient, registering one by phone on first use.
func (e *Engine) patientID(ctx context.Context, c *session.ConversationContext) (string, error) {
	if c.User.PatientID != "" {
		return c.User.PatientID, nil
	}
	if c.User.Phone == "" {
		return "", apperr.NotFound("dialogue.patient", "I need your phone number first. Please message us by text to manage appointments.")
	}
	p, err := e.actions.FindOrCreatePatient(ctx, c.User.Phone, c.User.DisplayName)
	if err != nil {
		return "", err
	}
	c.User.PatientID = p.ID
	if c.User.DisplayName == "" {
		c.User.DisplayName = p.Name
	}
	return p.ID, nil
}

func (e *Engine) dentistName(ctx context.Context, id string) string {
	d, err := e.actions.Dentist(ctx, e.cfg.ClinicID, id)
	if err != nil {
		e.logger.Warn("dentist lookup failed", "dentist_id", id, "error", err)
		return "your dentist"
	}
	return d.Name
}

func (e *Engine) completeBooking(ctx context.Context, t *turn) (string, error) {
	c := t.c
	start, err := e.selectedStart(c)
	if err != nil {
		return "", err
	}
	patientID, err := e.patientID(ctx, c)
	if err != nil {
		return "", err
	}
	appt, err := e.actions.Create(ctx, booking.CreateRequest{
		PatientID: patientID,
		ClinicID:  e.cfg.ClinicID,
		DentistID: c.Entities.DentistID,
		Start:     start,
		Reason:    c.Entities.Description,
	})
	if err != nil {
		return "", err
	}

	dentist := e.dentistName(ctx, appt.DentistID)
	e.queueStatus(t, notify.EventAppointmentCreated, appt, dentist)
	c.ResetToMenu()

	text := fmt.Sprintf("You're booked with %s on %s.", dentist, whenLabel(appt.StartsAt.In(e.actions.Location())))
	if appt.Status == booking.StatusPending && appt.PaymentDueAt != nil {
		text += fmt.Sprintf(" Please pay the deposit by %s to confirm it.", whenLabel(appt.PaymentDueAt.In(e.actions.Location())))
	}
	return joinBlocks(text, mainMenuText), nil
}

func (e *Engine) listAppointments(ctx context.Context, t *turn) (string, error) {
	c := t.c
	patientID, err := e.patientID(ctx, c)
	if err != nil {
		return "", err
	}
	appts, err := e.actions.ListUpcoming(ctx, patientID)
	if err != nil {
		return "", err
	}
	c.ResetToMenu()
	if len(appts) == 0 {
		return joinBlocks("You have no upcoming appointments.", mainMenuText), nil
	}
	lines := make([]string, len(appts))
	for i := range appts {
		lines[i] = fmt.Sprintf("%d. %s", i+1, e.appointmentLabel(ctx, &appts[i]))
	}
	return joinBlocks("Your upcoming appointments:\n"+strings.Join(lines, "\n"), mainMenuText), nil
}

// startSelection lists upcoming appointments for a cancel or reschedule. A
// valid ordinal (from agent mode) selects directly.
func (e *Engine) startSelection(ctx context.Context, t *turn, action session.PendingAction, ordinal int) (string, error) {
	c := t.c
	patientID, err := e.patientID(ctx, c)
	if err != nil {
		return "", err
	}
	appts, err := e.actions.ListUpcoming(ctx, patientID)
	if err != nil {
		return "", err
	}
	if len(appts) == 0 {
		c.ResetToMenu()
		return joinBlocks(fmt.Sprintf("You have no upcoming appointments to %s.", action), mainMenuText), nil
	}
	ids := make([]string, len(appts))
	for i, a := range appts {
		ids[i] = a.ID
	}
	c.Entities = session.Entities{OfferedAppointments: ids, PendingAction: action}
	c.Step = session.StepSelectingAppointment
	if inRange(ordinal, len(ids)) {
		return e.selectAppointment(ctx, t, ids[ordinal-1])
	}
	return e.prompt(ctx, c), nil
}

func (e *Engine) selectAppointment(ctx context.Context, t *turn, id string) (string, error) {
	const op = "dialogue.select_appointment"
	c := t.c
	appt, err := e.actions.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !appt.Status.Active() {
		return "", apperr.Conflict(op, "That appointment can no longer be changed.", booking.ErrInvalidTransition)
	}
	c.Entities.AppointmentID = appt.ID
	when := whenLabel(appt.StartsAt.In(e.actions.Location()))

	if c.Entities.PendingAction == session.ActionCancel {
		c.Step = session.StepConfirmingCancellation
		return joinBlocks(fmt.Sprintf("Cancel your appointment on %s?", when), e.prompt(ctx, c)), nil
	}
	c.Entities.DentistID = appt.DentistID
	text, err := e.offerDates(ctx, t, session.StepReschedulingDate)
	if err != nil || c.Step != session.StepReschedulingDate {
		return text, err
	}
	return joinBlocks(fmt.Sprintf("Let's move your appointment on %s.", when), text), nil
}

func (e *Engine) confirmCancel(ctx context.Context, t *turn) (string, error) {
	c := t.c
	appt, err := e.actions.Cancel(ctx, c.Entities.AppointmentID, "cancelled by patient")
	if err != nil {
		return "", err
	}
	e.queueStatus(t, notify.EventAppointmentCancelled, appt, e.dentistName(ctx, appt.DentistID))
	c.ResetToMenu()
	return joinBlocks(fmt.Sprintf("Your appointment on %s has been cancelled.", whenLabel(appt.StartsAt.In(e.actions.Location()))), mainMenuText), nil
}

func (e *Engine) keepAppointment(t *turn) string {
	t.c.ResetToMenu()
	return joinBlocks("OK, your appointment is unchanged.", mainMenuText)
}

func (e *Engine) completeReschedule(ctx context.Context, t *turn) (string, error) {
	c := t.c
	start, err := e.selectedStart(c)
	if err != nil {
		return "", err
	}
	appt, err := e.actions.Reschedule(ctx, c.Entities.AppointmentID, start, c.Entities.DentistID)
	if err != nil {
		return "", err
	}
	dentist := e.dentistName(ctx, appt.DentistID)
	e.queueStatus(t, notify.EventAppointmentRescheduled, appt, dentist)
	c.ResetToMenu()
	return joinBlocks(fmt.Sprintf("Done! Your appointment is now on %s with %s.", whenLabel(appt.StartsAt.In(e.actions.Location())), dentist), mainMenuText), nil
}

func (e *Engine) acceptReassignment(ctx context.Context, t *turn) (string, error) {
	c := t.c
	c.Entities.DentistID = c.Entities.ReassignDentistID
	c.Entities.ReassignDentistID = ""
	return e.selectDate(ctx, t, c.Entities.SelectedDate)
}

func (e *Engine) declineReassignment(ctx context.Context, t *turn) string {
	c := t.c
	c.Entities.ReassignDentistID = ""
	c.Entities.SelectedDate = ""
	c.Step = session.StepSelectingDate
	return joinBlocks("No problem, let's pick another day.", e.prompt(ctx, c))
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
