package dialogue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/dental-booking-agent/internal/booking"
	"github.com/wolfman30/dental-booking-agent/internal/session"
)

const mainMenuText = "What would you like to do?\n" +
	"1. Book an appointment\n" +
	"2. My appointments\n" +
	"3. Reschedule an appointment\n" +
	"4. Cancel an appointment\n" +
	"Reply 0 or \"menu\" at any time to come back here."

const helpText = "I can book, show, move or cancel your dental appointments. " +
	"Reply with a number from the menu, or say \"switch mode\" to type requests in your own words."

func welcomeText(clinicName string, mode session.Mode) string {
	greeting := fmt.Sprintf("Welcome to %s!", clinicName)
	if mode == session.ModeAgent {
		greeting += " Tell me what you need, or pick a number."
	}
	return joinBlocks(greeting, mainMenuText)
}

// prompt is the question for the current step, shown on entry and on every re-prompt.
func (e *Engine) prompt(ctx context.Context, c *session.ConversationContext) string {
	loc := e.actions.Location()
	switch c.Step {
	case session.StepSelectingDate, session.StepReschedulingDate:
		lines := make([]string, len(c.Entities.OfferedDates))
		for i, d := range c.Entities.OfferedDates {
			label := d
			if day, err := time.ParseInLocation(dateLayout, d, loc); err == nil {
				label = dateLabel(day)
			}
			lines[i] = fmt.Sprintf("%d. %s", i+1, label)
		}
		return "Which day works for you?\n" + strings.Join(lines, "\n")

	case session.StepSelectingTime, session.StepReschedulingTime:
		header := "Available times:"
		if day, err := time.ParseInLocation(dateLayout, c.Entities.SelectedDate, loc); err == nil {
			header = fmt.Sprintf("Available times on %s:", dateLabel(day))
		}
		return header + "\n" + numbered(c.Entities.OfferedTimes)

	case session.StepAwaitingClientName:
		return "What name should I put the appointment under?"

	case session.StepAwaitingDescription:
		return "What is the reason for your visit? A few words is enough."

	case session.StepConfirmingCancellation:
		return "1. Yes, cancel it\n2. No, keep it"

	case session.StepConfirmingReassignment:
		return "1. Book with the other dentist\n2. Pick a different day"

	case session.StepSelectingAppointment:
		verb := "change"
		switch c.Entities.PendingAction {
		case session.ActionCancel:
			verb = "cancel"
		case session.ActionReschedule:
			verb = "reschedule"
		}
		lines := make([]string, len(c.Entities.OfferedAppointments))
		for i, id := range c.Entities.OfferedAppointments {
			label := "appointment"
			if appt, err := e.actions.Get(ctx, id); err == nil {
				label = e.appointmentLabel(ctx, appt)
			}
			lines[i] = fmt.Sprintf("%d. %s", i+1, label)
		}
		return fmt.Sprintf("Which appointment would you like to %s?\n%s", verb, strings.Join(lines, "\n"))

	default:
		return mainMenuText
	}
}

func (e *Engine) appointmentLabel(ctx context.Context, appt *booking.Appointment) string {
	label := fmt.Sprintf("%s with %s", whenLabel(appt.StartsAt.In(e.actions.Location())), e.dentistName(ctx, appt.DentistID))
	if appt.Status == booking.StatusPending {
		label += " (deposit pending)"
	}
	return label
}

func numbered(items []string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = fmt.Sprintf("%d. %s", i+1, item)
	}
	return strings.Join(lines, "\n")
}

func dateLabel(t time.Time) string { return t.Format("Mon Jan 2") }

func whenLabel(t time.Time) string { return t.Format("Mon Jan 2 at 15:04") }

func joinBlocks(blocks ...string) string {
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return strings.Join(out, "\n\n")
}
