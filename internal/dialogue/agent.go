package dialogue

import (
	"context"

	"github.com/wolfman30/dental-booking-agent/internal/intent"
	"github.com/wolfman30/dental-booking-agent/internal/session"
)

// interpret maps free text onto the same transitions the numbered menu uses.
func (e *Engine) interpret(ctx context.Context, t *turn, text string) (string, error) {
	c := t.c
	res := e.classifier.Classify(ctx, text, c.Step)
	e.metrics.ObserveIntent(string(res.Intent), string(res.Method))
	e.logger.Debug("intent classified", "session_id", c.SessionID, "intent", string(res.Intent), "confidence", res.Confidence, "method", string(res.Method))

	if res.Intent == intent.Unknown || res.Confidence < e.cfg.AgentThreshold {
		return joinBlocks("Sorry, I didn't catch that.", e.prompt(ctx, c)), nil
	}

	switch res.Intent {
	case intent.BookAppointment:
		reply, err := e.startBooking(ctx, t)
		if err != nil || c.Step != session.StepSelectingDate || res.Entities.Date == "" {
			return reply, err
		}
		if indexOf(c.Entities.OfferedDates, res.Entities.Date) >= 0 {
			return e.selectDate(ctx, t, res.Entities.Date)
		}
		return reply, nil

	case intent.ViewAppointments:
		return e.listAppointments(ctx, t)

	case intent.CancelAppointment:
		if c.Step == session.StepConfirmingCancellation {
			return e.confirmCancel(ctx, t)
		}
		return e.startSelection(ctx, t, session.ActionCancel, res.Entities.Ordinal)

	case intent.RescheduleAppointment:
		return e.startSelection(ctx, t, session.ActionReschedule, res.Entities.Ordinal)

	case intent.SelectDate:
		if c.Step != session.StepSelectingDate && c.Step != session.StepReschedulingDate {
			break
		}
		if i := indexOf(c.Entities.OfferedDates, res.Entities.Date); i >= 0 {
			return e.selectDate(ctx, t, c.Entities.OfferedDates[i])
		}
		if inRange(res.Entities.Ordinal, len(c.Entities.OfferedDates)) {
			return e.selectDate(ctx, t, c.Entities.OfferedDates[res.Entities.Ordinal-1])
		}
		return joinBlocks("That day isn't one of the options.", e.prompt(ctx, c)), nil

	case intent.SelectTime:
		if c.Step != session.StepSelectingTime && c.Step != session.StepReschedulingTime {
			break
		}
		if i := indexOf(c.Entities.OfferedTimes, res.Entities.Time); i >= 0 {
			return e.selectTime(ctx, t, c.Entities.OfferedTimes[i])
		}
		if inRange(res.Entities.Ordinal, len(c.Entities.OfferedTimes)) {
			return e.selectTime(ctx, t, c.Entities.OfferedTimes[res.Entities.Ordinal-1])
		}
		return joinBlocks("That time isn't available.", e.prompt(ctx, c)), nil

	case intent.Confirm:
		switch c.Step {
		case session.StepConfirmingCancellation:
			return e.confirmCancel(ctx, t)
		case session.StepConfirmingReassignment:
			return e.acceptReassignment(ctx, t)
		}

	case intent.Deny:
		switch c.Step {
		case session.StepConfirmingCancellation:
			return e.keepAppointment(t), nil
		case session.StepConfirmingReassignment:
			return e.declineReassignment(ctx, t), nil
		}
		c.ResetToMenu()
		return joinBlocks("No problem.", mainMenuText), nil

	case intent.Greeting:
		return joinBlocks("Hello!", e.prompt(ctx, c)), nil

	case intent.Help:
		return joinBlocks(helpText, e.prompt(ctx, c)), nil
	}

	return joinBlocks("Let's finish this step first.", e.prompt(ctx, c)), nil
}

func indexOf(items []string, v string) int {
	if v == "" {
		return -1
	}
	for i, item := range items {
		if item == v {
			return i
		}
	}
	return -1
}
