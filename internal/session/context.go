// Package session holds per-session dialogue state and serializes access to it.
package session

import (
	"strings"
	"time"
)

// Step is the discrete state of a session's dialogue.
type Step string

const (
	StepInitial                Step = "initial"
	StepMainMenu               Step = "main_menu"
	StepSelectingDate          Step = "selecting_date"
	StepSelectingTime          Step = "selecting_time"
	StepAwaitingClientName     Step = "awaiting_client_name"
	StepAwaitingDescription    Step = "awaiting_description"
	StepConfirmingCancellation Step = "confirming_cancellation"
	StepReschedulingDate       Step = "rescheduling_date"
	StepReschedulingTime       Step = "rescheduling_time"
	StepConfirmingReassignment Step = "confirming_reassignment"
	StepSelectingAppointment   Step = "selecting_appointment"
)

var allSteps = []Step{
	StepInitial,
	StepMainMenu,
	StepSelectingDate,
	StepSelectingTime,
	StepAwaitingClientName,
	StepAwaitingDescription,
	StepConfirmingCancellation,
	StepReschedulingDate,
	StepReschedulingTime,
	StepConfirmingReassignment,
	StepSelectingAppointment,
}

// Valid reports whether s is a declared step.
func (s Step) Valid() bool {
	for _, step := range allSteps {
		if s == step {
			return true
		}
	}
	return false
}

// Mode selects how non-numeric input is interpreted.
type Mode string

const (
	ModeMenu  Mode = "menu"
	ModeAgent Mode = "agent"
)

// ParseMode maps free-form values onto a Mode, defaulting to menu.
func ParseMode(raw string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeAgent:
		return ModeAgent
	default:
		return ModeMenu
	}
}

// Toggle returns the other mode.
func (m Mode) Toggle() Mode {
	if m == ModeAgent {
		return ModeMenu
	}
	return ModeAgent
}

// PendingAction records why an existing appointment was selected.
type PendingAction string

const (
	ActionNone       PendingAction = ""
	ActionReschedule PendingAction = "reschedule"
	ActionCancel     PendingAction = "cancel"
)

// Entities are the typed working values of a dialogue.
// Dates use 2006-01-02 and times 15:04 in the clinic's location.
type Entities struct {
	OfferedDates        []string      `json:"offered_dates,omitempty"`
	OfferedTimes        []string      `json:"offered_times,omitempty"`
	OfferedAppointments []string      `json:"offered_appointments,omitempty"`
	SelectedDate        string        `json:"selected_date,omitempty"`
	SelectedTime        string        `json:"selected_time,omitempty"`
	AppointmentID       string        `json:"appointment_id,omitempty"`
	PendingAction       PendingAction `json:"pending_action,omitempty"`
	DentistID           string        `json:"dentist_id,omitempty"`
	ReassignDentistID   string        `json:"reassign_dentist_id,omitempty"`
	ClientName          string        `json:"client_name,omitempty"`
	Description         string        `json:"description,omitempty"`
}

// UserRef identifies the patient behind a session, when known.
type UserRef struct {
	PatientID   string `json:"patient_id,omitempty"`
	Phone       string `json:"phone,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Turn is one entry of the bounded history.
type Turn struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxHistory is the number of turns retained per session.
const MaxHistory = 10

// ConversationContext is the state of one session.
type ConversationContext struct {
	SessionID string    `json:"session_id"`
	Step      Step      `json:"step"`
	Mode      Mode      `json:"mode"`
	Entities  Entities  `json:"entities"`
	User      UserRef   `json:"user"`
	History   []Turn    `json:"history,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a context in the initial step.
func New(sessionID string, mode Mode, now time.Time) *ConversationContext {
	if mode == "" {
		mode = ModeMenu
	}
	return &ConversationContext{
		SessionID: sessionID,
		Step:      StepInitial,
		Mode:      mode,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddTurn appends to the history, evicting the oldest entries beyond MaxHistory.
func (c *ConversationContext) AddTurn(role, text string, at time.Time) {
	c.History = append(c.History, Turn{Role: role, Text: text, At: at})
	if over := len(c.History) - MaxHistory; over > 0 {
		c.History = append([]Turn(nil), c.History[over:]...)
	}
}

// ResetToMenu drops all working entities and returns to the main menu.
func (c *ConversationContext) ResetToMenu() {
	c.Step = StepMainMenu
	c.Entities = Entities{}
}

// Consistent reports whether the entities required by the current step are present.
func (c *ConversationContext) Consistent() bool {
	e := c.Entities
	switch c.Step {
	case StepInitial, StepMainMenu:
		return true
	case StepSelectingDate:
		return len(e.OfferedDates) > 0
	case StepSelectingTime:
		return e.SelectedDate != "" && len(e.OfferedTimes) > 0
	case StepAwaitingClientName, StepAwaitingDescription:
		return e.SelectedDate != "" && e.SelectedTime != ""
	case StepConfirmingCancellation:
		return e.AppointmentID != ""
	case StepReschedulingDate:
		return e.AppointmentID != "" && len(e.OfferedDates) > 0
	case StepReschedulingTime:
		return e.AppointmentID != "" && e.SelectedDate != "" && len(e.OfferedTimes) > 0
	case StepConfirmingReassignment:
		return e.SelectedDate != "" && e.ReassignDentistID != ""
	case StepSelectingAppointment:
		return len(e.OfferedAppointments) > 0 && e.PendingAction != ActionNone
	default:
		return false
	}
}

// Clone returns a deep copy.
func (c *ConversationContext) Clone() *ConversationContext {
	if c == nil {
		return nil
	}
	out := *c
	out.Entities.OfferedDates = append([]string(nil), c.Entities.OfferedDates...)
	out.Entities.OfferedTimes = append([]string(nil), c.Entities.OfferedTimes...)
	out.Entities.OfferedAppointments = append([]string(nil), c.Entities.OfferedAppointments...)
	out.History = append([]Turn(nil), c.History...)
	return &out
}
