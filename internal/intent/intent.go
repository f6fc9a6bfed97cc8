// Package intent turns free-text chat input into one of a fixed set of
// booking intents, with the entities (date, time, ordinal, reason) it carries.
package intent

import "strings"

// Intent is one of the declared actionable or conversational intents.
type Intent string

const (
	BookAppointment       Intent = "book_appointment"
	ViewAppointments      Intent = "view_appointments"
	CancelAppointment     Intent = "cancel_appointment"
	RescheduleAppointment Intent = "reschedule_appointment"
	SelectDate            Intent = "select_date"
	SelectTime            Intent = "select_time"
	Confirm               Intent = "confirm"
	Deny                  Intent = "deny"
	Greeting              Intent = "greeting"
	Help                  Intent = "help"
	Unknown               Intent = "unknown"
)

// Declared lists every intent the classifier may return.
var Declared = []Intent{
	BookAppointment,
	ViewAppointments,
	CancelAppointment,
	RescheduleAppointment,
	SelectDate,
	SelectTime,
	Confirm,
	Deny,
	Greeting,
	Help,
	Unknown,
}

// Parse maps a raw label (e.g. from a model) onto a declared intent.
func Parse(raw string) (Intent, bool) {
	label := strings.ToLower(strings.TrimSpace(raw))
	label = strings.Trim(label, " \t\r\n\"'`.,;:!")
	for _, in := range Declared {
		if string(in) == label {
			return in, true
		}
	}
	return "", false
}

// Method records which pass produced a Result.
type Method string

const (
	MethodKeyword  Method = "keyword"
	MethodStep     Method = "step"
	MethodExternal Method = "external"
	MethodDefault  Method = "default"
)

// Result is the classifier output for one message.
type Result struct {
	Intent     Intent
	Confidence float64
	Method     Method
	Entities   Entities
}
