// Package booking holds the appointment domain: slot discovery and the
// create/reschedule/cancel mutations against an appointment repository.
package booking

import (
	"errors"
	"time"
)

// Status is the lifecycle state of an appointment. Appointments are never
// deleted; they only move between statuses.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Active reports whether the appointment still holds its slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

var (
	ErrNotFound          = errors.New("booking: not found")
	ErrSlotTaken         = errors.New("booking: slot already taken")
	ErrStaleVersion      = errors.New("booking: appointment changed concurrently")
	ErrInvalidTransition = errors.New("booking: invalid status transition")
)

// Appointment is the primary record.
type Appointment struct {
	ID           string     `json:"id"`
	PatientID    string     `json:"patient_id"`
	ClinicID     string     `json:"clinic_id"`
	DentistID    string     `json:"dentist_id"`
	StartsAt     time.Time  `json:"starts_at"`
	EndsAt       time.Time  `json:"ends_at"`
	Status       Status     `json:"status"`
	Reason       string     `json:"reason,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	PaymentDueAt *time.Time `json:"payment_due_at,omitempty"`
	Version      int        `json:"version"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Patient is the person booking.
type Patient struct {
	ID              string    `json:"id"`
	Phone           string    `json:"phone"`
	Name            string    `json:"name"`
	HistoryComplete bool      `json:"history_complete"`
	CreatedAt       time.Time `json:"created_at"`
}

type Dentist struct {
	ID       string `json:"id"`
	ClinicID string `json:"clinic_id"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
}

// WorkingHours is the clinic's opening window for one weekday. Open and
// Close use the "15:04" layout in the clinic's time zone.
type WorkingHours struct {
	ClinicID string       `json:"clinic_id"`
	Weekday  time.Weekday `json:"weekday"`
	Open     string       `json:"open"`
	Close    string       `json:"close"`
	Active   bool         `json:"active"`
}

// Slot is a derived candidate opening. It is never persisted.
type Slot struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the slot intersects [start, end).
func (s Slot) Overlaps(start, end time.Time) bool {
	return s.Start.Before(end) && s.End.After(start)
}

// WindowField selects which timestamp ListAppointmentsInWindow filters on.
type WindowField string

const (
	ByStart      WindowField = "starts_at"
	ByEnd        WindowField = "ends_at"
	ByPaymentDue WindowField = "payment_due_at"
)

// WindowQuery selects appointments whose Field falls in [From, To).
// Empty ClinicID/DentistID/Statuses mean "any".
type WindowQuery struct {
	ClinicID  string
	DentistID string
	Field     WindowField
	From      time.Time
	To        time.Time
	Statuses  []Status
}

func (q WindowQuery) field() WindowField {
	if q.Field == "" {
		return ByStart
	}
	return q.Field
}

func (q WindowQuery) matches(a *Appointment) bool {
	if q.ClinicID != "" && a.ClinicID != q.ClinicID {
		return false
	}
	if q.DentistID != "" && a.DentistID != q.DentistID {
		return false
	}
	if len(q.Statuses) > 0 {
		ok := false
		for _, s := range q.Statuses {
			if a.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	var ts time.Time
	switch q.field() {
	case ByEnd:
		ts = a.EndsAt
	case ByPaymentDue:
		if a.PaymentDueAt == nil {
			return false
		}
		ts = *a.PaymentDueAt
	default:
		ts = a.StartsAt
	}
	return !ts.Before(q.From) && ts.Before(q.To)
}
