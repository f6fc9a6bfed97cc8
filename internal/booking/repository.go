package booking

import (
	"context"
	"time"
)

// Repository is the appointment store. Each mutation updates the appointment
// row and its patient index entry together.
type Repository interface {
	FindPatientByPhone(ctx context.Context, phone string) (*Patient, error)
	GetPatient(ctx context.Context, id string) (*Patient, error)
	CreatePatient(ctx context.Context, p *Patient) error

	// ListAppointments reads the patient index, soonest first.
	ListAppointments(ctx context.Context, patientID string) ([]Appointment, error)
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
	// CreateAppointment fails with ErrSlotTaken when an active appointment
	// for the same dentist overlaps.
	CreateAppointment(ctx context.Context, a *Appointment) error
	// UpdateAppointment writes a if its Version still matches the stored one
	// (ErrStaleVersion otherwise) and bumps a.Version.
	UpdateAppointment(ctx context.Context, a *Appointment) error
	CancelAppointment(ctx context.Context, id, reason string, at time.Time) (*Appointment, error)

	ListWorkingHours(ctx context.Context, clinicID string, weekday time.Weekday) ([]WorkingHours, error)
	ListAppointmentsInWindow(ctx context.Context, q WindowQuery) ([]Appointment, error)
	ListDentists(ctx context.Context, clinicID string) ([]Dentist, error)
}
