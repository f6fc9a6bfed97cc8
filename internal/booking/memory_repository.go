package booking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type indexEntry struct {
	AppointmentID string
	StartsAt      time.Time
	Status        Status
}

// MemoryRepository is an in-process Repository for development and tests.
// The overlap rule is enforced under the same mutex as the write.
type MemoryRepository struct {
	mu           sync.RWMutex
	patients     map[string]*Patient
	byPhone      map[string]string
	appointments map[string]*Appointment
	byPatient    map[string][]indexEntry
	hours        map[string][]WorkingHours
	dentists     map[string][]Dentist
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:     make(map[string]*Patient),
		byPhone:      make(map[string]string),
		appointments: make(map[string]*Appointment),
		byPatient:    make(map[string][]indexEntry),
		hours:        make(map[string][]WorkingHours),
		dentists:     make(map[string][]Dentist),
	}
}

var _ Repository = (*MemoryRepository)(nil)

// SetWorkingHours replaces the clinic's weekly schedule.
func (r *MemoryRepository) SetWorkingHours(clinicID string, hours ...WorkingHours) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]WorkingHours, 0, len(hours))
	for _, h := range hours {
		h.ClinicID = clinicID
		out = append(out, h)
	}
	r.hours[clinicID] = out
}

// AddDentist registers a dentist for the clinic.
func (r *MemoryRepository) AddDentist(d Dentist) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dentists[d.ClinicID] = append(r.dentists[d.ClinicID], d)
}

// SeedDefaults installs a Monday to Saturday 09:00-17:00 schedule and two dentists.
func (r *MemoryRepository) SeedDefaults(clinicID, primaryDentistID string, closed time.Weekday) {
	var hours []WorkingHours
	for d := time.Sunday; d <= time.Saturday; d++ {
		if d == closed {
			continue
		}
		hours = append(hours, WorkingHours{Weekday: d, Open: "09:00", Close: "17:00", Active: true})
	}
	r.SetWorkingHours(clinicID, hours...)
	r.AddDentist(Dentist{ID: primaryDentistID, ClinicID: clinicID, Name: "Dr. Rivera", Active: true})
	r.AddDentist(Dentist{ID: primaryDentistID + "-b", ClinicID: clinicID, Name: "Dr. Okafor", Active: true})
}

func (r *MemoryRepository) FindPatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPhone[strings.TrimSpace(phone)]
	if !ok {
		return nil, ErrNotFound
	}
	p := *r.patients[id]
	return &p, nil
}

func (r *MemoryRepository) GetPatient(ctx context.Context, id string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) CreatePatient(ctx context.Context, p *Patient) error {
	if p == nil {
		return fmt.Errorf("booking: patient required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Phone != "" {
		if _, exists := r.byPhone[p.Phone]; exists {
			return fmt.Errorf("booking: patient with phone %s already exists", p.Phone)
		}
		r.byPhone[p.Phone] = p.ID
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cp := *p
	r.patients[p.ID] = &cp
	return nil
}

// SetHistoryComplete flips the patient's medical-history flag.
func (r *MemoryRepository) SetHistoryComplete(patientID string, complete bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.patients[patientID]; ok {
		p.HistoryComplete = complete
	}
}

func (r *MemoryRepository) ListAppointments(ctx context.Context, patientID string) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.byPatient[patientID]
	out := make([]Appointment, 0, len(entries))
	for _, e := range entries {
		if a, ok := r.appointments[e.AppointmentID]; ok {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (r *MemoryRepository) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a == nil {
		return fmt.Errorf("booking: appointment required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status.Active() && r.overlapsLocked(a) {
		return ErrSlotTaken
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	a.Version = 1
	cp := *a
	r.appointments[a.ID] = &cp
	r.byPatient[a.PatientID] = append(r.byPatient[a.PatientID], indexEntry{AppointmentID: a.ID, StartsAt: a.StartsAt, Status: a.Status})
	return nil
}

func (r *MemoryRepository) UpdateAppointment(ctx context.Context, a *Appointment) error {
	if a == nil {
		return fmt.Errorf("booking: appointment required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.appointments[a.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != a.Version {
		return ErrStaleVersion
	}
	if a.Status.Active() && r.overlapsLocked(a) {
		return ErrSlotTaken
	}
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	r.appointments[a.ID] = &cp
	r.syncIndexLocked(&cp)
	return nil
}

func (r *MemoryRepository) CancelAppointment(ctx context.Context, id, reason string, at time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !a.Status.Active() {
		return nil, ErrInvalidTransition
	}
	a.Status = StatusCancelled
	a.CancelReason = reason
	a.Version++
	a.UpdatedAt = at.UTC()
	r.syncIndexLocked(a)
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) ListWorkingHours(ctx context.Context, clinicID string, weekday time.Weekday) ([]WorkingHours, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []WorkingHours
	for _, h := range r.hours[clinicID] {
		if h.Weekday == weekday {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListAppointmentsInWindow(ctx context.Context, q WindowQuery) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Appointment
	for _, a := range r.appointments {
		if q.matches(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (r *MemoryRepository) ListDentists(ctx context.Context, clinicID string) ([]Dentist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Dentist, len(r.dentists[clinicID]))
	copy(out, r.dentists[clinicID])
	return out, nil
}

func (r *MemoryRepository) overlapsLocked(a *Appointment) bool {
	for id, other := range r.appointments {
		if id == a.ID || other.DentistID != a.DentistID || !other.Status.Active() {
			continue
		}
		if a.StartsAt.Before(other.EndsAt) && a.EndsAt.After(other.StartsAt) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) syncIndexLocked(a *Appointment) {
	entries := r.byPatient[a.PatientID]
	for i := range entries {
		if entries[i].AppointmentID == a.ID {
			entries[i].StartsAt = a.StartsAt
			entries[i].Status = a.Status
		}
	}
}

// IndexStatus returns the status recorded in the patient index, for consistency checks.
func (r *MemoryRepository) IndexStatus(patientID, appointmentID string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.byPatient[patientID] {
		if e.AppointmentID == appointmentID {
			return e.Status, true
		}
	}
	return "", false
}
