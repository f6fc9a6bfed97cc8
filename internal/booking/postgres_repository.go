package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var pgTracer = otel.Tracer("dental.internal.booking.postgres")

// pgExclusionViolation is raised by the appointments_no_overlap constraint.
const pgExclusionViolation = "23P01"

// DB is the subset of pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository persists appointments in Postgres. Double bookings are
// rejected by an exclusion constraint over (dentist_id, tstzrange) for active
// rows, so the availability read and the insert do not need a shared lock.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository wraps a pool.
func NewPostgresRepository(db DB) *PostgresRepository {
	if db == nil {
		panic("booking: db required")
	}
	return &PostgresRepository{db: db}
}

var _ Repository = (*PostgresRepository)(nil)

const appointmentColumns = `id, patient_id, clinic_id, dentist_id, starts_at, ends_at, status, reason, cancel_reason, payment_due_at, version, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	if err := row.Scan(&a.ID, &a.PatientID, &a.ClinicID, &a.DentistID, &a.StartsAt, &a.EndsAt, &status,
		&a.Reason, &a.CancelReason, &a.PaymentDueAt, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = Status(status)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()
	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) FindPatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	return r.getPatient(ctx, `SELECT id, phone, name, history_complete, created_at FROM patients WHERE phone = $1`, phone)
}

func (r *PostgresRepository) GetPatient(ctx context.Context, id string) (*Patient, error) {
	return r.getPatient(ctx, `SELECT id, phone, name, history_complete, created_at FROM patients WHERE id = $1`, id)
}

func (r *PostgresRepository) getPatient(ctx context.Context, query, arg string) (*Patient, error) {
	var p Patient
	err := r.db.QueryRow(ctx, query, arg).Scan(&p.ID, &p.Phone, &p.Name, &p.HistoryComplete, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("booking: load patient: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) CreatePatient(ctx context.Context, p *Patient) error {
	if p == nil {
		return fmt.Errorf("booking: patient required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO patients (id, phone, name, history_complete, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.Phone, p.Name, p.HistoryComplete, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("booking: insert patient: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListAppointments(ctx context.Context, patientID string) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.patient_id, a.clinic_id, a.dentist_id, a.starts_at, a.ends_at, a.status, a.reason,
		       a.cancel_reason, a.payment_due_at, a.version, a.created_at, a.updated_at
		FROM patient_appointments pa
		JOIN appointments a ON a.id = pa.appointment_id
		WHERE pa.patient_id = $1
		ORDER BY pa.starts_at
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("booking: list appointments: %w", err)
	}
	out, err := collectAppointments(rows)
	if err != nil {
		return nil, fmt.Errorf("booking: scan appointments: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	a, err := scanAppointment(r.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("booking: get appointment: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) CreateAppointment(ctx context.Context, a *Appointment) (err error) {
	if a == nil {
		return fmt.Errorf("booking: appointment required")
	}
	ctx, span := pgTracer.Start(ctx, "booking.pg.create_appointment")
	defer span.End()
	span.SetAttributes(attribute.String("dental.dentist_id", a.DentistID))

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	a.Version = 1

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("booking: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, a.ID, a.PatientID, a.ClinicID, a.DentistID, a.StartsAt, a.EndsAt, string(a.Status), a.Reason,
		a.CancelReason, a.PaymentDueAt, a.Version, a.CreatedAt, a.UpdatedAt); err != nil {
		err = mapWriteError("insert appointment", err)
		span.RecordError(err)
		return err
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO patient_appointments (patient_id, appointment_id, starts_at, status)
		VALUES ($1, $2, $3, $4)
	`, a.PatientID, a.ID, a.StartsAt, string(a.Status)); err != nil {
		return fmt.Errorf("booking: insert patient index: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return mapWriteError("commit appointment", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateAppointment(ctx context.Context, a *Appointment) (err error) {
	if a == nil {
		return fmt.Errorf("booking: appointment required")
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("booking: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET dentist_id = $3, starts_at = $4, ends_at = $5, status = $6, reason = $7, cancel_reason = $8,
		    payment_due_at = $9, version = version + 1, updated_at = $10
		WHERE id = $1 AND version = $2
	`, a.ID, a.Version, a.DentistID, a.StartsAt, a.EndsAt, string(a.Status), a.Reason, a.CancelReason, a.PaymentDueAt, now)
	if err != nil {
		return mapWriteError("update appointment", err)
	}
	if tag.RowsAffected() == 0 {
		err = ErrStaleVersion
		return err
	}
	if err = syncIndex(ctx, tx, a.ID, a.StartsAt, a.Status); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return mapWriteError("commit update", err)
	}
	a.Version++
	a.UpdatedAt = now
	return nil
}

func (r *PostgresRepository) CancelAppointment(ctx context.Context, id, reason string, at time.Time) (out *Appointment, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("booking: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	out, err = scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled', cancel_reason = $2, version = version + 1, updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'confirmed')
		RETURNING `+appointmentColumns, id, reason, at.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		err = ErrInvalidTransition
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("booking: cancel appointment: %w", err)
	}
	if err = syncIndex(ctx, tx, out.ID, out.StartsAt, out.Status); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("booking: commit cancel: %w", err)
	}
	return out, nil
}

func syncIndex(ctx context.Context, tx pgx.Tx, appointmentID string, startsAt time.Time, status Status) error {
	if _, err := tx.Exec(ctx, `
		UPDATE patient_appointments SET starts_at = $2, status = $3 WHERE appointment_id = $1
	`, appointmentID, startsAt, string(status)); err != nil {
		return fmt.Errorf("booking: sync patient index: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListWorkingHours(ctx context.Context, clinicID string, weekday time.Weekday) ([]WorkingHours, error) {
	rows, err := r.db.Query(ctx, `
		SELECT clinic_id, weekday, open_time, close_time, active
		FROM working_hours
		WHERE clinic_id = $1 AND weekday = $2
	`, clinicID, int16(weekday))
	if err != nil {
		return nil, fmt.Errorf("booking: list working hours: %w", err)
	}
	defer rows.Close()
	var out []WorkingHours
	for rows.Next() {
		var h WorkingHours
		var wd int16
		if err := rows.Scan(&h.ClinicID, &wd, &h.Open, &h.Close, &h.Active); err != nil {
			return nil, fmt.Errorf("booking: scan working hours: %w", err)
		}
		h.Weekday = time.Weekday(wd)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListAppointmentsInWindow(ctx context.Context, q WindowQuery) ([]Appointment, error) {
	column := string(q.field())
	var (
		where = []string{column + " >= $1", column + " < $2"}
		args  = []any{q.From, q.To}
	)
	if q.ClinicID != "" {
		args = append(args, q.ClinicID)
		where = append(where, fmt.Sprintf("clinic_id = $%d", len(args)))
	}
	if q.DentistID != "" {
		args = append(args, q.DentistID)
		where = append(where, fmt.Sprintf("dentist_id = $%d", len(args)))
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	rows, err := r.db.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE `+strings.Join(where, " AND ")+` ORDER BY starts_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("booking: list window: %w", err)
	}
	out, err := collectAppointments(rows)
	if err != nil {
		return nil, fmt.Errorf("booking: scan window: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) ListDentists(ctx context.Context, clinicID string) ([]Dentist, error) {
	rows, err := r.db.Query(ctx, `SELECT id, clinic_id, name, active FROM dentists WHERE clinic_id = $1 ORDER BY id`, clinicID)
	if err != nil {
		return nil, fmt.Errorf("booking: list dentists: %w", err)
	}
	defer rows.Close()
	var out []Dentist
	for rows.Next() {
		var d Dentist
		if err := rows.Scan(&d.ID, &d.ClinicID, &d.Name, &d.Active); err != nil {
			return nil, fmt.Errorf("booking: scan dentist: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func mapWriteError(action string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
		return ErrSlotTaken
	}
	return fmt.Errorf("booking: %s: %w", action, err)
}
