package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var appointmentCols = []string{"id", "patient_id", "clinic_id", "dentist_id", "starts_at", "ends_at", "status", "reason", "cancel_reason", "payment_due_at", "version", "created_at", "updated_at"}

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PostgresRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock, NewPostgresRepository(mock)
}

func TestPostgresCreateAppointment(t *testing.T) {
	mock, repo := newMockRepo(t)
	start := time.Date(2025, 1, 24, 10, 0, 0, 0, time.UTC)
	appt := &Appointment{PatientID: "p-1", ClinicID: "c-1", DentistID: "d-1", StartsAt: start, EndsAt: start.Add(30 * time.Minute), Status: StatusConfirmed}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), "p-1", "c-1", "d-1", start, start.Add(30*time.Minute), "confirmed", "", "", pgxmock.AnyArg(), 1, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO patient_appointments").
		WithArgs("p-1", pgxmock.AnyArg(), start, "confirmed").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	if err := repo.CreateAppointment(context.Background(), appt); err != nil {
		t.Fatalf("create: %v", err)
	}
	if appt.ID == "" || appt.Version != 1 {
		t.Fatalf("expected id and version 1, got %q %d", appt.ID, appt.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresCreateAppointmentOverlapIsSlotTaken(t *testing.T) {
	mock, repo := newMockRepo(t)
	start := time.Date(2025, 1, 24, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(anyArgs(13)...).
		WillReturnError(&pgconn.PgError{Code: pgExclusionViolation, ConstraintName: "appointments_no_overlap"})
	mock.ExpectRollback()

	err := repo.CreateAppointment(context.Background(), &Appointment{PatientID: "p", DentistID: "d", StartsAt: start, EndsAt: start.Add(time.Hour), Status: StatusConfirmed})
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresUpdateAppointmentStaleVersion(t *testing.T) {
	mock, repo := newMockRepo(t)
	appt := &Appointment{ID: "a-1", DentistID: "d-1", Status: StatusConfirmed, Version: 3}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE appointments").
		WithArgs("a-1", 3, "d-1", pgxmock.AnyArg(), pgxmock.AnyArg(), "confirmed", "", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	if err := repo.UpdateAppointment(context.Background(), appt); !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("expected ErrStaleVersion, got %v", err)
	}
	if appt.Version != 3 {
		t.Fatalf("version must not change on failure, got %d", appt.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresUpdateAppointmentSyncsIndex(t *testing.T) {
	mock, repo := newMockRepo(t)
	start := time.Date(2025, 1, 25, 9, 0, 0, 0, time.UTC)
	appt := &Appointment{ID: "a-1", DentistID: "d-1", StartsAt: start, EndsAt: start.Add(30 * time.Minute), Status: StatusConfirmed, Version: 1}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE appointments").WithArgs(anyArgs(10)...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE patient_appointments").WithArgs("a-1", start, "confirmed").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	if err := repo.UpdateAppointment(context.Background(), appt); err != nil {
		t.Fatalf("update: %v", err)
	}
	if appt.Version != 2 {
		t.Fatalf("expected version 2, got %d", appt.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresCancelAppointment(t *testing.T) {
	mock, repo := newMockRepo(t)
	start := time.Date(2025, 1, 24, 10, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments").
		WithArgs("a-1", "sick", now).
		WillReturnRows(pgxmock.NewRows(appointmentCols).
			AddRow("a-1", "p-1", "c-1", "d-1", start, start.Add(30*time.Minute), "cancelled", "", "sick", nil, 2, now, now))
	mock.ExpectExec("UPDATE patient_appointments").WithArgs("a-1", start, "cancelled").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	appt, err := repo.CancelAppointment(context.Background(), "a-1", "sick", now)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if appt.Status != StatusCancelled || appt.CancelReason != "sick" || appt.PaymentDueAt != nil {
		t.Fatalf("unexpected appointment %+v", appt)
	}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE appointments").WithArgs("a-1", "", now).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()
	if _, err := repo.CancelAppointment(context.Background(), "a-1", "", now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresGetAppointmentNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectQuery("SELECT id, patient_id").WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	if _, err := repo.GetAppointment(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresListWorkingHours(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectQuery("SELECT clinic_id, weekday").
		WithArgs("c-1", int16(time.Friday)).
		WillReturnRows(pgxmock.NewRows([]string{"clinic_id", "weekday", "open_time", "close_time", "active"}).
			AddRow("c-1", int16(5), "09:00", "17:00", true))

	hours, err := repo.ListWorkingHours(context.Background(), "c-1", time.Friday)
	if err != nil {
		t.Fatalf("list hours: %v", err)
	}
	if len(hours) != 1 || hours[0].Weekday != time.Friday || hours[0].Open != "09:00" {
		t.Fatalf("unexpected hours %+v", hours)
	}
}

func TestPostgresListAppointmentsInWindowBuildsFilters(t *testing.T) {
	mock, repo := newMockRepo(t)
	from := time.Date(2025, 1, 21, 8, 0, 0, 0, time.UTC)
	to := from.Add(2 * time.Hour)
	start := from.Add(time.Hour)

	mock.ExpectQuery("FROM appointments WHERE payment_due_at >= \\$1 AND payment_due_at < \\$2 AND clinic_id = \\$3 AND status = ANY\\(\\$4\\)").
		WithArgs(from, to, "c-1", []string{"pending"}).
		WillReturnRows(pgxmock.NewRows(appointmentCols).
			AddRow("a-1", "p-1", "c-1", "d-1", start, start.Add(30*time.Minute), "pending", "", "", &start, 1, from, from))

	out, err := repo.ListAppointmentsInWindow(context.Background(), WindowQuery{
		ClinicID: "c-1", Field: ByPaymentDue, From: from, To: to, Statuses: []Status{StatusPending},
	})
	if err != nil {
		t.Fatalf("list window: %v", err)
	}
	if len(out) != 1 || out[0].PaymentDueAt == nil || !out[0].PaymentDueAt.Equal(start) {
		t.Fatalf("unexpected rows %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
