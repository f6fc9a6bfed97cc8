package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-booking-agent/internal/apperr"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// Monday 2025-01-20 09:00 UTC.
var testNow = time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)

const (
	clinic  = "clinic-1"
	dentist = "dentist-1"
)

func newTestActions(t *testing.T, settings Settings) (*Actions, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	repo.SeedDefaults(clinic, dentist, time.Sunday)
	a := NewActions(repo, settings, logging.Discard()).WithClock(func() time.Time { return testNow })
	return a, repo
}

func at(day, hour, minute int) time.Time {
	return time.Date(2025, 1, day, hour, minute, 0, 0, time.UTC)
}

func slotLabels(slots []Slot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Start.Format("15:04")
	}
	return out
}

func TestAvailableTimesExcludesOverlaps(t *testing.T) {
	a, repo := newTestActions(t, Settings{})
	require.NoError(t, repo.CreateAppointment(context.Background(), &Appointment{
		PatientID: "p-1", ClinicID: clinic, DentistID: dentist,
		StartsAt: at(24, 10, 0), EndsAt: at(24, 10, 30), Status: StatusConfirmed,
	}))

	slots, err := a.AvailableTimes(context.Background(), dentist, clinic, at(24, 0, 0))
	require.NoError(t, err)
	labels := slotLabels(slots)

	assert.Contains(t, labels, "09:30")
	assert.Contains(t, labels, "10:30")
	assert.Contains(t, labels, "11:00")
	assert.NotContains(t, labels, "10:00")
	assert.NotContains(t, labels, "09:45")
	assert.NotContains(t, labels, "10:15")
	assert.Equal(t, "09:00", labels[0])
	assert.Equal(t, "16:30", labels[len(labels)-1])
	assert.Len(t, labels, 15)

	for i := 1; i < len(slots); i++ {
		assert.Equal(t, 30*time.Minute, slots[i].Start.Sub(slots[i-1].Start))
		assert.Equal(t, 30*time.Minute, slots[i].End.Sub(slots[i].Start))
	}
}

func TestAvailableTimesIgnoresOtherDentistsAndCancelled(t *testing.T) {
	a, repo := newTestActions(t, Settings{})
	ctx := context.Background()
	require.NoError(t, repo.CreateAppointment(ctx, &Appointment{
		PatientID: "p-1", ClinicID: clinic, DentistID: "dentist-1-b",
		StartsAt: at(24, 9, 0), EndsAt: at(24, 9, 30), Status: StatusConfirmed,
	}))
	appt := &Appointment{PatientID: "p-1", ClinicID: clinic, DentistID: dentist, StartsAt: at(24, 9, 30), EndsAt: at(24, 10, 0), Status: StatusConfirmed}
	require.NoError(t, repo.CreateAppointment(ctx, appt))
	_, err := repo.CancelAppointment(ctx, appt.ID, "", testNow)
	require.NoError(t, err)

	slots, err := a.AvailableTimes(ctx, dentist, clinic, at(24, 0, 0))
	require.NoError(t, err)
	assert.Len(t, slots, 16)
}

func TestAvailableTimesSkipsPastSlots(t *testing.T) {
	a, _ := newTestActions(t, Settings{})
	a.WithClock(func() time.Time { return at(20, 15, 10) })
	slots, err := a.AvailableTimes(context.Background(), dentist, clinic, at(20, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"15:30", "16:00", "16:30"}, slotLabels(slots))
}

func TestAvailableTimesWithoutScheduleIsEmpty(t *testing.T) {
	a, _ := newTestActions(t, Settings{})
	slots, err := a.AvailableTimes(context.Background(), dentist, clinic, at(26, 0, 0)) // Sunday
	require.NoError(t, err)
	assert.Empty(t, slots)

	slots, err = a.AvailableTimes(context.Background(), dentist, "unknown-clinic", at(24, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestAvailableDatesSkipsClosedDay(t *testing.T) {
	a, _ := newTestActions(t, Settings{})
	dates := a.AvailableDates(context.Background(), dentist, clinic, at(23, 12, 0), 5)
	require.Len(t, dates, 5)
	want := []string{"2025-01-23", "2025-01-24", "2025-01-25", "2025-01-27", "2025-01-28"}
	for i, d := range dates {
		assert.Equal(t, want[i], d.Format("2006-01-02"))
	}
}

func TestAvailableDatesRespectsLookahead(t *testing.T) {
	repo := NewMemoryRepository()
	repo.SetWorkingHours(clinic, WorkingHours{Weekday: time.Wednesday, Open: "09:00", Close: "12:00", Active: true})
	a := NewActions(repo, Settings{LookaheadDays: 10}, logging.Discard())

	dates := a.AvailableDates(context.Background(), dentist, clinic, at(20, 0, 0), 5)
	require.Len(t, dates, 2)
	assert.Equal(t, time.Wednesday, dates[0].Weekday())

	assert.Empty(t, a.AvailableDates(context.Background(), dentist, "nowhere", at(20, 0, 0), 3))
}

type failingHoursRepo struct {
	*MemoryRepository
}

func (failingHoursRepo) ListWorkingHours(ctx context.Context, clinicID string, weekday time.Weekday) ([]WorkingHours, error) {
	return nil, errors.New("db down")
}

func TestAvailableDatesNeverFails(t *testing.T) {
	a := NewActions(failingHoursRepo{NewMemoryRepository()}, Settings{}, logging.Discard())
	assert.Empty(t, a.AvailableDates(context.Background(), dentist, clinic, at(20, 0, 0), 3))
}

func TestCreateConfirmedAndPending(t *testing.T) {
	a, repo := newTestActions(t, Settings{})
	appt, err := a.Create(context.Background(), CreateRequest{PatientID: "p-1", ClinicID: clinic, DentistID: dentist, Start: at(24, 11, 0), Reason: "cleaning"})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.Nil(t, appt.PaymentDueAt)
	assert.Equal(t, at(24, 11, 30), appt.EndsAt)
	status, ok := repo.IndexStatus("p-1", appt.ID)
	require.True(t, ok)
	assert.Equal(t, StatusConfirmed, status)

	deposit, _ := newTestActions(t, Settings{DepositRequired: true, PaymentWindow: 24 * time.Hour})
	appt, err = deposit.Create(context.Background(), CreateRequest{PatientID: "p-1", ClinicID: clinic, DentistID: dentist, Start: at(24, 11, 0)})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)
	require.NotNil(t, appt.PaymentDueAt)
	assert.Equal(t, testNow.Add(24*time.Hour), *appt.PaymentDueAt)
}

func TestCreateRejectsTakenSlot(t *testing.T) {
	a, _ := newTestActions(t, Settings{})
	req := CreateRequest{PatientID: "p-1", ClinicID: clinic, DentistID: dentist, Start: at(24, 11, 0)}
	_, err := a.Create(context.Background(), req)
	require.NoError(t, err)

	req.PatientID = "p-2"
	_, err = a.Create(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.NotEmpty(t, apperr.UserMessage(err))
}

func TestCreateConcurrentSameSlotOnlyOneWins(t *testing.T) {
	a, _ := newTestActions(t, Settings{})
	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Create(context.Background(), CreateRequest{PatientID: "p", ClinicID: clinic, DentistID: dentist, Start: at(24, 14, 0)})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestCreateValidation(t *testing.T) {
	a, _ := newTestActions(t, Settings{})
	_, err := a.Create(context.Background(), CreateRequest{PatientID: "p-1", DentistID: dentist})
	assert.Equal(t, apperr.KindUserInput, apperr.KindOf(err))

	_, err = a.Create(context.Background(), CreateRequest{PatientID: "p-1", ClinicID: clinic, DentistID: dentist, Start: at(19, 10, 0)})
	assert.Equal(t, apperr.KindUserInput, apperr.KindOf(err))

	_, err = a.Create(context.Background(), CreateRequest{PatientID: "p-1", ClinicID: clinic, DentistID: dentist, Start: at(24, 10, 15)})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err), "off-grid start is not an offered slot")
}

func TestRescheduleAndCancelKeepIndexInSync(t *testing.T) {
	a, repo := newTestActions(t, Settings{})
	ctx := context.Background()
	appt, err := a.Create(ctx, CreateRequest{PatientID: "p-1", ClinicID: clinic, DentistID: dentist, Start: at(24, 11, 0)})
	require.NoError(t, err)

	moved, err := a.Reschedule(ctx, appt.ID, at(25, 9, 0), "")
	require.NoError(t, err)
	assert.Equal(t, at(25, 9, 0), moved.StartsAt)
	assert.Equal(t, 2, moved.Version)

	list, err := repo.ListAppointments(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, at(25, 9, 0), list[0].StartsAt)

	cancelled, err := a.Cancel(ctx, appt.ID, "feeling better")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	status, _ := repo.IndexStatus("p-1", appt.ID)
	assert.Equal(t, StatusCancelled, status)

	_, err = a.Cancel(ctx, appt.ID, "")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	_, err = a.Reschedule(ctx, appt.ID, at(27, 9, 0), "")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestRescheduleToOwnNeighbourSlot(t *testing.T) {
	a, _ := newTestActions(t, Settings{SlotLength: time.Hour})
	appt, err := a.Create(context.Background(), CreateRequest{PatientID: "p-1", ClinicID: clinic, DentistID: dentist, Start: at(24, 11, 0)})
	require.NoError(t, err)
	_, err = a.Reschedule(context.Background(), appt.ID, at(24, 12, 0), "")
	require.NoError(t, err)
}

func TestStaleVersionIsConflict(t *testing.T) {
	a, repo := newTestActions(t, Settings{})
	ctx := context.Background()
	appt, err := a.Create(ctx, CreateRequest{PatientID: "p-1", ClinicID: clinic, DentistID: dentist, Start: at(24, 11, 0)})
	require.NoError(t, err)

	stale := *appt
	fresh := *appt
	fresh.Reason = "updated"
	require.NoError(t, repo.UpdateAppointment(ctx, &fresh))
	err = repo.UpdateAppointment(ctx, &stale)
	assert.ErrorIs(t, err, ErrStaleVersion)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(a.mapRepoError("op", err)))
}

func TestMarkPaid(t *testing.T) {
	a, _ := newTestActions(t, Settings{DepositRequired: true})
	ctx := context.Background()
	appt, err := a.Create(ctx, CreateRequest{PatientID: "p-1", ClinicID: clinic, DentistID: dentist, Start: at(24, 11, 0)})
	require.NoError(t, err)

	paid, err := a.MarkPaid(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, paid.Status)
	assert.Nil(t, paid.PaymentDueAt)

	_, err = a.MarkPaid(ctx, appt.ID)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	_, err = a.MarkPaid(ctx, "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestFindOrCreatePatientAndListUpcoming(t *testing.T) {
	a, _ := newTestActions(t, Settings{})
	ctx := context.Background()
	p, err := a.FindOrCreatePatient(ctx, "+15551112222", "Ana")
	require.NoError(t, err)
	again, err := a.FindOrCreatePatient(ctx, "+15551112222", "")
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)

	_, err = a.FindOrCreatePatient(ctx, " ", "")
	assert.Equal(t, apperr.KindUserInput, apperr.KindOf(err))

	second, err := a.Create(ctx, CreateRequest{PatientID: p.ID, ClinicID: clinic, DentistID: dentist, Start: at(28, 9, 0)})
	require.NoError(t, err)
	first, err := a.Create(ctx, CreateRequest{PatientID: p.ID, ClinicID: clinic, DentistID: dentist, Start: at(24, 9, 0)})
	require.NoError(t, err)
	cancelled, err := a.Create(ctx, CreateRequest{PatientID: p.ID, ClinicID: clinic, DentistID: dentist, Start: at(25, 9, 0)})
	require.NoError(t, err)
	_, err = a.Cancel(ctx, cancelled.ID, "")
	require.NoError(t, err)

	upcoming, err := a.ListUpcoming(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	assert.Equal(t, first.ID, upcoming[0].ID)
	assert.Equal(t, second.ID, upcoming[1].ID)
}

func TestAlternativeDentist(t *testing.T) {
	a, _ := newTestActions(t, Settings{})
	d, err := a.AlternativeDentist(context.Background(), clinic, dentist, at(24, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, "dentist-1-b", d.ID)

	_, err = a.AlternativeDentist(context.Background(), clinic, dentist, at(26, 0, 0))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
