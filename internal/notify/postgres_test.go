package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var attemptCols = []string{"id", "message_id", "entity_id", "event_type", "recipient", "body", "live", "status", "retry_count", "last_error", "scheduled_for", "lease_until", "created_at", "updated_at"}

var blockCols = []string{"phone", "consecutive_failures", "last_event_type", "blocked", "blocked_at", "blocked_until", "reason", "recent_failures", "updated_at"}

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestPostgresRetryStoreClaimDue(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresRetryStore(mock)
	lease := testBase.Add(defaultRetryLease)

	rows := pgxmock.NewRows(attemptCols).
		AddRow("att-1", "m-1", "appt-1", "reminder_24h", "+15550001111", "Reminder", false, "pending", 1, "timeout", testBase.Add(-time.Minute), &lease, testBase, testBase)
	mock.ExpectQuery("UPDATE notification_attempts").
		WithArgs(testBase, lease, 10).
		WillReturnRows(rows)

	due, err := store.ClaimDue(context.Background(), testBase, defaultRetryLease, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 claimed attempt, got %d", len(due))
	}
	a := due[0]
	if a.Message.EventType != EventReminder24h || a.Message.EntityID != "appt-1" || a.RetryCount != 1 || a.Message.RetryCount != 1 {
		t.Fatalf("unexpected attempt %+v", a)
	}
	if a.LeaseUntil == nil || !a.LeaseUntil.Equal(lease) {
		t.Fatalf("expected lease to be scanned, got %v", a.LeaseUntil)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRetryStoreRescheduleMissing(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresRetryStore(mock)
	mock.ExpectExec("UPDATE notification_attempts").
		WithArgs("att-1", 2, "boom", testBase).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.Reschedule(context.Background(), "att-1", 2, "boom", testBase)
	if !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}
}

func TestPostgresRetryStoreHasPending(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresRetryStore(mock)
	mock.ExpectQuery("SELECT 1 FROM notification_attempts").
		WithArgs("appt-1", "reminder_2h").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT 1 FROM notification_attempts").
		WithArgs("appt-2", "reminder_2h").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	pending, err := store.HasPending(context.Background(), "appt-1", EventReminder2h)
	if err != nil || pending {
		t.Fatalf("expected no pending attempt, got %v %v", pending, err)
	}
	pending, err = store.HasPending(context.Background(), "appt-2", EventReminder2h)
	if err != nil || !pending {
		t.Fatalf("expected pending attempt, got %v %v", pending, err)
	}
}

func TestPostgresRetryStoreHasAttemptIgnoresStatus(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresRetryStore(mock)
	mock.ExpectQuery(`SELECT 1 FROM notification_attempts WHERE entity_id = \$1 AND event_type = \$2 LIMIT 1`).
		WithArgs("appt-1", "reminder_24h").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("SELECT 1 FROM notification_attempts").
		WithArgs("appt-2", "reminder_24h").
		WillReturnError(pgx.ErrNoRows)

	attempted, err := store.HasAttempt(context.Background(), "appt-1", EventReminder24h)
	if err != nil || !attempted {
		t.Fatalf("expected an attempt, got %v %v", attempted, err)
	}
	attempted, err = store.HasAttempt(context.Background(), "appt-2", EventReminder24h)
	if err != nil || attempted {
		t.Fatalf("expected no attempt, got %v %v", attempted, err)
	}
}

func TestPostgresDeliveryLogAppendIsIdempotent(t *testing.T) {
	mock := newMockPool(t)
	log := NewPostgresDeliveryLog(mock)
	entry := Entry{EntityID: "appt-1", NotificationType: EventReviewRequest, Recipient: "+15550001111", Provider: "twilio", ProviderMessageID: "SM1", SentAt: testBase}

	mock.ExpectExec("INSERT INTO delivery_log").
		WithArgs("appt-1", "review_request", "+15550001111", "twilio", "SM1", testBase).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO delivery_log").
		WithArgs(anyArgs(6)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := log.Append(context.Background(), entry)
	if err != nil || !inserted {
		t.Fatalf("expected first append to insert, got %v %v", inserted, err)
	}
	inserted, err = log.Append(context.Background(), entry)
	if err != nil || inserted {
		t.Fatalf("expected second append to be a no-op, got %v %v", inserted, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresDeliveryLogExists(t *testing.T) {
	mock := newMockPool(t)
	log := NewPostgresDeliveryLog(mock)
	mock.ExpectQuery("SELECT 1 FROM delivery_log").
		WithArgs("appt-1", "reminder_24h").
		WillReturnError(pgx.ErrNoRows)

	exists, err := log.Exists(context.Background(), "appt-1", EventReminder24h)
	if err != nil || exists {
		t.Fatalf("expected missing entry, got %v %v", exists, err)
	}
}

func TestPostgresBlocklistUpdateLocksRow(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresBlocklistStore(mock)
	recent := []byte(`[{"event_type":"appointment_created","error":"x","at":"2025-01-20T08:00:00Z"}]`)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO phone_blocklist").
		WithArgs("+15550001111").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("+15550001111").
		WillReturnRows(pgxmock.NewRows(blockCols).
			AddRow("+15550001111", 1, "appointment_created", false, nil, nil, "", recent, testBase))
	mock.ExpectExec("UPDATE phone_blocklist").
		WithArgs(anyArgs(9)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	b := NewBlocklist(store, nil).WithClock(func() time.Time { return testBase })
	rec, err := b.RecordFailure(context.Background(), "+15550001111", EventReminder24h, errors.New("timeout"))
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if rec.ConsecutiveFailures != 2 || len(rec.RecentFailures) != 2 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresBlocklistGetUnknown(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresBlocklistStore(mock)
	mock.ExpectQuery("FROM phone_blocklist").
		WithArgs("+15550001111").
		WillReturnError(pgx.ErrNoRows)

	rec, err := store.Get(context.Background(), "+15550001111")
	if err != nil || rec != nil {
		t.Fatalf("expected nil record, got %+v %v", rec, err)
	}
}
