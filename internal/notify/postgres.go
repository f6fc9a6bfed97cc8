package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
)

var pgTracer = otel.Tracer("dental.internal.notify.postgres")

// DB is the subset of pgxpool.Pool used by the Postgres stores.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRetryStore keeps attempts in notification_attempts. Claims lease
// rows with FOR UPDATE SKIP LOCKED so parallel sweepers split the work.
type PostgresRetryStore struct {
	db DB
}

func NewPostgresRetryStore(db DB) *PostgresRetryStore {
	if db == nil {
		panic("notify: db required")
	}
	return &PostgresRetryStore{db: db}
}

var _ RetryStore = (*PostgresRetryStore)(nil)

const attemptColumns = `id, message_id, entity_id, event_type, recipient, body, live, status, retry_count, last_error, scheduled_for, lease_until, created_at, updated_at`

func scanAttempt(row pgx.Row) (*Attempt, error) {
	var a Attempt
	var eventType, status string
	if err := row.Scan(&a.ID, &a.Message.ID, &a.Message.EntityID, &eventType, &a.Message.Recipient, &a.Message.Body,
		&a.Message.Live, &status, &a.RetryCount, &a.LastError, &a.ScheduledFor, &a.LeaseUntil, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Message.EventType = EventType(eventType)
	a.Message.RetryCount = a.RetryCount
	a.Status = AttemptStatus(status)
	return &a, nil
}

func (s *PostgresRetryStore) Enqueue(ctx context.Context, a Attempt) error {
	ctx, span := pgTracer.Start(ctx, "retry.enqueue")
	defer span.End()
	query := `
		INSERT INTO notification_attempts (` + attemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, $12, $13)
	`
	_, err := s.db.Exec(ctx, query, a.ID, a.Message.ID, a.Message.EntityID, string(a.Message.EventType), a.Message.Recipient,
		a.Message.Body, a.Message.Live, string(a.Status), a.RetryCount, a.LastError, a.ScheduledFor, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("notify: insert attempt: %w", err)
	}
	return nil
}

func (s *PostgresRetryStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Attempt, error) {
	ctx, span := pgTracer.Start(ctx, "retry.claim_due")
	defer span.End()
	query := `
		UPDATE notification_attempts
		SET lease_until = $2, updated_at = $1
		WHERE id IN (
			SELECT id FROM notification_attempts
			WHERE status = 'pending'
			  AND scheduled_for <= $1
			  AND (lease_until IS NULL OR lease_until <= $1)
			ORDER BY scheduled_for
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + attemptColumns
	rows, err := s.db.Query(ctx, query, now, now.Add(lease), limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("notify: claim attempts: %w", err)
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("notify: scan attempt: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: claim attempts: %w", err)
	}
	return out, nil
}

func (s *PostgresRetryStore) Reschedule(ctx context.Context, id string, retryCount int, lastErr string, at time.Time) error {
	query := `
		UPDATE notification_attempts
		SET retry_count = $2, last_error = $3, scheduled_for = $4, lease_until = NULL, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`
	ct, err := s.db.Exec(ctx, query, id, retryCount, lastErr, at)
	if err != nil {
		return fmt.Errorf("notify: reschedule attempt: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (s *PostgresRetryStore) Finalize(ctx context.Context, id string, status AttemptStatus, lastErr string) error {
	query := `
		UPDATE notification_attempts
		SET status = $2, last_error = COALESCE(NULLIF($3, ''), last_error), lease_until = NULL, updated_at = now()
		WHERE id = $1
	`
	ct, err := s.db.Exec(ctx, query, id, string(status), lastErr)
	if err != nil {
		return fmt.Errorf("notify: finalize attempt: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (s *PostgresRetryStore) HasPending(ctx context.Context, entityID string, eventType EventType) (bool, error) {
	query := `SELECT 1 FROM notification_attempts WHERE entity_id = $1 AND event_type = $2 AND status = 'pending' LIMIT 1`
	var one int
	if err := s.db.QueryRow(ctx, query, entityID, string(eventType)).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("notify: check pending attempt: %w", err)
	}
	return true, nil
}

func (s *PostgresRetryStore) HasAttempt(ctx context.Context, entityID string, eventType EventType) (bool, error) {
	query := `SELECT 1 FROM notification_attempts WHERE entity_id = $1 AND event_type = $2 LIMIT 1`
	var one int
	if err := s.db.QueryRow(ctx, query, entityID, string(eventType)).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("notify: check attempt: %w", err)
	}
	return true, nil
}

func (s *PostgresRetryStore) Get(ctx context.Context, id string) (*Attempt, error) {
	a, err := scanAttempt(s.db.QueryRow(ctx, `SELECT `+attemptColumns+` FROM notification_attempts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("notify: get attempt: %w", err)
	}
	return a, nil
}

// PostgresDeliveryLog is the delivery_log table. The primary key on
// (entity_id, notification_type) makes Append idempotent.
type PostgresDeliveryLog struct {
	db DB
}

func NewPostgresDeliveryLog(db DB) *PostgresDeliveryLog {
	if db == nil {
		panic("notify: db required")
	}
	return &PostgresDeliveryLog{db: db}
}

var _ DeliveryLog = (*PostgresDeliveryLog)(nil)

func (l *PostgresDeliveryLog) Append(ctx context.Context, e Entry) (bool, error) {
	ctx, span := pgTracer.Start(ctx, "delivery_log.append")
	defer span.End()
	query := `
		INSERT INTO delivery_log (entity_id, notification_type, recipient, provider, provider_message_id, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
	`
	ct, err := l.db.Exec(ctx, query, e.EntityID, string(e.NotificationType), e.Recipient, e.Provider, e.ProviderMessageID, e.SentAt)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("notify: append delivery log: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (l *PostgresDeliveryLog) Exists(ctx context.Context, entityID string, notificationType EventType) (bool, error) {
	query := `SELECT 1 FROM delivery_log WHERE entity_id = $1 AND notification_type = $2`
	var one int
	if err := l.db.QueryRow(ctx, query, entityID, string(notificationType)).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("notify: check delivery log: %w", err)
	}
	return true, nil
}

func (l *PostgresDeliveryLog) List(ctx context.Context, entityID string) ([]Entry, error) {
	query := `
		SELECT entity_id, notification_type, recipient, provider, provider_message_id, sent_at
		FROM delivery_log WHERE entity_id = $1 ORDER BY sent_at
	`
	rows, err := l.db.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("notify: list delivery log: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var nt string
		if err := rows.Scan(&e.EntityID, &nt, &e.Recipient, &e.Provider, &e.ProviderMessageID, &e.SentAt); err != nil {
			return nil, fmt.Errorf("notify: scan delivery log: %w", err)
		}
		e.NotificationType = EventType(nt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PostgresBlocklistStore keeps one phone_blocklist row per normalized phone.
// Update runs the read-modify-write under SELECT ... FOR UPDATE.
type PostgresBlocklistStore struct {
	db DB
}

func NewPostgresBlocklistStore(db DB) *PostgresBlocklistStore {
	if db == nil {
		panic("notify: db required")
	}
	return &PostgresBlocklistStore{db: db}
}

var _ BlocklistStore = (*PostgresBlocklistStore)(nil)

const blockColumns = `phone, consecutive_failures, last_event_type, blocked, blocked_at, blocked_until, reason, recent_failures, updated_at`

func scanBlockRecord(row pgx.Row) (*BlockRecord, error) {
	var r BlockRecord
	var lastEvent string
	var recent []byte
	if err := row.Scan(&r.Phone, &r.ConsecutiveFailures, &lastEvent, &r.Blocked, &r.BlockedAt, &r.BlockedUntil,
		&r.Reason, &recent, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.LastEventType = EventType(lastEvent)
	if len(recent) > 0 {
		if err := json.Unmarshal(recent, &r.RecentFailures); err != nil {
			return nil, fmt.Errorf("decode recent failures: %w", err)
		}
	}
	return &r, nil
}

func (s *PostgresBlocklistStore) Get(ctx context.Context, phone string) (*BlockRecord, error) {
	r, err := scanBlockRecord(s.db.QueryRow(ctx, `SELECT `+blockColumns+` FROM phone_blocklist WHERE phone = $1`, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("notify: get block record: %w", err)
	}
	return r, nil
}

func (s *PostgresBlocklistStore) Update(ctx context.Context, phone string, fn func(*BlockRecord) error) (rec *BlockRecord, err error) {
	ctx, span := pgTracer.Start(ctx, "blocklist.update")
	defer span.End()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("notify: begin blocklist tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `INSERT INTO phone_blocklist (phone) VALUES ($1) ON CONFLICT DO NOTHING`, phone); err != nil {
		return nil, fmt.Errorf("notify: seed block record: %w", err)
	}
	rec, err = scanBlockRecord(tx.QueryRow(ctx, `SELECT `+blockColumns+` FROM phone_blocklist WHERE phone = $1 FOR UPDATE`, phone))
	if err != nil {
		return nil, fmt.Errorf("notify: lock block record: %w", err)
	}
	if err = fn(rec); err != nil {
		return nil, err
	}
	recent, err := json.Marshal(rec.RecentFailures)
	if err != nil {
		return nil, fmt.Errorf("notify: encode recent failures: %w", err)
	}
	query := `
		UPDATE phone_blocklist
		SET consecutive_failures = $2, last_event_type = $3, blocked = $4, blocked_at = $5,
		    blocked_until = $6, reason = $7, recent_failures = $8, updated_at = $9
		WHERE phone = $1
	`
	if _, err = tx.Exec(ctx, query, rec.Phone, rec.ConsecutiveFailures, string(rec.LastEventType), rec.Blocked,
		rec.BlockedAt, rec.BlockedUntil, rec.Reason, recent, rec.UpdatedAt); err != nil {
		return nil, fmt.Errorf("notify: save block record: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("notify: commit blocklist tx: %w", err)
	}
	return rec, nil
}

func (s *PostgresBlocklistStore) ListBlocked(ctx context.Context) ([]BlockRecord, error) {
	rows, err := s.db.Query(ctx, `SELECT `+blockColumns+` FROM phone_blocklist WHERE blocked ORDER BY blocked_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("notify: list blocked: %w", err)
	}
	defer rows.Close()
	var out []BlockRecord
	for rows.Next() {
		r, err := scanBlockRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("notify: scan block record: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
