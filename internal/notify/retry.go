package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

const (
	defaultMaxRetries  = 2
	defaultRetryDelay  = 30 * time.Minute
	defaultRetryLease  = 5 * time.Minute
	defaultRetryBatch  = 50
	maxStoredErrorText = 500
)

// ErrAttemptNotFound is returned when a retry attempt id is unknown.
var ErrAttemptNotFound = errors.New("notify: attempt not found")

// RetryStore persists queued attempts. ClaimDue must hand each due attempt to
// one caller only until its lease runs out.
type RetryStore interface {
	Enqueue(ctx context.Context, a Attempt) error
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Attempt, error)
	Reschedule(ctx context.Context, id string, retryCount int, lastErr string, at time.Time) error
	Finalize(ctx context.Context, id string, status AttemptStatus, lastErr string) error
	HasPending(ctx context.Context, entityID string, eventType EventType) (bool, error)
	// HasAttempt reports whether any attempt, pending or final, exists for the pair.
	HasAttempt(ctx context.Context, entityID string, eventType EventType) (bool, error)
	Get(ctx context.Context, id string) (*Attempt, error)
}

// DeliverFunc re-attempts one message. Returning an error that IsPermanent
// reports as permanent finalizes the attempt immediately.
type DeliverFunc func(ctx context.Context, msg Message) error

// RetryQueue bounds redelivery to maxRetries additional attempts spaced by
// delay. Sweeps are pull based, so the real delay can grow by one sweep
// interval.
type RetryQueue struct {
	store      RetryStore
	maxRetries int
	delay      time.Duration
	lease      time.Duration
	batch      int
	now        func() time.Time
	logger     *logging.Logger
}

func NewRetryQueue(store RetryStore, logger *logging.Logger) *RetryQueue {
	if store == nil {
		panic("notify: retry store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RetryQueue{
		store:      store,
		maxRetries: defaultMaxRetries,
		delay:      defaultRetryDelay,
		lease:      defaultRetryLease,
		batch:      defaultRetryBatch,
		now:        time.Now,
		logger:     logger,
	}
}

func (q *RetryQueue) WithMaxRetries(n int) *RetryQueue {
	if n >= 0 {
		q.maxRetries = n
	}
	return q
}

func (q *RetryQueue) WithDelay(d time.Duration) *RetryQueue {
	if d > 0 {
		q.delay = d
	}
	return q
}

func (q *RetryQueue) WithBatchSize(n int) *RetryQueue {
	if n > 0 {
		q.batch = n
	}
	return q
}

func (q *RetryQueue) WithClock(now func() time.Time) *RetryQueue {
	if now != nil {
		q.now = now
	}
	return q
}

// Schedule queues msg for another attempt when it still has retries left.
// It reports whether the message was queued. Otherwise the failure is
// recorded as final.
func (q *RetryQueue) Schedule(ctx context.Context, msg Message, cause error) (bool, error) {
	now := q.now()
	a := Attempt{
		ID:         uuid.NewString(),
		Message:    msg,
		RetryCount: msg.RetryCount + 1,
		LastError:  errorText(cause),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if msg.RetryCount >= q.maxRetries {
		a.Status = AttemptFailed
		a.RetryCount = msg.RetryCount
		a.ScheduledFor = now
		if err := q.store.Enqueue(ctx, a); err != nil {
			return false, fmt.Errorf("notify: record final failure: %w", err)
		}
		q.logger.Warn("delivery permanently failed", "recipient", msg.Recipient, "event_type", msg.EventType, "entity_id", msg.EntityID, "retries", msg.RetryCount, "error", a.LastError)
		return false, nil
	}
	a.Status = AttemptPending
	a.ScheduledFor = now.Add(q.delay)
	if err := q.store.Enqueue(ctx, a); err != nil {
		return false, fmt.Errorf("notify: enqueue retry: %w", err)
	}
	q.logger.Info("delivery retry scheduled", "attempt_id", a.ID, "recipient", msg.Recipient, "event_type", msg.EventType, "retry", a.RetryCount, "scheduled_for", a.ScheduledFor)
	return true, nil
}

// Fail records msg as failed without queueing it.
func (q *RetryQueue) Fail(ctx context.Context, msg Message, cause error) error {
	now := q.now()
	a := Attempt{
		ID:           uuid.NewString(),
		Message:      msg,
		Status:       AttemptFailed,
		RetryCount:   msg.RetryCount,
		LastError:    errorText(cause),
		ScheduledFor: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := q.store.Enqueue(ctx, a); err != nil {
		return fmt.Errorf("notify: record final failure: %w", err)
	}
	return nil
}

// SweepResult summarizes one ProcessDue pass.
type SweepResult struct {
	Claimed     int
	Sent        int
	Rescheduled int
	Failed      int
}

// ProcessDue claims attempts whose time has come and re-delivers each one.
func (q *RetryQueue) ProcessDue(ctx context.Context, deliver DeliverFunc) (SweepResult, error) {
	var res SweepResult
	if deliver == nil {
		return res, errors.New("notify: deliver func required")
	}
	due, err := q.store.ClaimDue(ctx, q.now(), q.lease, q.batch)
	if err != nil {
		return res, fmt.Errorf("notify: claim due retries: %w", err)
	}
	res.Claimed = len(due)
	var errs []error
	for _, a := range due {
		msg := a.Message
		msg.RetryCount = a.RetryCount
		sendErr := deliver(ctx, msg)
		switch {
		case sendErr == nil:
			if err := q.store.Finalize(ctx, a.ID, AttemptSent, ""); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Sent++
		case IsPermanent(sendErr) || a.RetryCount >= q.maxRetries:
			if err := q.store.Finalize(ctx, a.ID, AttemptFailed, errorText(sendErr)); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Failed++
			q.logger.Warn("delivery permanently failed", "attempt_id", a.ID, "recipient", msg.Recipient, "event_type", msg.EventType, "retries", a.RetryCount, "error", sendErr)
		default:
			next := q.now().Add(q.delay)
			if err := q.store.Reschedule(ctx, a.ID, a.RetryCount+1, errorText(sendErr), next); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Rescheduled++
			q.logger.Info("delivery retry rescheduled", "attempt_id", a.ID, "retry", a.RetryCount+1, "scheduled_for", next)
		}
	}
	return res, errors.Join(errs...)
}

// HasPending reports whether a retry for the pair is still in flight.
func (q *RetryQueue) HasPending(ctx context.Context, entityID string, eventType EventType) (bool, error) {
	if entityID == "" {
		return false, nil
	}
	return q.store.HasPending(ctx, entityID, eventType)
}

// HasAttempt reports whether the pair was ever handed to the queue. A pair
// whose attempts were finalized as failed has used up its delivery budget.
func (q *RetryQueue) HasAttempt(ctx context.Context, entityID string, eventType EventType) (bool, error) {
	if entityID == "" {
		return false, nil
	}
	return q.store.HasAttempt(ctx, entityID, eventType)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if len(s) > maxStoredErrorText {
		s = s[:maxStoredErrorText]
	}
	return s
}

// MemoryRetryStore is an in-process RetryStore.
type MemoryRetryStore struct {
	mu       sync.Mutex
	attempts map[string]*Attempt
}

func NewMemoryRetryStore() *MemoryRetryStore {
	return &MemoryRetryStore{attempts: make(map[string]*Attempt)}
}

func (s *MemoryRetryStore) Enqueue(_ context.Context, a Attempt) error {
	if a.ID == "" {
		return errors.New("notify: attempt id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := a
	s.attempts[a.ID] = &cp
	return nil
}

func (s *MemoryRetryStore) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Attempt
	for _, a := range s.attempts {
		if a.Status != AttemptPending || a.ScheduledFor.After(now) {
			continue
		}
		if a.LeaseUntil != nil && a.LeaseUntil.After(now) {
			continue
		}
		due = append(due, a)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	until := now.Add(lease)
	out := make([]Attempt, 0, len(due))
	for _, a := range due {
		leased := until
		a.LeaseUntil = &leased
		out = append(out, *a)
	}
	return out, nil
}

func (s *MemoryRetryStore) Reschedule(_ context.Context, id string, retryCount int, lastErr string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return ErrAttemptNotFound
	}
	a.RetryCount = retryCount
	a.LastError = lastErr
	a.ScheduledFor = at
	a.LeaseUntil = nil
	a.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryRetryStore) Finalize(_ context.Context, id string, status AttemptStatus, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return ErrAttemptNotFound
	}
	a.Status = status
	if lastErr != "" {
		a.LastError = lastErr
	}
	a.LeaseUntil = nil
	a.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryRetryStore) HasPending(_ context.Context, entityID string, eventType EventType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.Status == AttemptPending && a.Message.EntityID == entityID && a.Message.EventType == eventType {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryRetryStore) HasAttempt(_ context.Context, entityID string, eventType EventType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.Message.EntityID == entityID && a.Message.EventType == eventType {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryRetryStore) Get(_ context.Context, id string) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	cp := *a
	return &cp, nil
}

// List returns every attempt ordered by creation time. Used by tests and the
// admin API.
func (s *MemoryRetryStore) List() []Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Attempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
