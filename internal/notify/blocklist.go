package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

const (
	defaultBlockThreshold = 3
	defaultBlockDuration  = 30 * 24 * time.Hour
)

// BlocklistStore persists BlockRecords. Update must run fn atomically per
// phone; Get returns nil, nil for an unknown phone.
type BlocklistStore interface {
	Get(ctx context.Context, phone string) (*BlockRecord, error)
	Update(ctx context.Context, phone string, fn func(*BlockRecord) error) (*BlockRecord, error)
	ListBlocked(ctx context.Context) ([]BlockRecord, error)
}

// BlockHook is called once when a phone becomes blocked.
type BlockHook func(ctx context.Context, rec BlockRecord)

// Blocklist stops delivery to phones that keep failing. Consecutive failures
// only count when the event type changes, so retries of one notification
// cannot block a phone on their own.
type Blocklist struct {
	store     BlocklistStore
	threshold int
	duration  time.Duration
	now       func() time.Time
	onBlock   BlockHook
	logger    *logging.Logger
}

func NewBlocklist(store BlocklistStore, logger *logging.Logger) *Blocklist {
	if store == nil {
		panic("notify: blocklist store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Blocklist{
		store:     store,
		threshold: defaultBlockThreshold,
		duration:  defaultBlockDuration,
		now:       time.Now,
		logger:    logger,
	}
}

func (b *Blocklist) WithThreshold(n int) *Blocklist {
	if n > 0 {
		b.threshold = n
	}
	return b
}

func (b *Blocklist) WithDuration(d time.Duration) *Blocklist {
	if d > 0 {
		b.duration = d
	}
	return b
}

func (b *Blocklist) WithClock(now func() time.Time) *Blocklist {
	if now != nil {
		b.now = now
	}
	return b
}

// OnBlock registers a hook fired after a phone is blocked.
func (b *Blocklist) OnBlock(hook BlockHook) *Blocklist {
	b.onBlock = hook
	return b
}

// IsBlocked reports whether phone is blocked. An expired block is cleared on
// read.
func (b *Blocklist) IsBlocked(ctx context.Context, phone string) (bool, error) {
	rec, err := b.store.Get(ctx, phone)
	if err != nil {
		return false, err
	}
	if rec == nil || !rec.Blocked {
		return false, nil
	}
	now := b.now()
	if !rec.expired(now) {
		return true, nil
	}
	_, err = b.store.Update(ctx, phone, func(r *BlockRecord) error {
		if r.expired(now) {
			r.clear()
			r.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("notify: clear expired block: %w", err)
	}
	b.logger.Info("phone block expired", "phone", phone)
	return false, nil
}

// RecordFailure notes a failed delivery and blocks the phone once the
// threshold of distinct consecutive event types is reached.
func (b *Blocklist) RecordFailure(ctx context.Context, phone string, eventType EventType, cause error) (*BlockRecord, error) {
	now := b.now()
	newlyBlocked := false
	rec, err := b.store.Update(ctx, phone, func(r *BlockRecord) error {
		if r.expired(now) {
			r.clear()
		}
		r.Phone = phone
		r.addFailure(FailureEvent{EventType: eventType, Error: errorText(cause), At: now})
		if r.ConsecutiveFailures == 0 || r.LastEventType != eventType {
			r.ConsecutiveFailures++
		}
		r.LastEventType = eventType
		r.UpdatedAt = now
		if !r.Blocked && r.ConsecutiveFailures >= b.threshold {
			until := now.Add(b.duration)
			at := now
			r.Blocked = true
			r.BlockedAt = &at
			r.BlockedUntil = &until
			r.Reason = fmt.Sprintf("%d consecutive delivery failures, last %s: %s", r.ConsecutiveFailures, eventType, errorText(cause))
			newlyBlocked = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("notify: record failure: %w", err)
	}
	if newlyBlocked {
		b.logger.Warn("phone blocked", "phone", phone, "until", rec.BlockedUntil, "reason", rec.Reason)
		if b.onBlock != nil {
			b.onBlock(ctx, rec.clone())
		}
	}
	return rec, nil
}

// RecordSuccess resets the consecutive failure counter.
func (b *Blocklist) RecordSuccess(ctx context.Context, phone string) error {
	rec, err := b.store.Get(ctx, phone)
	if err != nil {
		return fmt.Errorf("notify: record success: %w", err)
	}
	if rec == nil || (rec.ConsecutiveFailures == 0 && rec.LastEventType == "") {
		return nil
	}
	now := b.now()
	_, err = b.store.Update(ctx, phone, func(r *BlockRecord) error {
		r.ConsecutiveFailures = 0
		r.LastEventType = ""
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return fmt.Errorf("notify: record success: %w", err)
	}
	return nil
}

// Unblock lifts a block ahead of its expiry.
func (b *Blocklist) Unblock(ctx context.Context, phone string) error {
	now := b.now()
	_, err := b.store.Update(ctx, phone, func(r *BlockRecord) error {
		r.Phone = phone
		r.clear()
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return fmt.Errorf("notify: unblock: %w", err)
	}
	b.logger.Info("phone unblocked", "phone", phone)
	return nil
}

// Get returns the stored record, or nil.
func (b *Blocklist) Get(ctx context.Context, phone string) (*BlockRecord, error) {
	return b.store.Get(ctx, phone)
}

func (b *Blocklist) ListBlocked(ctx context.Context) ([]BlockRecord, error) {
	return b.store.ListBlocked(ctx)
}

// MemoryBlocklistStore is an in-process BlocklistStore.
type MemoryBlocklistStore struct {
	mu      sync.Mutex
	records map[string]*BlockRecord
}

func NewMemoryBlocklistStore() *MemoryBlocklistStore {
	return &MemoryBlocklistStore{records: make(map[string]*BlockRecord)}
}

func (s *MemoryBlocklistStore) Get(_ context.Context, phone string) (*BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[phone]
	if !ok {
		return nil, nil
	}
	cp := r.clone()
	return &cp, nil
}

func (s *MemoryBlocklistStore) Update(_ context.Context, phone string, fn func(*BlockRecord) error) (*BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	working := BlockRecord{Phone: phone}
	if r, ok := s.records[phone]; ok {
		working = r.clone()
	}
	if err := fn(&working); err != nil {
		return nil, err
	}
	stored := working.clone()
	s.records[phone] = &stored
	return &working, nil
}

func (s *MemoryBlocklistStore) ListBlocked(_ context.Context) ([]BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []BlockRecord
	for _, r := range s.records {
		if r.Blocked {
			out = append(out, r.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phone < out[j].Phone })
	return out, nil
}
