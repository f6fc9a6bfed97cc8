package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

// Manager runs read-modify-write cycles on a session under its lock.
type Manager struct {
	store  Store
	locker Locker
	now    func() time.Time
	logger *logging.Logger
}

// NewManager wires a store and a locker. A nil locker uses a LocalLocker.
func NewManager(store Store, locker Locker, logger *logging.Logger) *Manager {
	if store == nil {
		panic("session: store cannot be nil")
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{store: store, locker: locker, now: time.Now, logger: logger}
}

// WithClock overrides the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// Update loads (or creates) the session, applies fn and saves the result.
// When fn fails nothing is saved.
func (m *Manager) Update(ctx context.Context, sessionID string, mode Mode, fn func(*ConversationContext) error) (*ConversationContext, error) {
	if sessionID == "" {
		return nil, errors.New("session: id required")
	}
	unlock, err := m.locker.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := m.store.Load(ctx, sessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		c = New(sessionID, mode, m.now())
		m.logger.Debug("session created", "session_id", sessionID, "mode", c.Mode)
	case err != nil:
		return nil, err
	}

	if err := fn(c); err != nil {
		return nil, err
	}
	if !c.Step.Valid() {
		return nil, fmt.Errorf("session: refusing to save invalid step %q", c.Step)
	}
	c.UpdatedAt = m.now()
	if err := m.store.Save(ctx, c); err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// Get returns a snapshot without locking.
func (m *Manager) Get(ctx context.Context, sessionID string) (*ConversationContext, error) {
	return m.store.Load(ctx, sessionID)
}

// Reset deletes the stored context.
func (m *Manager) Reset(ctx context.Context, sessionID string) error {
	unlock, err := m.locker.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()
	return m.store.Delete(ctx, sessionID)
}
