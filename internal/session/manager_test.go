package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

func TestManagerCreatesAndSaves(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, nil, logging.Discard()).WithClock(func() time.Time { return testNow })

	c, err := m.Update(context.Background(), "s-1", ModeAgent, func(c *ConversationContext) error {
		assert.Equal(t, StepInitial, c.Step)
		c.Step = StepMainMenu
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StepMainMenu, c.Step)
	assert.Equal(t, ModeAgent, c.Mode)

	stored, err := m.Get(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, StepMainMenu, stored.Step)
}

func TestManagerDoesNotSaveOnError(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, nil, logging.Discard())
	boom := errors.New("boom")

	_, err := m.Update(context.Background(), "s-1", ModeMenu, func(c *ConversationContext) error {
		c.Step = StepSelectingDate
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, err = store.Load(context.Background(), "s-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerRejectsInvalidStep(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil, logging.Discard())
	_, err := m.Update(context.Background(), "s-1", ModeMenu, func(c *ConversationContext) error {
		c.Step = Step("nowhere")
		return nil
	})
	assert.Error(t, err)
}

func TestManagerSerializesSameSession(t *testing.T) {
	m := NewManager(NewMemoryStore(), NewLocalLocker(), logging.Discard())
	const turns = 50

	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Update(context.Background(), "shared", ModeMenu, func(c *ConversationContext) error {
				c.Entities.OfferedAppointments = append(c.Entities.OfferedAppointments, "x")
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c, err := m.Get(context.Background(), "shared")
	require.NoError(t, err)
	assert.Len(t, c.Entities.OfferedAppointments, turns)
}

func TestManagerReset(t *testing.T) {
	m := NewManager(NewMemoryStore(), nil, logging.Discard())
	_, err := m.Update(context.Background(), "s-1", ModeMenu, func(c *ConversationContext) error { return nil })
	require.NoError(t, err)
	require.NoError(t, m.Reset(context.Background(), "s-1"))
	_, err = m.Get(context.Background(), "s-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
