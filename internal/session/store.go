package session

import (
	"context"
	"errors"
	"sync"
)

// ErrSessionNotFound is returned by Load when no context exists for the id.
var ErrSessionNotFound = errors.New("session: not found")

// Store persists conversation contexts by session id.
type Store interface {
	Load(ctx context.Context, sessionID string) (*ConversationContext, error)
	Save(ctx context.Context, c *ConversationContext) error
	Delete(ctx context.Context, sessionID string) error
}

// MemoryStore keeps contexts in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*ConversationContext
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*ConversationContext)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Load(_ context.Context, sessionID string) (*ConversationContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, c *ConversationContext) error {
	if c == nil || c.SessionID == "" {
		return errors.New("session: context with id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[c.SessionID] = c.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
