package notify

import (
	"context"
	"sort"
	"sync"
)

// DeliveryLog is the append-only audit of successful sends, unique on
// (entity id, notification type). Schedulers read it for idempotency.
type DeliveryLog interface {
	Append(ctx context.Context, e Entry) (inserted bool, err error)
	Exists(ctx context.Context, entityID string, notificationType EventType) (bool, error)
	List(ctx context.Context, entityID string) ([]Entry, error)
}

type logKey struct {
	entityID string
	kind     EventType
}

// MemoryDeliveryLog is an in-process DeliveryLog.
type MemoryDeliveryLog struct {
	mu      sync.RWMutex
	entries map[logKey]Entry
}

func NewMemoryDeliveryLog() *MemoryDeliveryLog {
	return &MemoryDeliveryLog{entries: make(map[logKey]Entry)}
}

func (l *MemoryDeliveryLog) Append(_ context.Context, e Entry) (bool, error) {
	k := logKey{entityID: e.EntityID, kind: e.NotificationType}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[k]; ok {
		return false, nil
	}
	l.entries[k] = e
	return true, nil
}

func (l *MemoryDeliveryLog) Exists(_ context.Context, entityID string, notificationType EventType) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[logKey{entityID: entityID, kind: notificationType}]
	return ok, nil
}

func (l *MemoryDeliveryLog) List(_ context.Context, entityID string) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for k, e := range l.entries {
		if k.entityID == entityID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

// Len is the number of entries, for tests.
func (l *MemoryDeliveryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
