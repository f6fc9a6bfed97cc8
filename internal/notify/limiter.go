package notify

import (
	"context"
	"sync"
	"time"
)

const (
	defaultRateLimitMax    = 3
	defaultRateLimitWindow = time.Hour
)

// Limiter admits at most N sends per recipient within a rolling window. When
// a send is denied, wait is how long until the oldest admitted send leaves the
// window.
type Limiter interface {
	Allow(ctx context.Context, recipient string) (allowed bool, wait time.Duration, err error)
}

// SlidingWindowLimiter keeps admitted timestamps per recipient in process.
type SlidingWindowLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	now    func() time.Time
	sent   map[string][]time.Time
}

func NewSlidingWindowLimiter(max int, window time.Duration) *SlidingWindowLimiter {
	if max <= 0 {
		max = defaultRateLimitMax
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &SlidingWindowLimiter{
		max:    max,
		window: window,
		now:    time.Now,
		sent:   make(map[string][]time.Time),
	}
}

func (l *SlidingWindowLimiter) WithClock(now func() time.Time) *SlidingWindowLimiter {
	if now != nil {
		l.now = now
	}
	return l
}

func (l *SlidingWindowLimiter) Allow(_ context.Context, recipient string) (bool, time.Duration, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.sent[recipient][:0]
	for _, ts := range l.sent[recipient] {
		if now.Sub(ts) < l.window {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.sent[recipient] = kept
		return false, kept[0].Add(l.window).Sub(now), nil
	}
	l.sent[recipient] = append(kept, now)
	return true, 0, nil
}
