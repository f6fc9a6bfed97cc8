package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseSlidingWindow(t *testing.T, clk *fakeClock, l Limiter) {
	t.Helper()
	ctx := context.Background()
	const phone = "+15550001111"

	for _, offset := range []time.Duration{0, 10 * time.Minute, 20 * time.Minute} {
		clk.Set(testBase.Add(offset))
		ok, _, err := l.Allow(ctx, phone)
		require.NoError(t, err)
		require.True(t, ok, "send at %s should be admitted", offset)
	}

	clk.Set(testBase.Add(25 * time.Minute))
	ok, wait, err := l.Allow(ctx, phone)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 35*time.Minute, wait)

	other, _, err := l.Allow(ctx, "+15550002222")
	require.NoError(t, err)
	assert.True(t, other, "limits are per recipient")

	clk.Set(testBase.Add(61 * time.Minute))
	ok, _, err = l.Allow(ctx, phone)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSlidingWindowLimiter(t *testing.T) {
	clk := newFakeClock(testBase)
	exerciseSlidingWindow(t, clk, NewSlidingWindowLimiter(3, time.Hour).WithClock(clk.Now))
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := newFakeClock(testBase)
	exerciseSlidingWindow(t, clk, NewRedisLimiter(client, 3, time.Hour).WithClock(clk.Now))
}

func TestSlidingWindowLimiterConcurrent(t *testing.T) {
	clk := newFakeClock(testBase)
	l := NewSlidingWindowLimiter(3, time.Hour).WithClock(clk.Now)

	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := l.Allow(context.Background(), "+15550001111")
			if err == nil && ok {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(3), admitted)
}

func TestRedisLimiterUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	_, _, err := NewRedisLimiter(client, 3, time.Hour).Allow(context.Background(), "+15550001111")
	assert.Error(t, err)
}
