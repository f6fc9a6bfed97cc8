package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

const blockPhone = "+15550001111"

func newTestBlocklist(clk *fakeClock) *Blocklist {
	return NewBlocklist(NewMemoryBlocklistStore(), logging.Discard()).WithClock(clk.Now)
}

func TestBlocklistDistinctEventTypesBlock(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(testBase)
	b := newTestBlocklist(clk)

	var hooked []BlockRecord
	b.OnBlock(func(ctx context.Context, rec BlockRecord) { hooked = append(hooked, rec) })

	for _, et := range []EventType{EventAppointmentCreated, EventReminder24h, EventReminder2h} {
		_, err := b.RecordFailure(ctx, blockPhone, et, errors.New("undeliverable"))
		require.NoError(t, err)
	}

	blocked, err := b.IsBlocked(ctx, blockPhone)
	require.NoError(t, err)
	assert.True(t, blocked)
	require.Len(t, hooked, 1)
	assert.Equal(t, 3, hooked[0].ConsecutiveFailures)
	assert.Contains(t, hooked[0].Reason, "reminder_2h")
	require.NotNil(t, hooked[0].BlockedUntil)
	assert.Equal(t, testBase.Add(30*24*time.Hour), *hooked[0].BlockedUntil)
}

func TestBlocklistRepeatedEventTypeDoesNotAdvance(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(testBase)
	b := newTestBlocklist(clk)

	for i := 0; i < 4; i++ {
		rec, err := b.RecordFailure(ctx, blockPhone, EventReminder24h, errors.New("timeout"))
		require.NoError(t, err)
		assert.Equal(t, 1, rec.ConsecutiveFailures)
	}
	rec, err := b.RecordFailure(ctx, blockPhone, EventReminder2h, errors.New("timeout"))
	require.NoError(t, err)
	assert.Equal(t, 2, rec.ConsecutiveFailures)

	blocked, err := b.IsBlocked(ctx, blockPhone)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestBlocklistExpiresAfterThirtyDays(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(testBase)
	b := newTestBlocklist(clk)
	for _, et := range []EventType{"a", "b", "c"} {
		_, err := b.RecordFailure(ctx, blockPhone, et, errors.New("x"))
		require.NoError(t, err)
	}

	clk.Advance(30*24*time.Hour - time.Minute)
	blocked, err := b.IsBlocked(ctx, blockPhone)
	require.NoError(t, err)
	assert.True(t, blocked)

	clk.Advance(time.Minute)
	blocked, err = b.IsBlocked(ctx, blockPhone)
	require.NoError(t, err)
	assert.False(t, blocked)

	rec, err := b.Get(ctx, blockPhone)
	require.NoError(t, err)
	assert.False(t, rec.Blocked)
	assert.Zero(t, rec.ConsecutiveFailures)
	assert.Nil(t, rec.BlockedUntil)
}

func TestBlocklistSuccessResetsCounter(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(testBase)
	b := newTestBlocklist(clk)

	_, _ = b.RecordFailure(ctx, blockPhone, "a", errors.New("x"))
	_, _ = b.RecordFailure(ctx, blockPhone, "b", errors.New("x"))
	require.NoError(t, b.RecordSuccess(ctx, blockPhone))
	rec, err := b.RecordFailure(ctx, blockPhone, "c", errors.New("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ConsecutiveFailures)
	assert.False(t, rec.Blocked)

	// unknown phones are a no-op
	require.NoError(t, b.RecordSuccess(ctx, "+15559999999"))
}

func TestBlocklistKeepsFiveRecentFailures(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(testBase)
	b := newTestBlocklist(clk).WithThreshold(100)
	var rec *BlockRecord
	for i := 0; i < 8; i++ {
		var err error
		rec, err = b.RecordFailure(ctx, blockPhone, EventType(fmt.Sprintf("e%d", i)), errors.New("x"))
		require.NoError(t, err)
	}
	require.Len(t, rec.RecentFailures, 5)
	assert.Equal(t, EventType("e3"), rec.RecentFailures[0].EventType)
	assert.Equal(t, EventType("e7"), rec.RecentFailures[4].EventType)
}

func TestBlocklistUnblock(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock(testBase)
	b := newTestBlocklist(clk)
	for _, et := range []EventType{"a", "b", "c"} {
		_, _ = b.RecordFailure(ctx, blockPhone, et, errors.New("x"))
	}
	listed, err := b.ListBlocked(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, b.Unblock(ctx, blockPhone))
	blocked, err := b.IsBlocked(ctx, blockPhone)
	require.NoError(t, err)
	assert.False(t, blocked)
	listed, err = b.ListBlocked(ctx)
	require.NoError(t, err)
	assert.Empty(t, listed)
}
