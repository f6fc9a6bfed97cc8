package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// slidingWindowScript prunes, counts and admits in one round trip. Scores are
// unix milliseconds. Returns {1, 0} when admitted, {0, wait_ms} otherwise.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
if count < max then
	redis.call("ZADD", key, now, ARGV[4])
	redis.call("PEXPIRE", key, window)
	return {1, 0}
end
local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
return {0, tonumber(oldest[2]) + window - now}
`)

// RedisLimiter is the multi-process Limiter. Each recipient owns a sorted set
// of admitted send times.
type RedisLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
	now    func() time.Time
	tracer trace.Tracer
}

func NewRedisLimiter(client *redis.Client, max int, window time.Duration) *RedisLimiter {
	if client == nil {
		panic("notify: redis client required")
	}
	if max <= 0 {
		max = defaultRateLimitMax
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &RedisLimiter{
		client: client,
		max:    max,
		window: window,
		now:    time.Now,
		tracer: otel.Tracer("dental.internal.notify.ratelimit"),
	}
}

func (l *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	if now != nil {
		l.now = now
	}
	return l
}

func (l *RedisLimiter) Allow(ctx context.Context, recipient string) (bool, time.Duration, error) {
	ctx, span := l.tracer.Start(ctx, "ratelimit.allow")
	defer span.End()

	nowMS := l.now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{rateLimitKey(recipient)},
		nowMS, l.window.Milliseconds(), l.max, fmt.Sprintf("%d-%s", nowMS, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		span.RecordError(err)
		return false, 0, fmt.Errorf("notify: rate limit check: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("notify: rate limit check: unexpected reply %v", res)
	}
	allowed := res[0] == 1
	span.SetAttributes(attribute.Bool("ratelimit.allowed", allowed))
	if allowed {
		return true, 0, nil
	}
	return false, time.Duration(res[1]) * time.Millisecond, nil
}

func rateLimitKey(recipient string) string {
	return "ratelimit:" + recipient
}
