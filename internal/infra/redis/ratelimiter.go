package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/signal-notifier/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// Trims the window, counts, and records in one server-side step so two
// callers racing on the same key cannot both take the last slot.
var slidingWindowScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
if redis.call("ZCARD", KEYS[1]) >= limit then
  return 0
end
redis.call("ZADD", KEYS[1], now, ARGV[4])
redis.call("PEXPIRE", KEYS[1], window)
return 1
`)

var _ ratelimit.RateLimiter = (*SlidingWindowLimiter)(nil)

// SlidingWindowLimiter is a distributed sliding-window limiter backed by a
// Redis sorted set per key.
type SlidingWindowLimiter struct {
	client *goredis.Client
	now    func() time.Time
	member func() string
	script *goredis.Script
}

func NewSlidingWindowLimiter(client *goredis.Client) (*SlidingWindowLimiter, error) {
	return newSlidingWindowLimiter(client, time.Now)
}

func newSlidingWindowLimiter(client *goredis.Client, nowFn func() time.Time) (*SlidingWindowLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &SlidingWindowLimiter{
		client: client,
		now:    nowFn,
		member: uuid.NewString,
		script: slidingWindowScript,
	}, nil
}

func (l *SlidingWindowLimiter) CheckAndConsume(ctx context.Context, key string, maxCount int, window time.Duration) (bool, error) {
	if l == nil || l.client == nil || l.script == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("rate limit key is required")
	}
	if maxCount <= 0 || window <= 0 {
		return false, nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	result, err := l.script.Run(ctx, l.client,
		[]string{keyPrefix + key},
		l.now().UnixMilli(),
		window.Milliseconds(),
		maxCount,
		l.member(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}
