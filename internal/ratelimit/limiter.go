package ratelimit

import (
	"context"
	"time"
)

// RateLimiter enforces a trailing sliding window of attempts per key.
type RateLimiter interface {
	// CheckAndConsume records an attempt and returns true when fewer than
	// maxCount attempts fall inside the window ending now. A denied call
	// consumes nothing.
	CheckAndConsume(ctx context.Context, key string, maxCount int, window time.Duration) (bool, error)
}
