package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

var _ RateLimiter = (*MemoryLimiter)(nil)

// MemoryLimiter keeps attempt timestamps in process memory. It suits
// single-process deployments and tests. Keys whose window has emptied are
// swept out so one-off keys do not accumulate.
type MemoryLimiter struct {
	mu        sync.Mutex
	attempts  map[string]*attemptLog
	lastSweep time.Time
	now       func() time.Time
}

type attemptLog struct {
	times  []time.Time
	window time.Duration
}

func (a *attemptLog) expired(now time.Time) bool {
	return len(a.times) == 0 || !a.times[len(a.times)-1].After(now.Add(-a.window))
}

func NewMemoryLimiter() *MemoryLimiter {
	return newMemoryLimiter(time.Now)
}

func newMemoryLimiter(nowFn func() time.Time) *MemoryLimiter {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &MemoryLimiter{
		attempts: make(map[string]*attemptLog),
		now:      nowFn,
	}
}

func (l *MemoryLimiter) CheckAndConsume(ctx context.Context, key string, maxCount int, window time.Duration) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, fmt.Errorf("rate limit key is required")
	}
	if maxCount <= 0 || window <= 0 {
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now, window)

	entry, ok := l.attempts[key]
	if !ok {
		entry = &attemptLog{}
		l.attempts[key] = entry
	}
	entry.window = window

	cutoff := now.Add(-window)
	kept := entry.times[:0]
	for _, at := range entry.times {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	if len(kept) >= maxCount {
		entry.times = kept
		return false, nil
	}

	entry.times = append(kept, now)
	return true, nil
}

// sweep drops expired keys at most once per window. Caller holds l.mu.
func (l *MemoryLimiter) sweep(now time.Time, window time.Duration) {
	if now.Sub(l.lastSweep) < window {
		return
	}
	l.lastSweep = now
	for key, entry := range l.attempts {
		if entry.expired(now) {
			delete(l.attempts, key)
		}
	}
}

// Len reports how many keys are currently tracked.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attempts)
}
