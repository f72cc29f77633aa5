package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestSlidingWindowLimiterCheckAndConsume(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newSlidingWindowLimiter(rdb, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newSlidingWindowLimiter() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		allowed, err := limiter.CheckAndConsume(context.Background(), "webhook:user-1:STAKE", 5, time.Minute)
		if err != nil {
			t.Fatalf("CheckAndConsume() error = %v", err)
		}
		if !allowed {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
		now = now.Add(100 * time.Millisecond)
	}

	allowed, err := limiter.CheckAndConsume(context.Background(), "webhook:user-1:STAKE", 5, time.Minute)
	if err != nil {
		t.Fatalf("CheckAndConsume() error = %v", err)
	}
	if allowed {
		t.Fatal("sixth attempt should be rejected")
	}

	now = now.Add(61 * time.Second)
	allowed, err = limiter.CheckAndConsume(context.Background(), "webhook:user-1:STAKE", 5, time.Minute)
	if err != nil {
		t.Fatalf("CheckAndConsume() error = %v", err)
	}
	if !allowed {
		t.Fatal("attempt after the window slides should be allowed")
	}
}

func TestSlidingWindowLimiterPerKey(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_100, 0)
	limiter, err := newSlidingWindowLimiter(rdb, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newSlidingWindowLimiter() error = %v", err)
	}

	allowed, err := limiter.CheckAndConsume(context.Background(), "email:user-1:STAKE", 1, time.Hour)
	if err != nil || !allowed {
		t.Fatalf("first email attempt = %v, %v; want allowed", allowed, err)
	}

	allowed, err = limiter.CheckAndConsume(context.Background(), "email:user-2:STAKE", 1, time.Hour)
	if err != nil || !allowed {
		t.Fatalf("other key = %v, %v; want allowed", allowed, err)
	}

	allowed, err = limiter.CheckAndConsume(context.Background(), "email:user-1:STAKE", 1, time.Hour)
	if err != nil {
		t.Fatalf("CheckAndConsume() error = %v", err)
	}
	if allowed {
		t.Fatal("second attempt for the same key should be rejected")
	}
}

func TestSlidingWindowLimiterConcurrentCallers(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	limiter, err := NewSlidingWindowLimiter(rdb)
	if err != nil {
		t.Fatalf("NewSlidingWindowLimiter() error = %v", err)
	}

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := limiter.CheckAndConsume(context.Background(), "webhook-registration:wh-1", 7, time.Minute)
			if err == nil && ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 7 {
		t.Fatalf("allowed = %d, want 7", got)
	}
}

func TestSlidingWindowLimiterRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := NewSlidingWindowLimiter(nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}
