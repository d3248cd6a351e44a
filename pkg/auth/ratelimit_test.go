package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func TestInProcessLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewInProcessLimiter(Limits{Default: 2, Tiers: map[string]int{"premium": 3, "internal": 0}})
	l.nowFn = func() time.Time { return now }
	ctx := context.Background()

	alice := &Identity{Subject: "alice"}
	for i := range 2 {
		if err := l.Allow(ctx, alice); err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
	}

	now = now.Add(20 * time.Second)
	err := l.Allow(ctx, alice)
	if !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("third request err = %v, want ErrTooManyRequests", err)
	}
	var limited *LimitError
	if !errors.As(err, &limited) || limited.RetryAfter != 40*time.Second || limited.Tier != "default" {
		t.Errorf("LimitError = %+v", limited)
	}

	// Other subjects have their own window.
	if err := l.Allow(ctx, &Identity{Subject: "bob"}); err != nil {
		t.Errorf("bob: %v", err)
	}

	now = now.Add(40 * time.Second)
	if err := l.Allow(ctx, alice); err != nil {
		t.Errorf("after window reset: %v", err)
	}

	premium := &Identity{Subject: "carol", Tier: "premium"}
	for i := range 3 {
		if err := l.Allow(ctx, premium); err != nil {
			t.Fatalf("premium request %d: %v", i+1, err)
		}
	}
	if err := l.Allow(ctx, premium); err == nil {
		t.Error("premium fourth request should be limited")
	}

	internal := &Identity{Subject: "svc", Tier: "internal"}
	for range 10 {
		if err := l.Allow(ctx, internal); err != nil {
			t.Fatalf("unlimited tier limited: %v", err)
		}
	}
}

type fakeCounters struct {
	counts  map[string]int64
	expires map[string]time.Duration
	ttl     time.Duration
	incrErr error
}

func newFakeCounters() *fakeCounters {
	return &fakeCounters{counts: map[string]int64{}, expires: map[string]time.Duration{}, ttl: 30 * time.Second}
}

func (f *fakeCounters) Incr(ctx context.Context, key string) *redis.IntCmd {
	if f.incrErr != nil {
		return redis.NewIntResult(0, f.incrErr)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeCounters) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.expires[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeCounters) TTL(ctx context.Context, key string) *redis.DurationCmd {
	return redis.NewDurationResult(f.ttl, nil)
}

func TestRedisLimiter(t *testing.T) {
	store := newFakeCounters()
	l := newRedisLimiter(store, Limits{Default: 2}, "")
	ctx := context.Background()
	id := &Identity{Subject: "alice"}

	for i := range 2 {
		if err := l.Allow(ctx, id); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	err := l.Allow(ctx, id)
	var limited *LimitError
	if !errors.As(err, &limited) {
		t.Fatalf("err = %v, want LimitError", err)
	}
	if limited.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", limited.RetryAfter)
	}

	key := "tutorpilot:ratelimit:default:alice"
	if store.counts[key] != 3 {
		t.Errorf("count = %d, want 3", store.counts[key])
	}
	if store.expires[key] != time.Minute {
		t.Errorf("expire = %v, want 1m", store.expires[key])
	}
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	store := newFakeCounters()
	store.incrErr = errors.New("connection refused")
	l := newRedisLimiter(store, Limits{Default: 1}, "test:")

	for range 5 {
		if err := l.Allow(context.Background(), &Identity{Subject: "alice"}); err != nil {
			t.Fatalf("Allow() = %v, want nil when redis is down", err)
		}
	}
}

func TestRedisLimiterCloseWithoutClient(t *testing.T) {
	l := newRedisLimiter(newFakeCounters(), Limits{}, "")
	if err := l.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
