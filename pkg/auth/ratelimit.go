package auth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter decides whether a caller may make another request.
// Allow returns nil or an error wrapping ErrTooManyRequests.
type RateLimiter interface {
	Allow(ctx context.Context, id *Identity) error
}

// LimitError is returned when a caller exceeded its tier's limit.
type LimitError struct {
	Tier       string
	Limit      int
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %d requests per minute for tier %q", ErrTooManyRequests, e.Limit, e.Tier)
}

func (e *LimitError) Unwrap() error { return ErrTooManyRequests }

// Limits maps tiers to requests per minute. Tiers without an entry use
// Default; a limit of zero or less disables limiting.
type Limits struct {
	Default int
	Tiers   map[string]int
}

func (l Limits) forTier(tier string) int {
	if rpm, ok := l.Tiers[tier]; ok {
		return rpm
	}
	return l.Default
}

func tierOf(id *Identity) string {
	if id.Tier == "" {
		return "default"
	}
	return id.Tier
}

// InProcessLimiter counts requests per subject in fixed one-minute windows.
// Counts are local to the process.
type InProcessLimiter struct {
	limits Limits
	nowFn  func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	startAt time.Time
}

// NewInProcessLimiter creates an in-memory limiter.
func NewInProcessLimiter(limits Limits) *InProcessLimiter {
	return &InProcessLimiter{limits: limits, nowFn: time.Now, windows: make(map[string]*window)}
}

// Allow counts the request against the caller's current window.
func (l *InProcessLimiter) Allow(_ context.Context, id *Identity) error {
	tier := tierOf(id)
	rpm := l.limits.forTier(tier)
	if rpm <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	key := tier + ":" + id.Subject
	w, ok := l.windows[key]
	if !ok || now.Sub(w.startAt) >= time.Minute {
		l.windows[key] = &window{count: 1, startAt: now}
		l.sweep(now)
		return nil
	}
	w.count++
	if w.count > rpm {
		return &LimitError{Tier: tier, Limit: rpm, RetryAfter: w.startAt.Add(time.Minute).Sub(now)}
	}
	return nil
}

// sweep drops expired windows once the map grows.
func (l *InProcessLimiter) sweep(now time.Time) {
	if len(l.windows) < 1024 {
		return
	}
	for k, w := range l.windows {
		if now.Sub(w.startAt) >= time.Minute {
			delete(l.windows, k)
		}
	}
}
