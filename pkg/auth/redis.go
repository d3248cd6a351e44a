package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// counterStore is the subset of the Redis API used by RedisLimiter.
type counterStore interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

// RedisLimiter shares fixed-window counters between replicas through
// Redis. Redis failures let the request through.
type RedisLimiter struct {
	store   counterStore
	closer  func() error
	limits  Limits
	prefix  string
	timeout time.Duration
}

// RedisConfig locates the Redis server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisLimiter connects to Redis and verifies the connection.
func NewRedisLimiter(ctx context.Context, cfg RedisConfig, limits Limits) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	l := newRedisLimiter(client, limits, cfg.Prefix)
	l.closer = client.Close
	return l, nil
}

func newRedisLimiter(store counterStore, limits Limits, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "tutorpilot:ratelimit"
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisLimiter{store: store, limits: limits, prefix: prefix, timeout: 250 * time.Millisecond}
}

// Allow increments the caller's counter for the current window.
func (l *RedisLimiter) Allow(ctx context.Context, id *Identity) error {
	tier := tierOf(id)
	rpm := l.limits.forTier(tier)
	if rpm <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	key := l.prefix + tier + ":" + id.Subject
	count, err := l.store.Incr(ctx, key).Result()
	if err != nil {
		slog.Error("redis rate limiter error", "op", "incr", "error", err)
		return nil
	}
	if count == 1 {
		if err := l.store.Expire(ctx, key, time.Minute).Err(); err != nil {
			slog.Error("redis rate limiter error", "op", "expire", "error", err)
		}
	}
	if int(count) <= rpm {
		return nil
	}

	ttl, err := l.store.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = time.Minute
	}
	return &LimitError{Tier: tier, Limit: rpm, RetryAfter: ttl}
}

// Close releases the Redis connection.
func (l *RedisLimiter) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer()
}
