package dispatch

import (
	"context"
	"time"

	"github.com/pablodelmoral/gritoncall/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Limiter caps concurrent provider dispatches across processes.
// Acquire returns ok=false when no slot is free; release must be called after ok=true.
type Limiter interface {
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// NoopLimiter never throttles. Used when Redis is not configured.
type NoopLimiter struct{}

func (NoopLimiter) Acquire(ctx context.Context) (func(), bool, error) {
	return func() {}, true, nil
}

const dispatchSlotKey = "gritoncall:dispatch:inflight"

// RedisLimiter is a counter-based cap with a TTL so a crashed process cannot
// leak slots past ttl.
type RedisLimiter struct {
	rdb   *redis.Client
	key   string
	limit int
	ttl   time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, ttl time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, key: dispatchSlotKey, limit: limit, ttl: ttl}
}

func (l *RedisLimiter) Acquire(ctx context.Context) (func(), bool, error) {
	ok, err := utils.AcquireConcurrencyCap(ctx, l.rdb, l.key, l.limit, l.ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		// Release on a fresh context so a cancelled batch still frees its slot.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = utils.ReleaseConcurrencyCap(rctx, l.rdb, l.key)
	}
	return release, true, nil
}

// InFlight reports the slots currently held across all dispatchers.
func (l *RedisLimiter) InFlight(ctx context.Context) (int, error) {
	return utils.ConcurrencyInUse(ctx, l.rdb, l.key)
}
