package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisConfig_Defaults(t *testing.T) {
	got := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if got.PoolSize != 20 || got.DialTimeout != 3*time.Second || got.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestAcquireConcurrencyCap_ValidatesArguments(t *testing.T) {
	ctx := context.Background()
	// Never dialled: every case fails validation first.
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	cases := []struct {
		name  string
		rdb   *redis.Client
		key   string
		limit int
		ttl   time.Duration
	}{
		{"nil client", nil, "k", 1, time.Second},
		{"empty key", rdb, "", 1, time.Second},
		{"zero limit", rdb, "k", 0, time.Second},
		{"zero ttl", rdb, "k", 1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := AcquireConcurrencyCap(ctx, tc.rdb, tc.key, tc.limit, tc.ttl)
			if err == nil || ok {
				t.Fatalf("expected validation error, got ok=%v err=%v", ok, err)
			}
		})
	}
	if err := ReleaseConcurrencyCap(ctx, nil, "k"); !errors.Is(err, ErrNilRedis) {
		t.Fatalf("expected ErrNilRedis, got %v", err)
	}
	if _, err := ConcurrencyInUse(ctx, rdb, ""); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
