package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/verawat1234/tchat-sub013/pkg/distributed"
)

// RedisLease grants leases through the shared distributed lock manager.
type RedisLease struct {
	locks *distributed.LockManager
}

func NewRedisLease(client *redis.Client) *RedisLease {
	return &RedisLease{locks: distributed.NewLockManager(client, KeyPrefix+"lease:")}
}

func (l *RedisLease) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	return l.locks.TryAcquire(ctx, key, ttl)
}
