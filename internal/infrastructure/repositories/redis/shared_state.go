package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var decrFloorScript = redis.NewScript(`
local v = redis.call("decr", KEYS[1])
if v < 0 then
	redis.call("set", KEYS[1], 0, "KEEPTTL")
	return 0
end
return v
`)

// RedisSharedState implements ports.SharedState on a go-redis client.
type RedisSharedState struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

func NewRedisSharedState(client *redis.Client, logger *zap.SugaredLogger) *RedisSharedState {
	return &RedisSharedState{client: client, logger: logger}
}

func (s *RedisSharedState) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

func (s *RedisSharedState) DecrFloor(ctx context.Context, key string) (int64, error) {
	n, err := decrFloorScript.Run(ctx, s.client, []string{key}).Int64()
	if err != nil {
		return 0, fmt.Errorf("decr %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisSharedState) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return s.client.IncrBy(ctx, key, delta).Result()
}

func (s *RedisSharedState) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisSharedState) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisSharedState) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisSharedState) SetAdd(ctx context.Context, set, member string) error {
	return s.client.SAdd(ctx, set, member).Err()
}

func (s *RedisSharedState) SetRemove(ctx context.Context, set, member string) error {
	return s.client.SRem(ctx, set, member).Err()
}

func (s *RedisSharedState) SetMembers(ctx context.Context, set string) ([]string, error) {
	return s.client.SMembers(ctx, set).Result()
}

func (s *RedisSharedState) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

func (s *RedisSharedState) Subscribe(ctx context.Context, handler func(channel string, payload []byte), patterns ...string) error {
	pubsub := s.client.PSubscribe(ctx, patterns...)
	defer pubsub.Close()

	// wait for the subscription confirmation so no publish is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			handler(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (s *RedisSharedState) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSharedState) Close() error {
	return CloseRedisClient(s.client)
}
