package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/internal/core/ports"
)

type RedisStreamRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisStreamRepository(client *redis.Client) ports.StreamStore {
	return &RedisStreamRepository{
		client: client,
		prefix: KeyPrefix + "stream:",
	}
}

func (r *RedisStreamRepository) streamKey(id domain.StreamID) string {
	return r.prefix + string(id) + ":meta"
}

func (r *RedisStreamRepository) liveKey() string {
	return r.prefix + "live"
}

func (r *RedisStreamRepository) Save(ctx context.Context, stream *domain.Stream) error {
	data, err := json.Marshal(stream)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.streamKey(stream.ID), data, 0)
	if stream.IsLive() {
		pipe.SAdd(ctx, r.liveKey(), string(stream.ID))
	} else {
		pipe.SRem(ctx, r.liveKey(), string(stream.ID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save stream in Redis: %w", err)
	}
	return nil
}

func (r *RedisStreamRepository) Get(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	data, err := r.client.Get(ctx, r.streamKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream from Redis: %w", err)
	}

	var stream domain.Stream
	if err := json.Unmarshal([]byte(data), &stream); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stream: %w", err)
	}
	return &stream, nil
}

func (r *RedisStreamRepository) UpdateStatus(ctx context.Context, id domain.StreamID, status domain.StreamStatus, endedAt *time.Time) error {
	stream, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	stream.Status = status
	if endedAt != nil {
		t := *endedAt
		stream.EndedAt = &t
	}
	return r.Save(ctx, stream)
}

func (r *RedisStreamRepository) ListLive(ctx context.Context) ([]*domain.Stream, error) {
	ids, err := r.client.SMembers(ctx, r.liveKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list live streams: %w", err)
	}
	sort.Strings(ids)

	var live []*domain.Stream
	for _, id := range ids {
		stream, err := r.Get(ctx, domain.StreamID(id))
		if errors.Is(err, domain.ErrStreamNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if stream.IsLive() {
			live = append(live, stream)
		}
	}
	return live, nil
}
