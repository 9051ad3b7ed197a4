package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

// RedisChatHistory keeps chat per stream in a sorted set scored by
// unix milliseconds.
type RedisChatHistory struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisChatHistory(client *redis.Client, ttl time.Duration) *RedisChatHistory {
	return &RedisChatHistory{client: client, ttl: ttl}
}

func chatKey(id domain.StreamID) string {
	return KeyPrefix + "stream:" + string(id) + ":chat"
}

func (h *RedisChatHistory) Append(ctx context.Context, msg domain.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	key := chatKey(msg.StreamID)
	pipe := h.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(msg.Timestamp.UnixMilli()), Member: data})
	if h.ttl > 0 {
		pipe.Expire(ctx, key, h.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Range returns messages with from <= Timestamp < to, oldest first.
func (h *RedisChatHistory) Range(ctx context.Context, streamID domain.StreamID, from, to time.Time) ([]domain.ChatMessage, error) {
	raw, err := h.client.ZRangeByScore(ctx, chatKey(streamID), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: "(" + strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read chat history: %w", err)
	}

	out := make([]domain.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}
