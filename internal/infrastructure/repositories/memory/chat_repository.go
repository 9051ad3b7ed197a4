package memory

import (
	"context"
	"sync"
	"time"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

const defaultChatRetention = 10000

// MemoryChatHistory keeps the most recent chat messages of each stream.
type MemoryChatHistory struct {
	messages map[domain.StreamID][]domain.ChatMessage
	limit    int
	mu       sync.RWMutex
}

func NewMemoryChatHistory(limit int) *MemoryChatHistory {
	if limit <= 0 {
		limit = defaultChatRetention
	}
	return &MemoryChatHistory{
		messages: make(map[domain.StreamID][]domain.ChatMessage),
		limit:    limit,
	}
}

func (r *MemoryChatHistory) Append(ctx context.Context, msg domain.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := append(r.messages[msg.StreamID], msg)
	if len(msgs) > r.limit {
		msgs = msgs[len(msgs)-r.limit:]
	}
	r.messages[msg.StreamID] = msgs
	return nil
}

// Range returns messages with from <= timestamp < to in arrival order.
func (r *MemoryChatHistory) Range(ctx context.Context, streamID domain.StreamID, from, to time.Time) ([]domain.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.ChatMessage
	for _, m := range r.messages[streamID] {
		if m.Timestamp.Before(from) || !m.Timestamp.Before(to) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *MemoryChatHistory) Forget(streamID domain.StreamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, streamID)
}
