package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/internal/core/ports"
)

type MemoryStreamRepository struct {
	streams map[domain.StreamID]*domain.Stream
	mu      sync.RWMutex
}

func NewMemoryStreamRepository() ports.StreamStore {
	return &MemoryStreamRepository{
		streams: make(map[domain.StreamID]*domain.Stream),
	}
}

func (r *MemoryStreamRepository) Save(ctx context.Context, stream *domain.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *stream
	r.streams[stream.ID] = &cp
	return nil
}

func (r *MemoryStreamRepository) Get(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stream, exists := r.streams[id]
	if !exists {
		return nil, domain.ErrStreamNotFound
	}

	cp := *stream
	return &cp, nil
}

func (r *MemoryStreamRepository) UpdateStatus(ctx context.Context, id domain.StreamID, status domain.StreamStatus, endedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream, exists := r.streams[id]
	if !exists {
		return domain.ErrStreamNotFound
	}

	stream.Status = status
	if endedAt != nil {
		t := *endedAt
		stream.EndedAt = &t
	}
	return nil
}

func (r *MemoryStreamRepository) ListLive(ctx context.Context) ([]*domain.Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var live []*domain.Stream
	for _, stream := range r.streams {
		if stream.IsLive() {
			cp := *stream
			live = append(live, &cp)
		}
	}

	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })
	return live, nil
}
