package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MemoryLease grants leases backed by a MemorySharedState.
type MemoryLease struct {
	state *MemorySharedState
}

func NewMemoryLease(state *MemorySharedState) *MemoryLease {
	return &MemoryLease{state: state}
}

func (l *MemoryLease) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	if !l.state.SetNX("lease:"+key, token, ttl) {
		return nil, false, nil
	}
	return func(context.Context) error {
		l.state.DeleteIf("lease:"+key, token)
		return nil
	}, true, nil
}
