package memory

import (
	"context"
	"sync"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

// MemoryIdentitySource keeps verification records in process. Useful for
// development and tests where no identity database is configured.
type MemoryIdentitySource struct {
	records map[domain.UserID]domain.Verification
	mu      sync.RWMutex
}

func NewMemoryIdentitySource() *MemoryIdentitySource {
	return &MemoryIdentitySource{
		records: make(map[domain.UserID]domain.Verification),
	}
}

func (r *MemoryIdentitySource) Put(v domain.Verification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[v.UserID] = v
}

func (r *MemoryIdentitySource) GetVerification(ctx context.Context, userID domain.UserID) (*domain.Verification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.records[userID]
	if !ok {
		return nil, domain.ErrVerificationAbsent
	}
	return &v, nil
}
