package monitoring

import (
	"context"
	"time"

	"github.com/verawat1234/tchat-sub013/internal/core/ports"
)

func (h *HealthChecker) AddSharedStateCheck(state ports.SharedState, timeout time.Duration) {
	h.AddCheck("shared_state", state.Ping, timeout)
}

func (h *HealthChecker) AddStreamStoreCheck(streams ports.StreamStore, timeout time.Duration) {
	h.AddCheck("stream_store", func(ctx context.Context) error {
		_, err := streams.ListLive(ctx)
		return err
	}, timeout)
}
