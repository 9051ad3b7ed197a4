package reliability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/verawat1234/tchat-sub013/internal/core/ports"
	"github.com/verawat1234/tchat-sub013/pkg/circuitbreaker"
	"github.com/verawat1234/tchat-sub013/pkg/retry"
)

// StorageWrapper wraps an ObjectStorage with per-object retry and a circuit
// breaker shared by all calls.
type StorageWrapper struct {
	storage ports.ObjectStorage
	logger  *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

func NewStorageWrapper(
	storage ports.ObjectStorage,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *StorageWrapper {
	// an open breaker will not close within one retry loop
	retryConfig.NonRetryableErrors = append(retryConfig.NonRetryableErrors, circuitbreaker.ErrOpen)

	w := &StorageWrapper{
		storage:        storage,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}
	w.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("object storage circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})
	return w
}

// Put uploads one object. Bodies that implement io.Seeker are rewound
// between attempts; any other body is tried once.
func (w *StorageWrapper) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, expires time.Time) error {
	seeker, rewindable := body.(io.Seeker)

	attempt := 0
	return retry.Retry(ctx, w.retryConfig, func() error {
		attempt++
		if attempt > 1 {
			if !rewindable {
				return retry.Permanent(errors.New("object body cannot be rewound for retry"))
			}
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return retry.Permanent(fmt.Errorf("rewind body: %w", err))
			}
			w.logger.Debugw("retrying object upload", "key", key, "attempt", attempt)
		}
		return w.circuitBreaker.Execute(ctx, func() error {
			return w.storage.Put(ctx, key, body, size, contentType, expires)
		})
	})
}

func (w *StorageWrapper) Delete(ctx context.Context, key string) error {
	return retry.Retry(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, func() error {
			return w.storage.Delete(ctx, key)
		})
	})
}

func (w *StorageWrapper) PublicURL(key string) string {
	return w.storage.PublicURL(key)
}

// BreakerState reports the breaker state for health checks.
func (w *StorageWrapper) BreakerState() circuitbreaker.State {
	return w.circuitBreaker.GetState()
}
