package reliability

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/verawat1234/tchat-sub013/internal/core/ports"
	"github.com/verawat1234/tchat-sub013/pkg/circuitbreaker"
	"github.com/verawat1234/tchat-sub013/pkg/retry"
)

var _ ports.ObjectStorage = (*StorageWrapper)(nil)

var errUnavailable = errors.New("503 slow down")

// flakyStorage fails the first failures calls and records every body it
// was able to read in full.
type flakyStorage struct {
	mu       sync.Mutex
	failures int
	calls    int
	bodies   []string
	deleted  []string
}

func (s *flakyStorage) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, expires time.Time) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.bodies = append(s.bodies, string(data))
	if s.calls <= s.failures {
		return errUnavailable
	}
	return nil
}

func (s *flakyStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errUnavailable
	}
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *flakyStorage) PublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func testRetryConfig() retry.Config {
	return retry.Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestStorageWrapper_PutRewindsBetweenAttempts(t *testing.T) {
	inner := &flakyStorage{failures: 2}
	w := NewStorageWrapper(inner, testRetryConfig(), circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())

	err := w.Put(context.Background(), "recordings/s1/seg_00001.ts", bytes.NewReader([]byte("segment")), 7, "video/mp2t", time.Time{})
	require.NoError(t, err)

	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, []string{"segment", "segment", "segment"}, inner.bodies)
}

func TestStorageWrapper_PutGivesUp(t *testing.T) {
	inner := &flakyStorage{failures: 10}
	w := NewStorageWrapper(inner, testRetryConfig(), circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())

	err := w.Put(context.Background(), "k", bytes.NewReader([]byte("x")), 1, "", time.Time{})
	assert.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, 3, inner.calls)
}

func TestStorageWrapper_UnseekableBodyIsTriedOnce(t *testing.T) {
	inner := &flakyStorage{failures: 1}
	w := NewStorageWrapper(inner, testRetryConfig(), circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())

	err := w.Put(context.Background(), "k", io.NopCloser(strings.NewReader("x")), 1, "", time.Time{})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestStorageWrapper_OpenBreakerFailsFast(t *testing.T) {
	inner := &flakyStorage{failures: 100}
	cb := circuitbreaker.Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour, MaxRequestsHalfOpen: 1}
	w := NewStorageWrapper(inner, testRetryConfig(), cb, zaptest.NewLogger(t).Sugar())

	_ = w.Delete(context.Background(), "a")
	require.Equal(t, circuitbreaker.StateOpen, w.BreakerState())
	calls := inner.calls

	err := w.Delete(context.Background(), "b")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, calls, inner.calls)
}

func TestStorageWrapper_DeleteAndPublicURL(t *testing.T) {
	inner := &flakyStorage{failures: 1}
	w := NewStorageWrapper(inner, testRetryConfig(), circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())

	require.NoError(t, w.Delete(context.Background(), "recordings/s1/index.m3u8"))
	assert.Equal(t, []string{"recordings/s1/index.m3u8"}, inner.deleted)
	assert.Equal(t, "https://cdn.example.com/x", w.PublicURL("x"))
}
