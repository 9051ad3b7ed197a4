package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySharedState_DecrFloor(t *testing.T) {
	s := NewMemorySharedState()
	ctx := context.Background()

	n, err := s.DecrFloor(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, _ = s.Incr(ctx, "v")
	n, err = s.IncrBy(ctx, "v", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for i := 0; i < 5; i++ {
		n, _ = s.DecrFloor(ctx, "v")
	}
	assert.Equal(t, int64(0), n)
}

func TestMemorySharedState_TTL(t *testing.T) {
	s := NewMemorySharedState()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Second))
	v, ok, _ := s.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(time.Second)
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemorySharedState_PubSub(t *testing.T) {
	s := NewMemorySharedState()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 4)
	go s.Subscribe(ctx, func(channel string, payload []byte) {
		got <- channel + ":" + string(payload)
	}, "a:*")

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.subs) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Publish(ctx, "b:1", []byte("ignored")))
	require.NoError(t, s.Publish(ctx, "a:1", []byte("x")))

	select {
	case msg := <-got:
		assert.Equal(t, "a:1:x", msg)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestMemoryLease(t *testing.T) {
	lease := NewMemoryLease(NewMemorySharedState())
	ctx := context.Background()

	release, ok, err := lease.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = lease.TryAcquire(ctx, "k", time.Minute)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
	_, ok, _ = lease.TryAcquire(ctx, "k", time.Minute)
	assert.True(t, ok)
}
