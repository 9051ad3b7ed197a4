package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), mr.Addr(), "", 0, 4, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestMigrate_SetsSchemaVersion(t *testing.T) {
	mr, client := newTestClient(t)

	v, err := mr.Get(schemaVersionKey)
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	// rerun is a no-op
	require.NoError(t, Migrate(context.Background(), client, nil))
}

func TestMigrate_DropsServersWithoutHeartbeat(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.SAdd(serversKey, "alive", "dead")
	mr.Set(serverKey("alive", "heartbeat"), "1")
	mr.Set(schemaVersionKey, "1")

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	require.NoError(t, Migrate(context.Background(), client, nil))

	members, err := mr.Members(serversKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"alive"}, members)
}

func TestSharedState_DecrFloor(t *testing.T) {
	_, client := newTestClient(t)
	s := NewRedisSharedState(client, nil)
	ctx := context.Background()

	n, err := s.DecrFloor(ctx, "live:stream:s1:viewers")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = s.Incr(ctx, "live:stream:s1:viewers")
	require.NoError(t, err)
	_, err = s.Incr(ctx, "live:stream:s1:viewers")
	require.NoError(t, err)

	n, err = s.DecrFloor(ctx, "live:stream:s1:viewers")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	for i := 0; i < 3; i++ {
		n, err = s.DecrFloor(ctx, "live:stream:s1:viewers")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(0), n)

	v, ok, err := s.Get(ctx, "live:stream:s1:viewers")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "0", v)
}

func TestSharedState_SetWithTTL(t *testing.T) {
	mr, client := newTestClient(t)
	s := NewRedisSharedState(client, nil)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSharedState_Sets(t *testing.T) {
	_, client := newTestClient(t)
	s := NewRedisSharedState(client, nil)
	ctx := context.Background()

	require.NoError(t, s.SetAdd(ctx, serversKey, "a"))
	require.NoError(t, s.SetAdd(ctx, serversKey, "b"))
	require.NoError(t, s.SetRemove(ctx, serversKey, "a"))

	members, err := s.SetMembers(ctx, serversKey)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b"}, members)
}

func TestSharedState_PublishSubscribe(t *testing.T) {
	_, client := newTestClient(t)
	s := NewRedisSharedState(client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan error, 1)
	go func() {
		done <- s.Subscribe(ctx, func(channel string, payload []byte) {
			mu.Lock()
			got = append(got, channel+"="+string(payload))
			mu.Unlock()
		}, "stream:*:events")
	}()

	require.Eventually(t, func() bool {
		n, err := client.PubSubNumPat(context.Background()).Result()
		return err == nil && n == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Publish(context.Background(), "server:a:health", []byte("ignored")))
	require.NoError(t, s.Publish(context.Background(), "stream:s1:events", []byte("join")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "stream:s1:events=join", got[0])

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestStreamRepository_LiveIndex(t *testing.T) {
	_, client := newTestClient(t)
	repo := NewRedisStreamRepository(client)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.Save(ctx, &domain.Stream{
		ID: "s1", Type: domain.StreamTypeStore, Status: domain.StreamStatusLive,
		BroadcasterID: "u1", StartedAt: &started,
	}))
	require.NoError(t, repo.Save(ctx, &domain.Stream{ID: "s2", Status: domain.StreamStatusScheduled}))

	live, err := repo.ListLive(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, domain.StreamID("s1"), live[0].ID)
	assert.True(t, started.Equal(*live[0].StartedAt))

	ended := started.Add(time.Hour)
	require.NoError(t, repo.UpdateStatus(ctx, "s1", domain.StreamStatusTerminated, &ended))

	live, err = repo.ListLive(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StreamStatusTerminated, got.Status)
	require.NotNil(t, got.EndedAt)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrStreamNotFound)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, "missing", domain.StreamStatusEnded, nil), domain.ErrStreamNotFound)
}

func TestChatHistory_RangeIsHalfOpen(t *testing.T) {
	_, client := newTestClient(t)
	h := NewRedisChatHistory(client, time.Hour)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000).UTC()
	for i, text := range []string{"a", "b", "c"} {
		require.NoError(t, h.Append(ctx, domain.ChatMessage{
			ID: text, StreamID: "s1", UserID: "u1", Text: text,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	msgs, err := h.Range(ctx, "s1", base, base.Add(2*time.Second))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Text)
	assert.Equal(t, "b", msgs[1].Text)
}

func TestLease_Exclusive(t *testing.T) {
	_, client := newTestClient(t)
	lease := NewRedisLease(client)
	ctx := context.Background()

	release, ok, err := lease.TryAcquire(ctx, "kyc:s1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lease.TryAcquire(ctx, "kyc:s1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
}
