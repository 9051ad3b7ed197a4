package ports

import (
	"context"
	"io"
	"time"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

type StreamStore interface {
	Save(ctx context.Context, stream *domain.Stream) error
	Get(ctx context.Context, id domain.StreamID) (*domain.Stream, error)
	UpdateStatus(ctx context.Context, id domain.StreamID, status domain.StreamStatus, endedAt *time.Time) error
	ListLive(ctx context.Context) ([]*domain.Stream, error)
}

type IdentitySource interface {
	GetVerification(ctx context.Context, userID domain.UserID) (*domain.Verification, error)
}

type ChatHistory interface {
	Append(ctx context.Context, msg domain.ChatMessage) error
	Range(ctx context.Context, streamID domain.StreamID, from, to time.Time) ([]domain.ChatMessage, error)
}

// SharedState is the cluster-wide key/value, set and pub/sub surface used
// for viewer counts and server load.
type SharedState interface {
	Incr(ctx context.Context, key string) (int64, error)
	// DecrFloor decrements key and clamps the stored value at zero.
	DecrFloor(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	SetAdd(ctx context.Context, set, member string) error
	SetRemove(ctx context.Context, set, member string) error
	SetMembers(ctx context.Context, set string) ([]string, error)
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe blocks delivering messages to handler until ctx is done.
	// Patterns use glob syntax, e.g. "stream:*:events".
	Subscribe(ctx context.Context, handler func(channel string, payload []byte), patterns ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// Lease grants time-bounded exclusive ownership of a key across nodes.
type Lease interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

type ObjectStorage interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, expires time.Time) error
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}
