package repositories

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/verawat1234/tchat-sub013/internal/infrastructure/repositories/memory"
	redisrepo "github.com/verawat1234/tchat-sub013/internal/infrastructure/repositories/redis"
	"github.com/verawat1234/tchat-sub013/pkg/config"
)

func TestFactory_MemoryDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	f, err := NewRepositoryFactory(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.IsType(t, &memory.MemorySharedState{}, f.CreateSharedState())
	assert.IsType(t, &memory.MemoryLease{}, f.CreateLease())
	assert.NotNil(t, f.MemoryIdentity())
	assert.Same(t, f.MemoryIdentity(), f.CreateIdentitySource())
	assert.NoError(t, f.HealthCheck(context.Background()))
}

func TestFactory_RedisFallback(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"

	f, err := NewRepositoryFactory(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.IsType(t, &memory.MemorySharedState{}, f.CreateSharedState())
}

func TestFactory_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = mr.Addr()

	f, err := NewRepositoryFactory(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.IsType(t, &redisrepo.RedisSharedState{}, f.CreateSharedState())
	assert.IsType(t, &redisrepo.RedisLease{}, f.CreateLease())
	assert.IsType(t, &redisrepo.RedisChatHistory{}, f.CreateChatHistory())
	assert.NoError(t, f.HealthCheck(context.Background()))
}
