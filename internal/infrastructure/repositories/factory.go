package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/verawat1234/tchat-sub013/internal/core/ports"
	"github.com/verawat1234/tchat-sub013/internal/infrastructure/repositories/memory"
	pgrepo "github.com/verawat1234/tchat-sub013/internal/infrastructure/repositories/postgres"
	redisrepo "github.com/verawat1234/tchat-sub013/internal/infrastructure/repositories/redis"
	"github.com/verawat1234/tchat-sub013/pkg/config"
)

const chatHistoryLimit = 5000

// RepositoryFactory picks Postgres, Redis or in-memory backends from config
// and falls back to memory when a backend cannot be reached.
type RepositoryFactory struct {
	redisClient *redis.Client
	pgPool      *pgxpool.Pool
	memState    *memory.MemorySharedState
	memIdentity *memory.MemoryIdentitySource
	chatTTL     time.Duration
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		chatTTL: cfg.Recording.Retention,
		logger:  logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx,
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to in-process shared state",
				"error", err,
			)
		} else {
			factory.redisClient = client
		}
	}

	if cfg.Postgres.Enabled {
		pool, err := pgrepo.Open(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, logger)
		if err != nil {
			logger.Warnw("failed to connect to Postgres, falling back to memory stores",
				"error", err,
			)
		} else {
			factory.pgPool = pool
		}
	}

	if factory.redisClient == nil {
		factory.memState = memory.NewMemorySharedState()
		logger.Info("using in-process shared state; cluster coordination is single-node")
	}

	return factory, nil
}

func (f *RepositoryFactory) CreateStreamStore() ports.StreamStore {
	switch {
	case f.pgPool != nil:
		return pgrepo.NewPostgresStreamRepository(f.pgPool)
	case f.redisClient != nil:
		return redisrepo.NewRedisStreamRepository(f.redisClient)
	default:
		return memory.NewMemoryStreamRepository()
	}
}

func (f *RepositoryFactory) CreateIdentitySource() ports.IdentitySource {
	if f.pgPool != nil {
		return pgrepo.NewPostgresIdentitySource(f.pgPool)
	}
	if f.memIdentity == nil {
		f.memIdentity = memory.NewMemoryIdentitySource()
	}
	return f.memIdentity
}

// MemoryIdentity exposes the in-memory identity source for seeding, or nil
// when identity comes from Postgres.
func (f *RepositoryFactory) MemoryIdentity() *memory.MemoryIdentitySource {
	if f.pgPool != nil {
		return nil
	}
	f.CreateIdentitySource()
	return f.memIdentity
}

func (f *RepositoryFactory) CreateChatHistory() ports.ChatHistory {
	if f.redisClient != nil {
		return redisrepo.NewRedisChatHistory(f.redisClient, f.chatTTL)
	}
	return memory.NewMemoryChatHistory(chatHistoryLimit)
}

func (f *RepositoryFactory) CreateSharedState() ports.SharedState {
	if f.redisClient != nil {
		return redisrepo.NewRedisSharedState(f.redisClient, f.logger)
	}
	return f.memState
}

func (f *RepositoryFactory) CreateLease() ports.Lease {
	if f.redisClient != nil {
		return redisrepo.NewRedisLease(f.redisClient)
	}
	return memory.NewMemoryLease(f.memState)
}

func (f *RepositoryFactory) Close() error {
	if f.pgPool != nil {
		f.pgPool.Close()
		f.pgPool = nil
	}
	if f.redisClient != nil {
		err := redisrepo.CloseRedisClient(f.redisClient)
		f.redisClient = nil
		return err
	}
	return nil
}

func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		if err := f.redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	if f.pgPool != nil {
		if err := f.pgPool.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}
