package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const schemaVersionKey = KeyPrefix + "schema:version"

type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, client *redis.Client) error
}

// Migrate applies every migration newer than the stored schema version.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	current, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, m := range migrations() {
		if m.Version <= current {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", m.Version, "description", m.Description)
		}
		if err := m.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if err := client.Set(ctx, schemaVersionKey, m.Version, 0).Err(); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
		current = m.Version
	}

	if logger != nil {
		logger.Debugw("redis schema up to date", "version", current)
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

func migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "initial key layout",
			Up: func(ctx context.Context, client *redis.Client) error {
				return nil
			},
		},
		{
			Version:     2,
			Description: "drop server registry members without a heartbeat key",
			Up: func(ctx context.Context, client *redis.Client) error {
				members, err := client.SMembers(ctx, serversKey).Result()
				if err != nil {
					return err
				}
				for _, id := range members {
					n, err := client.Exists(ctx, serverKey(id, "heartbeat")).Result()
					if err != nil {
						return err
					}
					if n == 0 {
						if err := client.SRem(ctx, serversKey, id).Err(); err != nil {
							return err
						}
					}
				}
				return nil
			},
		},
	}
}

const serversKey = KeyPrefix + "servers"

func serverKey(id, field string) string {
	return strings.Join([]string{KeyPrefix + "server", id, field}, ":")
}
