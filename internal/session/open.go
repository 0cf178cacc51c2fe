package session

import (
	"context"
	"fmt"

	"github.com/loLollipop/refresh-token-got-it/internal/config"
	log "github.com/sirupsen/logrus"
)

// Open builds the store selected by cfg.Store.
func Open(ctx context.Context, cfg config.SessionConfig) (Store, error) {
	switch cfg.Store {
	case "", config.SessionStoreMemory:
		log.Debug("session store: memory")
		return NewMemoryStore(), nil
	case config.SessionStoreRedis:
		log.Debugf("session store: redis at %s", cfg.Redis.Addr)
		store, err := NewRedisStore(ctx, RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.SessionStorePostgres:
		log.Debug("session store: postgres")
		store, err := NewPostgresStore(ctx, PostgresOptions{
			DSN:    cfg.Postgres.DSN,
			Schema: cfg.Postgres.Schema,
			Table:  cfg.Postgres.Table,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported session store %q", cfg.Store)
	}
}
