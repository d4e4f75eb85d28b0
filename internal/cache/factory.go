package cache

import (
	"context"
	"fmt"

	"github.com/darkden-lab/beacon/internal/config"
	"github.com/darkden-lab/beacon/internal/logging"
)

// Open creates the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.CacheConfig) (Store, error) {
	switch cfg.Driver {
	case "redis":
		logging.Info().Str("addr", cfg.RedisAddr).Int("db", cfg.RedisDB).Msg("cache: using redis")
		return NewRedisStore(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case "badger":
		logging.Info().Str("path", cfg.BadgerPath).Bool("in_memory", cfg.BadgerPath == "").Msg("cache: using badger")
		return NewBadgerStore(cfg.BadgerPath)
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}
