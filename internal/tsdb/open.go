package tsdb

import (
	"context"
	"fmt"

	"orderbook-timetravel/internal/config"
)

// Open 按配置打开存储引擎
func Open(ctx context.Context, cfg *config.StorageConfig) (Store, error) {
	switch cfg.Engine {
	case config.EnginePebble, "":
		return OpenPebble(cfg.Path, cfg.SyncWrites)
	case config.EngineRedis:
		return OpenRedis(ctx, RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
	case config.EngineMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("未知存储引擎: %s", cfg.Engine)
	}
}
