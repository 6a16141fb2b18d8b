package service

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"nft-market-sync/internal/config"
	chstore "nft-market-sync/internal/storage/clickhouse"
	"nft-market-sync/internal/storage/memory"
	"nft-market-sync/internal/storage/migrations"
	pgstore "nft-market-sync/internal/storage/postgres"
	redisstore "nft-market-sync/internal/storage/redis"
)

// OpenBackends connects the configured stores and applies migrations.
//
// The cache lives in memory, PostgreSQL or Redis per cache.backend. Mutations
// are tracked in PostgreSQL whenever a DSN is configured, refresh runs in
// ClickHouse whenever analytics.clickhouse_dsn is set; otherwise both stay in
// memory. useMemory forces every store into memory.
func OpenBackends(ctx context.Context, cfg *config.Config, useMemory bool, logger *zap.Logger) (Backends, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := Backends{
		Cache:     memory.NewCacheEntryStore(),
		Runs:      memory.NewRefreshRunStore(),
		Mutations: memory.NewMutationStore(),
	}
	if useMemory {
		logger.Info("using in-memory storage")
		return b, func() {}, nil
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Cache.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Cache.PostgresDSN)
		if err != nil {
			return Backends{}, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return Backends{}, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		b.Mutations = pgstore.NewMutationStore(pool)
		if cfg.Cache.Backend == config.BackendPostgres {
			b.Cache = pgstore.NewCacheEntryStore(pool)
		}
		logger.Info("postgres connected")
	}

	if cfg.Cache.Backend == config.BackendRedis {
		client, err := redisstore.NewClient(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPass, cfg.Cache.RedisDB)
		if err != nil {
			cleanup()
			return Backends{}, nil, fmt.Errorf("connect to redis: %w", err)
		}
		closers = append(closers, closeRedis(client, logger))
		b.Cache = redisstore.NewCacheEntryStore(client, redisstore.DefaultKeyPrefix)
		logger.Info("redis connected", zap.String("addr", cfg.Cache.RedisAddr))
	}

	if cfg.Analytics.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Analytics.ClickhouseDSN)
		if err != nil {
			cleanup()
			return Backends{}, nil, fmt.Errorf("clickhouse: %w", err)
		}
		closers = append(closers, closeClickhouse(conn, logger))
		b.Runs = chstore.NewRefreshRunStore(conn)
		logger.Info("clickhouse connected")
	}

	logger.Info("storage ready", zap.String("cache_backend", cfg.Cache.Backend))
	return b, cleanup, nil
}

func closeRedis(client *goredis.Client, logger *zap.Logger) func() {
	return func() {
		if err := client.Close(); err != nil {
			logger.Warn("close redis", zap.Error(err))
		}
	}
}

func closeClickhouse(conn *chstore.Conn, logger *zap.Logger) func() {
	return func() {
		if err := conn.Close(); err != nil {
			logger.Warn("close clickhouse", zap.Error(err))
		}
	}
}
