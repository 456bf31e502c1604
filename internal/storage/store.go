package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"price-advisor/internal/config"
)

// Open connects to the backend selected by cfg.Driver and prepares its schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Repository, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := NewStore(pool)
		if cfg.MigrationsPath != "" {
			if err := store.Migrate(ctx, cfg.MigrationsPath); err != nil {
				store.Close()
				return nil, err
			}
		}
		return store, nil
	case config.DriverSQLite, "":
		return OpenSQLite(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
