package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sergeeey/TERAG111-sub002/internal/storage/clickhouse"
	"github.com/sergeeey/TERAG111-sub002/internal/storage/dual"
	"github.com/sergeeey/TERAG111-sub002/internal/storage/memory"
	"github.com/sergeeey/TERAG111-sub002/internal/storage/sqlite"
)

// Supported backends.
const (
	BackendMemory     = "memory"
	BackendSQLite     = "sqlite"
	BackendClickHouse = "clickhouse"
	BackendDual       = "dual"
)

// Config holds storage configuration.
type Config struct {
	// Backend selects the storage backend: "memory", "sqlite", "clickhouse"
	// or "dual" (sqlite primary, clickhouse secondary).
	Backend string

	// SQLite-specific config
	SQLitePath string

	// ClickHouseAddr is host:port or a clickhouse:// DSN.
	ClickHouseAddr string
}

// DefaultConfig returns default storage configuration.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendSQLite,
		SQLitePath:     "data/graphopt.db",
		ClickHouseAddr: "localhost:9000",
	}
}

// NewStorage creates a storage implementation based on configuration.
func NewStorage(ctx context.Context, cfg Config, logger *slog.Logger) (Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case BackendMemory:
		logger.Info("using in-memory storage")
		return memory.New(), nil

	case BackendSQLite:
		logger.Info("using SQLite storage", "path", cfg.SQLitePath)
		store, err := sqlite.New(sqlite.DefaultConfig(cfg.SQLitePath))
		if err != nil {
			return nil, fmt.Errorf("creating SQLite store: %w", err)
		}
		return store, nil

	case BackendClickHouse:
		logger.Info("using ClickHouse storage", "addr", cfg.ClickHouseAddr)
		return newClickHouse(ctx, cfg, logger)

	case BackendDual:
		logger.Info("using dual storage", "primary", cfg.SQLitePath, "secondary", cfg.ClickHouseAddr)
		primary, err := sqlite.New(sqlite.DefaultConfig(cfg.SQLitePath))
		if err != nil {
			return nil, fmt.Errorf("creating SQLite store: %w", err)
		}
		secondary, err := newClickHouse(ctx, cfg, logger)
		if err != nil {
			primary.Close()
			return nil, err
		}
		return dual.New(dual.Config{
			Primary:   primary,
			Secondary: secondary,
			Logger:    logger,
		}), nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: memory, sqlite, clickhouse, dual)", cfg.Backend)
	}
}

func newClickHouse(ctx context.Context, cfg Config, logger *slog.Logger) (Storage, error) {
	chCfg := clickhouse.DefaultConfig()
	chCfg.Addr = cfg.ClickHouseAddr

	store, err := clickhouse.NewStore(ctx, chCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating ClickHouse store: %w", err)
	}
	return store, nil
}
