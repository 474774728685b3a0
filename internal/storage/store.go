package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"flight-price-alerts/internal/calendar"
	"flight-price-alerts/internal/config"
)

// HistoryStore is the durable append-only price log.
type HistoryStore interface {
	// Append persists a record atomically and returns its id.
	Append(ctx context.Context, rec HistoryRecord) (RecordID, error)
	// BestOfDay returns the cheapest record observed on day, or nil when there is none.
	BestOfDay(ctx context.Context, day calendar.Day) (*HistoryRecord, error)
	// TopN returns the n cheapest records of all time, cheapest first.
	TopN(ctx context.Context, n int) ([]HistoryRecord, error)
}

// HistoryReader exposes range reads used by the CLI export.
type HistoryReader interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]HistoryRecord, error)
	Count(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend combines every capability a concrete store offers.
type Backend interface {
	HistoryStore
	HistoryReader
	Close() error
}

// Open selects and opens the configured backend. Day boundaries are evaluated in loc.
func Open(ctx context.Context, cfg config.DatabaseConfig, loc *time.Location, logger zerolog.Logger) (Backend, error) {
	if loc == nil {
		loc = time.UTC
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "postgres", "postgresql", "pgx":
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := NewPostgres(pool, loc)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		logger.Info().Str("driver", "postgres").Msg("history store ready")
		return store, nil
	case "sqlite", "sqlite3":
		store, err := OpenSQLite(ctx, cfg.Path, cfg.BusyTimeout, loc)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("driver", "sqlite").Str("path", cfg.Path).Msg("history store ready")
		return store, nil
	case "", "memory":
		logger.Warn().Msg("history store is in-memory; records are lost on restart")
		return NewMemory(loc), nil
	default:
		return nil, fmt.Errorf("unsupported database.driver %q", cfg.Driver)
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
