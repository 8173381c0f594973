// Package db persists optimization runs and serves historical candles from PostgreSQL
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/paramforge/internal/config"
)

// PoolInterface is the subset of pgxpool.Pool used by the repositories.
// pgxmock.PgxPoolIface satisfies it in tests.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// DB wraps the PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool from a DSN or URL.
// pool_max_conns in the DSN sets the pool size.
func New(ctx context.Context, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is empty")
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Int32("max_conns", poolConfig.MaxConns).
		Msg("Database connection pool created successfully")

	return &DB{pool: pool}, nil
}

// NewFromConfig connects using the database section of the application config
func NewFromConfig(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	return New(ctx, cfg.GetDSN())
}

// SetPool replaces the underlying pool (used by test helpers)
func (db *DB) SetPool(pool *pgxpool.Pool) {
	db.pool = pool
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
		log.Info().Msg("Database connection pool closed")
	}
}

// Pool returns the underlying connection pool
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Health checks database connectivity
func (db *DB) Health(ctx context.Context) error {
	if db.pool == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	return db.pool.Ping(ctx)
}

// Runs returns a run store backed by this pool
func (db *DB) Runs() *RunStore {
	return NewRunStore(db.pool)
}

// Candles returns a candle repository backed by this pool
func (db *DB) Candles() *CandleRepository {
	return NewCandleRepository(db.pool)
}
