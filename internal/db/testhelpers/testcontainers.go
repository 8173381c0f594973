// Package testhelpers starts disposable PostgreSQL containers for integration tests
package testhelpers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ajitpratap0/paramforge/internal/db"
)

// PostgresContainer holds the testcontainer instance and connection details
type PostgresContainer struct {
	Container     *postgres.PostgresContainer
	ConnectionStr string
	DB            *db.DB
	t             *testing.T
}

// SetupTestDatabase starts PostgreSQL, connects a pool and applies the schema.
// The container is terminated when the test ends.
func SetupTestDatabase(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("paramforge_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("Skipping integration test: failed to start PostgreSQL container: %v", err)
	}

	tc := &PostgresContainer{Container: container, t: t}
	t.Cleanup(tc.Cleanup)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}
	tc.ConnectionStr = connStr

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("Failed to parse connection string: %v", err)
	}
	config.MaxConns = 5
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		t.Fatalf("Failed to create connection pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("Failed to ping database: %v", err)
	}

	tc.DB = &db.DB{}
	tc.DB.SetPool(pool)

	if err := tc.DB.Runs().EnsureSchema(ctx); err != nil {
		t.Fatalf("Failed to apply schema: %v", err)
	}

	return tc
}

// Cleanup closes the pool and terminates the container
func (tc *PostgresContainer) Cleanup() {
	if tc.DB != nil {
		tc.DB.Close()
	}
	if tc.Container != nil {
		if err := tc.Container.Terminate(context.Background()); err != nil {
			tc.t.Logf("Failed to terminate container: %v", err)
		}
	}
}

// TruncateAllTables clears all data for test isolation
func (tc *PostgresContainer) TruncateAllTables() error {
	ctx := context.Background()
	for _, table := range []string{"evolution_generations", "evolution_runs", "candlesticks"} {
		if _, err := tc.DB.Pool().Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return nil
}
