// Database migration CLI tool
// Applies the schema, reports its status and imports candle CSV files
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/paramforge/internal/backtest"
	"github.com/ajitpratap0/paramforge/internal/config"
	"github.com/ajitpratap0/paramforge/internal/db"
	"github.com/ajitpratap0/paramforge/migrations"
)

func main() {
	// Parse command line flags
	command := flag.String("command", "migrate", "Command to run: migrate, status or import")
	configPath := flag.String("config", "", "Path to config file (default: ./configs/config.yaml)")
	dbURL := flag.String("db", os.Getenv("DATABASE_URL"), "Database connection URL (overrides config)")
	files := flag.String("files", "", "Glob of candle CSV files to import")
	interval := flag.String("interval", "", "Candle interval of imported files (default: oracle.backtest.interval)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	dsn := *dbURL
	if dsn == "" {
		dsn = cfg.Database.GetDSN()
	}

	ctx := context.Background()

	switch *command {
	case "migrate", "status":
		err = runMigrator(ctx, dsn, *command)
	case "import":
		candleInterval := *interval
		if candleInterval == "" {
			candleInterval = cfg.Oracle.Backtest.Interval
		}
		err = importCandles(ctx, dsn, *files, candleInterval)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", *command)
		fmt.Fprintf(os.Stderr, "Usage: migrate -command=[migrate|status|import]\n")
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", *command, err)
		os.Exit(1)
	}
}

func runMigrator(ctx context.Context, dsn, command string) error {
	database, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close database connection: %v\n", err)
		}
	}()

	if err := database.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	migrator := db.NewMigrator(database, migrations.FS)

	if command == "migrate" {
		applied, err := migrator.Migrate(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("applied", applied).Msg("Migrations complete")
		return nil
	}

	status, err := migrator.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Migration Status:")
	fmt.Println("================")
	for _, s := range status {
		mark := "[ ]"
		if s.Applied {
			mark = "[x]"
		}
		fmt.Printf("%s %03d  %s\n", mark, s.Version, s.Description)
	}
	return nil
}

func importCandles(ctx context.Context, dsn, pattern, interval string) error {
	if pattern == "" {
		return fmt.Errorf("-files is required for import")
	}
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("invalid -files pattern: %w", err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no files match %s", pattern)
	}

	database, err := db.New(ctx, dsn)
	if err != nil {
		return err
	}
	defer database.Close()

	repo := database.Candles()
	start := time.Now()
	var total int64
	for _, path := range paths {
		candles, err := backtest.LoadCSV(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		n, err := repo.Insert(ctx, interval, candles)
		total += n
		if err != nil {
			return err
		}
		log.Info().
			Str("file", filepath.Base(path)).
			Int64("rows", n).
			Str("interval", interval).
			Msg("Imported candle file")
	}

	log.Info().
		Int("files", len(paths)).
		Int64("rows", total).
		Dur("duration", time.Since(start)).
		Msg("Import complete")
	return nil
}
