// Parameter optimization CLI
// Evolves the parameters of one strategy against historical data and prints the best set found
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/paramforge/internal/config"
	"github.com/ajitpratap0/paramforge/internal/deps"
	"github.com/ajitpratap0/paramforge/internal/metrics"
	"github.com/ajitpratap0/paramforge/internal/validation"
	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

// ============================================================================
// CLI FLAGS
// ============================================================================

var (
	configPath = flag.String("config", "", "Path to config file (default: ./configs/config.yaml)")

	// Run
	strategyName = flag.String("strategy", "", "Strategy type to optimize (see -list)")
	symbols      = flag.String("symbols", "BTCUSDT", "Comma-separated evaluation universe")
	startDate    = flag.String("start", "", "Start date (YYYY-MM-DD), empty for the first available bar")
	endDate      = flag.String("end", "", "End date (YYYY-MM-DD, inclusive), empty for the last available bar")

	// Evolution overrides
	population  = flag.Int("population", 0, "Population size (overrides config)")
	generations = flag.Int("generations", 0, "Generation count (overrides config)")
	seed        = flag.Int64("seed", 0, "Random seed (overrides config, 0 keeps it)")

	// Output
	format     = flag.String("format", "text", "Output format: text or json")
	outputFile = flag.String("output", "", "Output file for the result (optional)")
	listOnly   = flag.Bool("list", false, "List strategies and their parameter domains, then exit")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

// ============================================================================
// MAIN
// ============================================================================

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level := cfg.App.LogLevel
	if *verbose {
		level = "debug"
	}
	// stdout carries the report
	config.InitLoggerWithConfig(config.LoggerConfig{Level: level, Format: cfg.App.LogFormat, Output: os.Stderr})

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("Optimization failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := deps.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	if *listOnly {
		return listDomains(d.Domains)
	}

	if *strategyName == "" {
		flag.Usage()
		return errors.New("-strategy flag is required")
	}

	evalCtx, err := evaluationContext(*symbols, *startDate, *endDate)
	if err != nil {
		return err
	}

	evoCfg := applyOverrides(cfg.Evolution.ToEvolutionConfig(), *population, *generations, *seed)
	if err := evoCfg.Validate(); err != nil {
		return err
	}

	if cfg.Monitoring.EnableMetrics {
		server := metrics.NewServer(cfg.Monitoring.PrometheusPort, log.Logger)
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	runID := uuid.New()
	optimizer := evolution.NewOptimizer(d.Domains, d.Oracle, evoCfg,
		evolution.WithRunID(runID),
		evolution.WithObservers(d.RunObservers()...),
		evolution.WithLogger(config.NewRunLogger("optimizer", runID.String(), *strategyName)),
	)

	done := metrics.RunStarted(*strategyName)
	result, err := optimizer.Evolve(ctx, *strategyName, evalCtx)
	if err != nil {
		status := metrics.RunStatusFailed
		if errors.Is(err, context.Canceled) {
			status = metrics.RunStatusCancelled
		}
		done(status)

		if d.Store != nil {
			markCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if markErr := d.Store.MarkStopped(markCtx, runID, err); markErr != nil {
				log.Debug().Err(markErr).Msg("Run was not persisted")
			}
		}
		return err
	}
	done(metrics.RunStatusCompleted)

	return writeResult(result)
}

// ============================================================================
// OUTPUT
// ============================================================================

func writeResult(result *evolution.Result) error {
	var out []byte
	switch *format {
	case "json":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		out = append(data, '\n')
	case "text":
		out = []byte(result.Summary())
	default:
		return fmt.Errorf("unknown output format %q (use text or json)", *format)
	}

	if _, err := os.Stdout.Write(out); err != nil {
		return err
	}

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, out, 0o600); err != nil {
			log.Warn().Err(err).Str("file", *outputFile).Msg("Failed to write output file")
		} else {
			log.Info().Str("file", *outputFile).Msg("Result written to file")
		}
	}
	return nil
}

func listDomains(table evolution.StaticDomainTable) error {
	for _, name := range table.Strategies() {
		pds, err := table.DomainsFor(name)
		if err != nil {
			return err
		}
		fmt.Println(name)
		for _, pd := range pds {
			lower, upper := pd.Domain.Bounds()
			fmt.Printf("  %-16s %-10s [%g, %g]\n", pd.Name, pd.Domain.Kind(), lower, upper)
		}
	}
	return nil
}

// ============================================================================
// UTILITIES
// ============================================================================

func evaluationContext(symbolList, start, end string) (evolution.EvaluationContext, error) {
	evalCtx := evolution.EvaluationContext{Universe: parseSymbols(symbolList)}
	v := validation.NewOptimizationRequestValidator()
	v.ValidateUniverse(evalCtx.Universe)
	if err := v.Err(); err != nil {
		return evalCtx, err
	}

	var err error
	if start != "" {
		if evalCtx.Start, err = time.Parse("2006-01-02", start); err != nil {
			return evalCtx, fmt.Errorf("invalid start date format (use YYYY-MM-DD): %w", err)
		}
	}
	if end != "" {
		if evalCtx.End, err = time.Parse("2006-01-02", end); err != nil {
			return evalCtx, fmt.Errorf("invalid end date format (use YYYY-MM-DD): %w", err)
		}
		evalCtx.End = evolution.EndOfDay(evalCtx.End)
	}

	return evalCtx, evalCtx.Validate()
}

// applyOverrides replaces config fields with the flags that were given a non-zero value
func applyOverrides(cfg evolution.Config, population, generations int, seed int64) evolution.Config {
	if population > 0 {
		cfg.PopulationSize = population
	}
	if generations > 0 {
		cfg.GenerationCount = generations
	}
	if seed != 0 {
		cfg.Seed = seed
	}
	return cfg
}

func parseSymbols(s string) []string {
	return validation.SanitizeSymbols(strings.Split(s, ","))
}
