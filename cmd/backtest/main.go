// Backtest Runner CLI
// Runs one parameter set of a strategy on historical candles and prints its metrics.
// With -stdin it speaks the JSON request/response protocol of the cli oracle,
// so it can serve as oracle.command for a remote or sandboxed optimizer.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/paramforge/internal/backtest"
	"github.com/ajitpratap0/paramforge/internal/config"
	"github.com/ajitpratap0/paramforge/internal/db"
	"github.com/ajitpratap0/paramforge/internal/deps"
	"github.com/ajitpratap0/paramforge/internal/domains"
	"github.com/ajitpratap0/paramforge/internal/oracle"
	"github.com/ajitpratap0/paramforge/internal/validation"
	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

// ============================================================================
// CLI FLAGS
// ============================================================================

var (
	configPath = flag.String("config", "", "Path to config file (default: ./configs/config.yaml)")

	// Strategy parameters
	strategyName = flag.String("strategy", "", "Strategy type (see optimize -list)")
	paramList    = flag.String("params", "", "Comma-separated name=value pairs, e.g. fast_period=10,slow_period=50")
	symbols      = flag.String("symbols", "BTCUSDT", "Comma-separated list of symbols to backtest")

	// Date range
	startDate = flag.String("start", "", "Start date (YYYY-MM-DD)")
	endDate   = flag.String("end", "", "End date (YYYY-MM-DD, inclusive)")

	// Mode and output
	stdinMode = flag.Bool("stdin", false, "Read a JSON backtest request from stdin and answer on stdout")
	format    = flag.String("format", "text", "Output format: text or json")
	verbose   = flag.Bool("verbose", false, "Enable verbose logging")
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
	config.InitLoggerWithConfig(config.LoggerConfig{Level: level, Format: cfg.App.LogFormat, Output: os.Stderr})

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("Backtest failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim, table, closeFn, err := newSimulator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize backtester: %w", err)
	}
	defer closeFn()

	if *stdinMode {
		return serveRequest(ctx, sim, table, os.Stdin, os.Stdout)
	}
	return runFlags(ctx, sim, table)
}

// newSimulator builds the local simulator whatever oracle type the config selects
func newSimulator(ctx context.Context, cfg *config.Config) (*backtest.Simulator, evolution.StaticDomainTable, func(), error) {
	table, err := domains.LoadOrBuiltin(cfg.Domains.File)
	if err != nil {
		return nil, nil, nil, err
	}

	var database *db.DB
	closeFn := func() {}
	if cfg.Database.Enabled {
		if database, err = db.NewFromConfig(ctx, cfg.Database); err != nil {
			return nil, nil, nil, err
		}
		closeFn = database.Close
	}

	oracleCfg := cfg.Oracle
	oracleCfg.Type = config.OracleTypeLocal
	base, err := deps.NewBaseOracle(oracleCfg, database)
	if err != nil {
		closeFn()
		return nil, nil, nil, err
	}

	return base.(*backtest.Simulator), table, closeFn, nil
}

// ============================================================================
// MODES
// ============================================================================

// serveRequest answers one oracle request. Backtest failures are reported in the
// response document; only unreadable input is returned as an error.
func serveRequest(ctx context.Context, sim *backtest.Simulator, table evolution.DomainTable, r io.Reader, w io.Writer) error {
	var req oracle.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("failed to decode backtest request: %w", err)
	}

	evalCtx := evolution.EvaluationContext{Universe: req.Universe}
	if req.Start != nil {
		evalCtx.Start = *req.Start
	}
	if req.End != nil {
		evalCtx.End = *req.End
	}

	var resp oracle.Response
	metrics, err := evaluate(ctx, sim, table, req.Strategy, req.Params, evalCtx)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.TotalReturn = metrics.TotalReturn
		resp.SharpeRatio = metrics.SharpeRatio
		resp.MaxDrawdown = metrics.MaxDrawdown
		resp.WinRate = metrics.WinRate
	}

	return json.NewEncoder(w).Encode(resp)
}

func evaluate(ctx context.Context, sim *backtest.Simulator, table evolution.DomainTable, strategyType string, params evolution.ParameterSet, evalCtx evolution.EvaluationContext) (evolution.Metrics, error) {
	if err := evalCtx.Validate(); err != nil {
		return evolution.Metrics{}, err
	}
	if err := checkParams(table, strategyType, params); err != nil {
		return evolution.Metrics{}, err
	}
	return sim.Evaluate(ctx, strategyType, params, evalCtx)
}

func runFlags(ctx context.Context, sim *backtest.Simulator, table evolution.DomainTable) error {
	if *strategyName == "" {
		flag.Usage()
		return errors.New("-strategy flag is required")
	}

	params, err := parseParams(*paramList)
	if err != nil {
		return err
	}
	if err := checkParams(table, *strategyName, params); err != nil {
		return err
	}

	evalCtx := evolution.EvaluationContext{Universe: parseSymbols(*symbols)}
	if len(evalCtx.Universe) == 0 {
		return backtest.ErrEmptyUniverse
	}
	if evalCtx.Start, err = parseDate(*startDate); err != nil {
		return err
	}
	if evalCtx.End, err = parseDate(*endDate); err != nil {
		return err
	}
	if !evalCtx.End.IsZero() {
		evalCtx.End = evolution.EndOfDay(evalCtx.End)
	}
	if err := evalCtx.Validate(); err != nil {
		return err
	}

	log.Info().
		Str("strategy", *strategyName).
		Str("params", params.String()).
		Strs("symbols", evalCtx.Universe).
		Msg("Running backtest")

	results := make([]*backtest.Result, 0, len(evalCtx.Universe))
	for _, symbol := range evalCtx.Universe {
		res, err := sim.Run(ctx, *strategyName, params, symbol, evalCtx.Start, evalCtx.End)
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	return printResults(os.Stdout, results)
}

// ============================================================================
// OUTPUT
// ============================================================================

func printResults(w io.Writer, results []*backtest.Result) error {
	switch *format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case "text":
	default:
		return fmt.Errorf("unknown output format %q (use text or json)", *format)
	}

	fmt.Fprintf(w, "%-10s %8s %12s %10s %10s %10s %14s\n",
		"SYMBOL", "TRADES", "RETURN", "SHARPE", "MAX DD", "WIN RATE", "FINAL EQUITY")
	for _, res := range results {
		fmt.Fprintf(w, "%-10s %8d %11.2f%% %10.2f %9.2f%% %9.2f%% %14.2f\n",
			res.Symbol,
			len(res.Trades),
			res.Metrics.TotalReturn*100,
			res.Metrics.SharpeRatio,
			res.Metrics.MaxDrawdown*100,
			res.Metrics.WinRate*100,
			res.FinalEquity)
	}
	return nil
}

// ============================================================================
// UTILITIES
// ============================================================================

// parseParams parses "name=value,name=value"
func parseParams(s string) (evolution.ParameterSet, error) {
	params := evolution.ParameterSet{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid parameter %q (use name=value)", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", name, err)
		}
		params[strings.TrimSpace(name)] = v
	}
	if len(params) == 0 {
		return nil, errors.New("-params is required")
	}
	return params, nil
}

// checkParams verifies params names exactly the strategy's parameters, each inside its domain
func checkParams(table evolution.DomainTable, strategyType string, params evolution.ParameterSet) error {
	pds, err := table.DomainsFor(strategyType)
	if err != nil {
		return err
	}
	if len(params) != len(pds) {
		return fmt.Errorf("%s takes %d parameters, got %d", strategyType, len(pds), len(params))
	}
	for _, pd := range pds {
		v, ok := params[pd.Name]
		if !ok {
			return fmt.Errorf("missing parameter %s", pd.Name)
		}
		if !pd.Domain.Contains(v) {
			lower, upper := pd.Domain.Bounds()
			return fmt.Errorf("parameter %s=%g is outside its %s domain [%g, %g]", pd.Name, v, pd.Domain.Kind(), lower, upper)
		}
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

func parseSymbols(s string) []string {
	return validation.SanitizeSymbols(strings.Split(s, ","))
}
