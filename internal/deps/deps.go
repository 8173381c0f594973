// Package deps builds the services shared by the paramforge binaries from configuration
package deps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/paramforge/internal/alerts"
	"github.com/ajitpratap0/paramforge/internal/backtest"
	"github.com/ajitpratap0/paramforge/internal/config"
	"github.com/ajitpratap0/paramforge/internal/db"
	"github.com/ajitpratap0/paramforge/internal/domains"
	"github.com/ajitpratap0/paramforge/internal/events"
	"github.com/ajitpratap0/paramforge/internal/metrics"
	"github.com/ajitpratap0/paramforge/internal/oracle"
	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

// ErrNoCandleSource is returned when the local oracle has neither a database nor a candle directory
var ErrNoCandleSource = errors.New("local oracle needs database.enabled or oracle.backtest.candles_dir")

// metricsRefreshInterval is how often stored run counts are exported
const metricsRefreshInterval = 30 * time.Second

// Deps holds the services built from one configuration. Optional services are nil when disabled.
type Deps struct {
	Config    *config.Config
	Domains   evolution.StaticDomainTable
	Oracle    evolution.FitnessOracle
	Observers []evolution.Observer

	DB        *db.DB
	Store     *db.RunStore
	Redis     *redis.Client
	Publisher *events.Publisher

	updater *metrics.Updater
}

// Build connects every enabled service and assembles the decorated oracle.
// On error, whatever was already opened is closed.
func Build(ctx context.Context, cfg *config.Config) (_ *Deps, err error) {
	d := &Deps{Config: cfg}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	if d.Domains, err = domains.LoadOrBuiltin(cfg.Domains.File); err != nil {
		return nil, fmt.Errorf("failed to load parameter domains: %w", err)
	}

	if cfg.Database.Enabled {
		if d.DB, err = db.NewFromConfig(ctx, cfg.Database); err != nil {
			return nil, err
		}
		d.Store = d.DB.Runs()
		if err = d.Store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		if cfg.Monitoring.EnableMetrics {
			d.updater = metrics.NewUpdater(d.DB.Pool(), metricsRefreshInterval)
			go d.updater.Start(context.Background())
		}
	}

	if cfg.Oracle.Cache.Enabled {
		d.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err = d.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.GetRedisAddr(), err)
		}
		log.Info().Str("addr", cfg.Redis.GetRedisAddr()).Msg("Oracle cache connected to Redis")
	}

	if cfg.NATS.Enabled {
		if d.Publisher, err = events.NewPublisher(cfg.NATS); err != nil {
			return nil, err
		}
		d.Observers = append(d.Observers, d.Publisher)
	}

	if cfg.Monitoring.EnableMetrics {
		d.Observers = append(d.Observers, metrics.NewObserver())
	}

	if cfg.Alerts.Enabled {
		manager, err := NewAlertManager(cfg.Alerts)
		if err != nil {
			return nil, err
		}
		d.Observers = append(d.Observers, alerts.NewRunObserver(manager, cfg.Alerts.FailureRatio))
	}

	base, err := NewBaseOracle(cfg.Oracle, d.DB)
	if err != nil {
		return nil, err
	}
	d.Oracle = oracle.Chain(base, cfg.Oracle, d.Redis)

	log.Info().
		Str("oracle", cfg.Oracle.Type).
		Strs("strategies", d.Domains.Strategies()).
		Bool("database", d.DB != nil).
		Bool("cache", d.Redis != nil).
		Bool("events", d.Publisher != nil).
		Bool("alerts", cfg.Alerts.Enabled).
		Msg("Services initialized")

	return d, nil
}

// NewBaseOracle builds the undecorated oracle. The local simulator reads candles from the
// database when one is given, otherwise from the configured CSV directory.
func NewBaseOracle(cfg config.OracleConfig, database *db.DB) (evolution.FitnessOracle, error) {
	switch cfg.Type {
	case config.OracleTypeCLI:
		return oracle.NewCLIOracle(cfg.Command, cfg.Args), nil

	case config.OracleTypeLocal:
		var source backtest.CandleSource
		switch {
		case database != nil:
			source = database.Candles()
		case cfg.Backtest.CandlesDir != "":
			mem, err := backtest.LoadCSVDir(cfg.Backtest.CandlesDir)
			if err != nil {
				return nil, err
			}
			source = mem
		default:
			return nil, ErrNoCandleSource
		}

		return backtest.NewSimulator(source, backtest.Settings{
			InitialCapital: cfg.Backtest.InitialCapital,
			FeeRate:        cfg.Backtest.FeeRate,
			Interval:       cfg.Backtest.Interval,
			PeriodsPerYear: cfg.Backtest.PeriodsPerYear,
		}), nil

	default:
		return nil, fmt.Errorf("unknown oracle type %q", cfg.Type)
	}
}

// NewAlertManager builds the alert channels enabled in cfg. Alerts are always logged.
func NewAlertManager(cfg config.AlertsConfig) (*alerts.Manager, error) {
	alerters := []alerts.Alerter{alerts.NewLogAlerter()}
	if cfg.Telegram.Enabled {
		tg, err := alerts.NewTelegramAlerter(cfg.Telegram.BotToken, cfg.Telegram.APIEndpoint, cfg.Telegram.ChatIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Telegram alerts: %w", err)
		}
		alerters = append(alerters, tg)
	}
	return alerts.NewManager(alerters...), nil
}

// RunObservers returns the observers of a run, including the store when persistence is enabled
func (d *Deps) RunObservers() []evolution.Observer {
	observers := make([]evolution.Observer, 0, len(d.Observers)+1)
	observers = append(observers, d.Observers...)
	if d.Store != nil {
		observers = append(observers, d.Store)
	}
	return observers
}

// Close releases every opened service
func (d *Deps) Close() {
	if d.updater != nil {
		d.updater.Stop()
	}
	if d.Publisher != nil {
		if err := d.Publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close event publisher")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}
