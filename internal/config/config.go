package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

// EnvPrefix is the prefix of environment variable overrides (PARAMFORGE_EVOLUTION_SEED, ...)
const EnvPrefix = "PARAMFORGE"

var envKeyReplacer = strings.NewReplacer(".", "_")

// Oracle types
const (
	OracleTypeLocal = "local"
	OracleTypeCLI   = "cli"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig         `mapstructure:"app"`
	Evolution  EvolutionSettings `mapstructure:"evolution"`
	Oracle     OracleConfig      `mapstructure:"oracle"`
	Domains    DomainsConfig     `mapstructure:"domains"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Redis      RedisConfig       `mapstructure:"redis"`
	NATS       NATSConfig        `mapstructure:"nats"`
	API        APIConfig         `mapstructure:"api"`
	Alerts     AlertsConfig      `mapstructure:"alerts"`
	Monitoring MonitoringConfig  `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// EvolutionSettings mirrors evolution.Config in its file/env form
type EvolutionSettings struct {
	PopulationSize    int           `mapstructure:"population_size"`
	GenerationCount   int           `mapstructure:"generation_count"`
	MutationRate      float64       `mapstructure:"mutation_rate"`
	GeneMutationRate  float64       `mapstructure:"gene_mutation_rate"`
	CrossoverRate     float64       `mapstructure:"crossover_rate"`
	EliteRatio        float64       `mapstructure:"elite_ratio"`
	SelectionPoolSize int           `mapstructure:"selection_pool_size"`
	Parallelism       int           `mapstructure:"parallelism"`
	EvaluationTimeout time.Duration `mapstructure:"evaluation_timeout"`
	Seed              int64         `mapstructure:"seed"`
}

// OracleConfig selects and decorates the fitness oracle
type OracleConfig struct {
	Type      string          `mapstructure:"type"` // "local" or "cli"
	Command   string          `mapstructure:"command"`
	Args      []string        `mapstructure:"args"`
	Backtest  BacktestConfig  `mapstructure:"backtest"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// BacktestConfig contains settings of the local candle simulator
type BacktestConfig struct {
	InitialCapital float64 `mapstructure:"initial_capital"`
	FeeRate        float64 `mapstructure:"fee_rate"`
	Interval       string  `mapstructure:"interval"` // candle interval, e.g. "1h"
	PeriodsPerYear float64 `mapstructure:"periods_per_year"`
	CandlesDir     string  `mapstructure:"candles_dir"` // <SYMBOL>.csv files, read when the database is disabled
}

// CacheConfig contains oracle result caching settings
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	Prefix  string        `mapstructure:"prefix"`
}

// BreakerConfig contains circuit breaker settings for the oracle
type BreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

// RateLimitConfig throttles oracle calls
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// DomainsConfig points at the parameter domain table
type DomainsConfig struct {
	File string `mapstructure:"file"` // empty uses the built-in table
}

// DatabaseConfig contains PostgreSQL/TimescaleDB settings
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS messaging settings
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host            string   `mapstructure:"host"`
	Port            int      `mapstructure:"port"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	MaxActiveRuns   int      `mapstructure:"max_active_runs"`
	MaxRetainedRuns int      `mapstructure:"max_retained_runs"` // finished runs kept in memory
}

// AlertsConfig contains run alerting settings
type AlertsConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	FailureRatio float64        `mapstructure:"failure_ratio"` // warn when this share of a generation failed
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig contains Telegram alert delivery settings
type TelegramConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	BotToken    string  `mapstructure:"bot_token"`
	ChatIDs     []int64 `mapstructure:"chat_ids"`
	APIEndpoint string  `mapstructure:"api_endpoint"` // empty uses the public Bot API
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "paramforge")
	v.SetDefault("app.version", Version)
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Evolution defaults
	def := evolution.DefaultConfig()
	v.SetDefault("evolution.population_size", def.PopulationSize)
	v.SetDefault("evolution.generation_count", def.GenerationCount)
	v.SetDefault("evolution.mutation_rate", def.MutationRate)
	v.SetDefault("evolution.gene_mutation_rate", def.GeneMutationRate)
	v.SetDefault("evolution.crossover_rate", def.CrossoverRate)
	v.SetDefault("evolution.elite_ratio", def.EliteRatio)
	v.SetDefault("evolution.selection_pool_size", def.SelectionPoolSize)
	v.SetDefault("evolution.parallelism", def.Parallelism)
	v.SetDefault("evolution.evaluation_timeout", def.EvaluationTimeout)
	v.SetDefault("evolution.seed", 0)

	// Oracle defaults
	v.SetDefault("oracle.type", OracleTypeLocal)
	v.SetDefault("oracle.backtest.initial_capital", 10000.0)
	v.SetDefault("oracle.backtest.fee_rate", 0.001)
	v.SetDefault("oracle.backtest.interval", "1h")
	v.SetDefault("oracle.backtest.periods_per_year", 8760.0)
	v.SetDefault("oracle.backtest.candles_dir", "")
	v.SetDefault("oracle.cache.enabled", false)
	v.SetDefault("oracle.cache.ttl", 24*time.Hour)
	v.SetDefault("oracle.cache.prefix", "paramforge:fitness")
	v.SetDefault("oracle.breaker.enabled", true)
	v.SetDefault("oracle.breaker.max_requests", 3)
	v.SetDefault("oracle.breaker.interval", time.Minute)
	v.SetDefault("oracle.breaker.timeout", 30*time.Second)
	v.SetDefault("oracle.breaker.min_requests", 5)
	v.SetDefault("oracle.breaker.failure_ratio", 0.6)
	v.SetDefault("oracle.rate_limit.enabled", false)
	v.SetDefault("oracle.rate_limit.requests_per_second", 10.0)
	v.SetDefault("oracle.rate_limit.burst", 4)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", PostgresPort)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "paramforge")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", RedisPort)
	v.SetDefault("redis.db", 0)

	// NATS defaults
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", fmt.Sprintf("nats://localhost:%d", NATSPort))
	v.SetDefault("nats.subject_prefix", "paramforge")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", APIServerPort)
	v.SetDefault("api.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.max_active_runs", 4)
	v.SetDefault("api.max_retained_runs", 100)

	// Alerts defaults
	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.failure_ratio", 0.5)
	v.SetDefault("alerts.telegram.enabled", false)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", MetricsPort)
	v.SetDefault("monitoring.enable_metrics", true)
}

// ToEvolutionConfig converts the settings into the optimizer configuration
func (s EvolutionSettings) ToEvolutionConfig() evolution.Config {
	return evolution.Config{
		PopulationSize:    s.PopulationSize,
		GenerationCount:   s.GenerationCount,
		MutationRate:      s.MutationRate,
		GeneMutationRate:  s.GeneMutationRate,
		CrossoverRate:     s.CrossoverRate,
		EliteRatio:        s.EliteRatio,
		SelectionPoolSize: s.SelectionPoolSize,
		Parallelism:       s.Parallelism,
		EvaluationTimeout: s.EvaluationTimeout,
		Seed:              s.Seed,
	}
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, c.PoolSize,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
