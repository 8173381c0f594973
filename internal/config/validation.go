package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Fields returns the names of the offending fields
func (ve ValidationErrors) Fields() []string {
	fields := make([]string, len(ve))
	for i, err := range ve {
		fields[i] = err.Field
	}
	return fields
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.validateApp()...)
	errs = append(errs, c.validateEvolution()...)
	errs = append(errs, c.validateOracle()...)
	errs = append(errs, c.validateDatabase()...)
	errs = append(errs, c.validateRedis()...)
	errs = append(errs, c.validateNATS()...)
	errs = append(errs, c.validateAPI()...)
	errs = append(errs, c.validateAlerts()...)
	errs = append(errs, c.validateEnvironmentRequirements()...)

	if len(errs) > 0 {
		return errs
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errs ValidationErrors

	if c.App.Name == "" {
		errs = append(errs, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	validEnvs := []string{"development", "staging", "production"}
	if !contains(validEnvs, c.App.Environment) {
		errs = append(errs, ValidationError{
			Field:   "app.environment",
			Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
		})
	}

	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	if !contains(validLevels, strings.ToLower(c.App.LogLevel)) {
		errs = append(errs, ValidationError{
			Field:   "app.log_level",
			Message: fmt.Sprintf("Invalid log level '%s'. Must be one of: %v", c.App.LogLevel, validLevels),
		})
	}

	if c.App.LogFormat != "json" && c.App.LogFormat != "console" {
		errs = append(errs, ValidationError{
			Field:   "app.log_format",
			Message: "Log format must be 'json' or 'console'",
		})
	}

	return errs
}

// validateEvolution reuses the optimizer's own checks so both layers agree
func (c *Config) validateEvolution() ValidationErrors {
	err := c.Evolution.ToEvolutionConfig().Validate()
	if err == nil {
		return nil
	}

	var cerrs evolution.ConfigErrors
	if !errors.As(err, &cerrs) {
		return ValidationErrors{{Field: "evolution", Message: err.Error()}}
	}

	errs := make(ValidationErrors, 0, len(cerrs))
	for _, ce := range cerrs {
		errs = append(errs, ValidationError{
			Field:   "evolution." + ce.Field,
			Message: ce.Message,
		})
	}
	return errs
}

func (c *Config) validateOracle() ValidationErrors {
	var errs ValidationErrors

	switch c.Oracle.Type {
	case OracleTypeLocal:
		bt := c.Oracle.Backtest
		if bt.InitialCapital <= 0 {
			errs = append(errs, ValidationError{
				Field:   "oracle.backtest.initial_capital",
				Message: "Initial capital must be positive",
			})
		}
		if bt.FeeRate < 0 || bt.FeeRate >= 1 {
			errs = append(errs, ValidationError{
				Field:   "oracle.backtest.fee_rate",
				Message: fmt.Sprintf("Fee rate must be in [0, 1), got %v", bt.FeeRate),
			})
		}
		if bt.PeriodsPerYear <= 0 {
			errs = append(errs, ValidationError{
				Field:   "oracle.backtest.periods_per_year",
				Message: "Periods per year must be positive",
			})
		}
		if bt.Interval == "" {
			errs = append(errs, ValidationError{
				Field:   "oracle.backtest.interval",
				Message: "Candle interval is required",
			})
		}
	case OracleTypeCLI:
		if c.Oracle.Command == "" {
			errs = append(errs, ValidationError{
				Field:   "oracle.command",
				Message: "Backtest command is required for the cli oracle",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "oracle.type",
			Message: fmt.Sprintf("Invalid oracle type '%s'. Must be '%s' or '%s'", c.Oracle.Type, OracleTypeLocal, OracleTypeCLI),
		})
	}

	if c.Oracle.Cache.Enabled && c.Oracle.Cache.TTL < 0 {
		errs = append(errs, ValidationError{
			Field:   "oracle.cache.ttl",
			Message: "Cache TTL cannot be negative",
		})
	}

	if br := c.Oracle.Breaker; br.Enabled {
		if br.FailureRatio <= 0 || br.FailureRatio > 1 {
			errs = append(errs, ValidationError{
				Field:   "oracle.breaker.failure_ratio",
				Message: fmt.Sprintf("Failure ratio must be in (0, 1], got %v", br.FailureRatio),
			})
		}
		if br.MaxRequests == 0 {
			errs = append(errs, ValidationError{
				Field:   "oracle.breaker.max_requests",
				Message: "Half-open request allowance must be at least 1",
			})
		}
	}

	if rl := c.Oracle.RateLimit; rl.Enabled {
		if rl.RequestsPerSecond <= 0 {
			errs = append(errs, ValidationError{
				Field:   "oracle.rate_limit.requests_per_second",
				Message: "Requests per second must be positive",
			})
		}
		if rl.Burst < 1 {
			errs = append(errs, ValidationError{
				Field:   "oracle.rate_limit.burst",
				Message: "Burst must be at least 1",
			})
		}
	}

	return errs
}

func (c *Config) validateDatabase() ValidationErrors {
	if !c.Database.Enabled {
		return nil
	}

	var errs ValidationErrors

	if c.Database.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "database.host",
			Message: "Database host is required",
		})
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Database.Port),
		})
	}
	if c.Database.User == "" {
		errs = append(errs, ValidationError{
			Field:   "database.user",
			Message: "Database user is required",
		})
	}
	if c.Database.Database == "" {
		errs = append(errs, ValidationError{
			Field:   "database.database",
			Message: "Database name is required",
		})
	}
	if c.Database.PoolSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "database.pool_size",
			Message: "Pool size must be at least 1",
		})
	}

	return errs
}

func (c *Config) validateRedis() ValidationErrors {
	if !c.Oracle.Cache.Enabled {
		return nil
	}

	var errs ValidationErrors

	if c.Redis.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "redis.host",
			Message: "Redis host is required when the oracle cache is enabled",
		})
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "redis.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Redis.Port),
		})
	}

	return errs
}

func (c *Config) validateNATS() ValidationErrors {
	if !c.NATS.Enabled {
		return nil
	}

	var errs ValidationErrors

	if c.NATS.URL == "" {
		errs = append(errs, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL is required",
		})
	} else if !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		errs = append(errs, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL must start with nats:// or tls://",
		})
	}
	if c.NATS.SubjectPrefix == "" || strings.ContainsAny(c.NATS.SubjectPrefix, " *>") {
		errs = append(errs, ValidationError{
			Field:   "nats.subject_prefix",
			Message: "Subject prefix must be a non-empty literal token",
		})
	}

	return errs
}

func (c *Config) validateAlerts() ValidationErrors {
	if !c.Alerts.Enabled {
		return nil
	}

	var errs ValidationErrors

	if c.Alerts.FailureRatio <= 0 || c.Alerts.FailureRatio > 1 {
		errs = append(errs, ValidationError{
			Field:   "alerts.failure_ratio",
			Message: "Failure ratio must be in (0, 1]",
		})
	}
	if c.Alerts.Telegram.Enabled {
		if c.Alerts.Telegram.BotToken == "" {
			errs = append(errs, ValidationError{
				Field:   "alerts.telegram.bot_token",
				Message: "Bot token is required when Telegram alerts are enabled",
			})
		}
		if len(c.Alerts.Telegram.ChatIDs) == 0 {
			errs = append(errs, ValidationError{
				Field:   "alerts.telegram.chat_ids",
				Message: "At least one chat ID is required when Telegram alerts are enabled",
			})
		}
	}

	return errs
}

func (c *Config) validateAPI() ValidationErrors {
	var errs ValidationErrors

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "api.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.API.Port),
		})
	}
	if c.API.MaxActiveRuns < 1 {
		errs = append(errs, ValidationError{
			Field:   "api.max_active_runs",
			Message: "At least one concurrent run must be allowed",
		})
	}
	if c.API.MaxRetainedRuns < 1 {
		errs = append(errs, ValidationError{
			Field:   "api.max_retained_runs",
			Message: "At least one finished run must be retained",
		})
	}

	if c.Monitoring.EnableMetrics && (c.Monitoring.PrometheusPort < 1 || c.Monitoring.PrometheusPort > 65535) {
		errs = append(errs, ValidationError{
			Field:   "monitoring.prometheus_port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Monitoring.PrometheusPort),
		})
	}

	return errs
}

func (c *Config) validateEnvironmentRequirements() ValidationErrors {
	if c.App.Environment != "production" {
		return nil
	}

	var errs ValidationErrors

	if c.Database.Enabled && c.Database.SSLMode == "disable" {
		errs = append(errs, ValidationError{
			Field:   "database.ssl_mode",
			Message: "SSL must be enabled for database in production",
		})
	}
	for _, origin := range c.API.AllowedOrigins {
		if origin == "*" {
			errs = append(errs, ValidationError{
				Field:   "api.allowed_origins",
				Message: "Wildcard CORS origin is not allowed in production",
			})
			break
		}
	}

	return errs
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
