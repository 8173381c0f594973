package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
app:
  name: paramforge-test
  log_level: debug
evolution:
  population_size: 30
  generation_count: 12
  elite_ratio: 0.1
  evaluation_timeout: 45s
oracle:
  type: cli
  command: ./bin/backtest
  args: ["--json"]
  cache:
    enabled: true
    ttl: 1h
nats:
  enabled: true
  subject_prefix: research
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "paramforge-test", cfg.App.Name)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 30, cfg.Evolution.PopulationSize)
	assert.Equal(t, 12, cfg.Evolution.GenerationCount)
	assert.Equal(t, 45*time.Second, cfg.Evolution.EvaluationTimeout)
	assert.Equal(t, OracleTypeCLI, cfg.Oracle.Type)
	assert.Equal(t, []string{"--json"}, cfg.Oracle.Args)
	assert.Equal(t, time.Hour, cfg.Oracle.Cache.TTL)
	assert.Equal(t, "research", cfg.NATS.SubjectPrefix)

	// untouched keys keep their defaults
	assert.Equal(t, 0.2, cfg.Evolution.MutationRate)
	assert.Equal(t, 5, cfg.Evolution.SelectionPoolSize)
	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, APIServerPort, cfg.API.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.GetRedisAddr())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PARAMFORGE_EVOLUTION_SEED", "42")
	t.Setenv("PARAMFORGE_EVOLUTION_MUTATION_RATE", "0.35")
	t.Setenv("PARAMFORGE_API_PORT", "9090")

	cfg, err := Load(writeConfig(t, testConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, int64(42), cfg.Evolution.Seed)
	assert.Equal(t, 0.35, cfg.Evolution.MutationRate)
	assert.Equal(t, 9090, cfg.API.Port)
}

func TestLoad_InvalidValues(t *testing.T) {
	_, err := Load(writeConfig(t, "evolution:\n  population_size: 0\n"))
	requireFieldError(t, err, "evolution.population_size")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDatabaseConfig_GetDSN(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "pf", SSLMode: "require", PoolSize: 7}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=pf sslmode=require pool_max_conns=7", db.GetDSN())
}

func TestInitLogger(t *testing.T) {
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	InitLoggerWithConfig(LoggerConfig{Level: "warn", Format: "json", Output: &buf})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	logger := NewRunLogger("evolution", "run-1", "ema_crossover")
	logger.Info().Msg("hidden")
	logger.Warn().Msg("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"run_id":"run-1"`)
	assert.Contains(t, out, `"strategy":"ema_crossover"`)
	assert.Contains(t, out, `"component":"evolution"`)

	InitLoggerWithConfig(LoggerConfig{Level: "nonsense", Output: &buf})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
