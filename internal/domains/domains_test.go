package domains

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/paramforge/pkg/evolution"
)

const validYAML = `
schema_version: "1.0"
strategies:
  ema_crossover:
    - {name: fast_period, type: integer, lower: 5, upper: 30, step: 5}
    - {name: slow_period, type: integer, lower: 20, upper: 100, step: 10}
    - {name: stop_loss, type: continuous, lower: 0.01, upper: 0.1}
  single:
    - {name: x, type: integer, lower: 0, upper: 10, step: 2}
`

func TestParse_Valid(t *testing.T) {
	table, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	assert.Equal(t, []string{"ema_crossover", "single"}, table.Strategies())

	domains, err := table.DomainsFor("ema_crossover")
	require.NoError(t, err)
	require.Len(t, domains, 3)

	// declaration order is preserved
	assert.Equal(t, "fast_period", domains[0].Name)
	assert.Equal(t, evolution.IntegerDomain{Lower: 5, Upper: 30, Step: 5}, domains[0].Domain)
	assert.Equal(t, "stop_loss", domains[2].Name)
	assert.Equal(t, evolution.ContinuousDomain{Lower: 0.01, Upper: 0.1, Precision: evolution.DefaultPrecision}, domains[2].Domain)
}

func TestParse_SampledValuesStayQuantized(t *testing.T) {
	table, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	domains, err := table.DomainsFor("single")
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	allowed := map[float64]bool{0: true, 2: true, 4: true, 6: true, 8: true, 10: true}
	for i := 0; i < 1000; i++ {
		v := domains[0].Domain.Sample(rng)
		assert.True(t, allowed[v], "unexpected sample %v", v)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{
			name:    "missing schema version",
			yaml:    "strategies:\n  a:\n    - {name: x, type: integer, lower: 0, upper: 1, step: 1}\n",
			wantErr: ErrUnsupportedSchema,
		},
		{
			name:    "future major schema",
			yaml:    "schema_version: \"2.0\"\nstrategies:\n  a:\n    - {name: x, type: integer, lower: 0, upper: 1, step: 1}\n",
			wantErr: ErrUnsupportedSchema,
		},
		{
			name:    "no strategies",
			yaml:    "schema_version: \"1.0\"\n",
			wantErr: evolution.ErrEmptyDomain,
		},
		{
			name:    "strategy without parameters",
			yaml:    "schema_version: \"1.0\"\nstrategies:\n  a: []\n",
			wantErr: evolution.ErrEmptyDomain,
		},
		{
			name:    "unknown type",
			yaml:    "schema_version: \"1.0\"\nstrategies:\n  a:\n    - {name: x, type: boolean, lower: 0, upper: 1}\n",
			wantErr: ErrMalformedEntry,
		},
		{
			name:    "fractional integer step",
			yaml:    "schema_version: \"1.0\"\nstrategies:\n  a:\n    - {name: x, type: integer, lower: 0, upper: 1, step: 0.5}\n",
			wantErr: ErrMalformedEntry,
		},
		{
			name:    "zero step",
			yaml:    "schema_version: \"1.0\"\nstrategies:\n  a:\n    - {name: x, type: integer, lower: 0, upper: 10, step: 0}\n",
			wantErr: evolution.ErrInvalidDomain,
		},
		{
			name:    "inverted bounds",
			yaml:    "schema_version: \"1.0\"\nstrategies:\n  a:\n    - {name: x, type: continuous, lower: 1, upper: 0}\n",
			wantErr: evolution.ErrInvalidDomain,
		},
		{
			name:    "duplicate parameter",
			yaml:    "schema_version: \"1.0\"\nstrategies:\n  a:\n    - {name: x, type: integer, lower: 0, upper: 1, step: 1}\n    - {name: x, type: integer, lower: 0, upper: 1, step: 1}\n",
			wantErr: ErrMalformedEntry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("empty input", func(t *testing.T) {
		_, err := Parse(nil)
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := Parse([]byte("strategies: [unclosed"))
		assert.Error(t, err)
	})
}

func TestCheckSchema(t *testing.T) {
	assert.NoError(t, CheckSchema("1.0"))
	assert.NoError(t, CheckSchema("1.3.2"))
	assert.ErrorIs(t, CheckSchema("0.9"), ErrUnsupportedSchema)
	assert.ErrorIs(t, CheckSchema("2.0.0"), ErrUnsupportedSchema)
	assert.ErrorIs(t, CheckSchema("latest"), ErrUnsupportedSchema)
}

func TestExport_RoundTrip(t *testing.T) {
	data, err := Export(Builtin())
	require.NoError(t, err)
	assert.Contains(t, string(data), "schema_version: \"1.0\"")

	table, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, Builtin(), table)
}

func TestExport_ZeroPrecisionRoundTrip(t *testing.T) {
	table := evolution.StaticDomainTable{
		"whole": {
			{Name: "size", Domain: evolution.ContinuousDomain{Lower: 1, Upper: 10, Precision: 0}},
		},
	}

	data, err := Export(table)
	require.NoError(t, err)
	assert.Contains(t, string(data), "precision: 0")

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, table, parsed)
}

func TestExportToFileAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.yaml")
	require.NoError(t, ExportToFile(Builtin(), path))

	table, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Builtin().Strategies(), table.Strategies())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadOrBuiltin(t *testing.T) {
	table, err := LoadOrBuiltin("")
	require.NoError(t, err)
	assert.Equal(t, []string{StrategyEMACrossover, StrategyRSIReversion}, table.Strategies())
}

func TestBuiltin_Valid(t *testing.T) {
	table := Builtin()
	for _, strategy := range table.Strategies() {
		_, err := table.DomainsFor(strategy)
		assert.NoError(t, err, strategy)
	}
}
