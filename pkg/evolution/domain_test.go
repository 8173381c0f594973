package evolution

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// INTEGER DOMAIN TESTS
// ============================================================================

func TestIntegerDomain_SampleQuantized(t *testing.T) {
	d := IntegerDomain{Lower: 0, Upper: 10, Step: 2}
	rng := rand.New(rand.NewSource(42))

	allowed := map[float64]bool{0: true, 2: true, 4: true, 6: true, 8: true, 10: true}
	seen := make(map[float64]int)

	for i := 0; i < 1000; i++ {
		v := d.Sample(rng)
		require.True(t, allowed[v], "unexpected sample %v", v)
		seen[v]++
	}

	// 1000 draws over 6 values should hit every one
	assert.Len(t, seen, 6)
}

func TestIntegerDomain_UpperNotMultipleOfStep(t *testing.T) {
	d := IntegerDomain{Lower: 5, Upper: 21, Step: 5}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		v := d.Sample(rng)
		assert.Contains(t, []float64{5, 10, 15, 20}, v)
		assert.True(t, d.Contains(v))
	}
}

func TestIntegerDomain_Contains(t *testing.T) {
	d := IntegerDomain{Lower: 10, Upper: 50, Step: 5}

	assert.True(t, d.Contains(10))
	assert.True(t, d.Contains(35))
	assert.True(t, d.Contains(50))
	assert.False(t, d.Contains(12))
	assert.False(t, d.Contains(55))
	assert.False(t, d.Contains(5))
	assert.False(t, d.Contains(15.5))
}

func TestIntegerDomain_Validate(t *testing.T) {
	tests := []struct {
		name    string
		domain  IntegerDomain
		wantErr bool
	}{
		{"valid", IntegerDomain{Lower: 1, Upper: 10, Step: 1}, false},
		{"single value", IntegerDomain{Lower: 3, Upper: 3, Step: 1}, false},
		{"zero step", IntegerDomain{Lower: 1, Upper: 10, Step: 0}, true},
		{"negative step", IntegerDomain{Lower: 1, Upper: 10, Step: -2}, true},
		{"inverted bounds", IntegerDomain{Lower: 10, Upper: 1, Step: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.domain.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDomain)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// ============================================================================
// CONTINUOUS DOMAIN TESTS
// ============================================================================

func TestContinuousDomain_SampleRoundedWithinBounds(t *testing.T) {
	d := ContinuousDomain{Lower: 0.01, Upper: 0.1, Precision: 2}
	rng := rand.New(rand.NewSource(3))

	for i := 0; i < 1000; i++ {
		v := d.Sample(rng)
		require.True(t, d.Contains(v), "sample %v out of bounds", v)
		assert.InDelta(t, math.Round(v*100)/100, v, 1e-12)
	}
}

func TestContinuousDomain_Validate(t *testing.T) {
	assert.NoError(t, ContinuousDomain{Lower: 0, Upper: 1, Precision: 2}.Validate())
	assert.ErrorIs(t, ContinuousDomain{Lower: 1, Upper: 0, Precision: 2}.Validate(), ErrInvalidDomain)
	assert.ErrorIs(t, ContinuousDomain{Lower: 0, Upper: math.Inf(1), Precision: 2}.Validate(), ErrInvalidDomain)
	assert.ErrorIs(t, ContinuousDomain{Lower: 0, Upper: 1, Precision: -1}.Validate(), ErrInvalidDomain)
}

// ============================================================================
// DOMAIN TABLE TESTS
// ============================================================================

func TestStaticDomainTable_DomainsFor(t *testing.T) {
	table := testTable()

	domains, err := table.DomainsFor("ema_crossover")
	require.NoError(t, err)
	require.Len(t, domains, 3)
	assert.Equal(t, "fast_period", domains[0].Name)
	assert.Equal(t, DomainInteger, domains[0].Domain.Kind())
	assert.Equal(t, DomainContinuous, domains[2].Domain.Kind())

	t.Run("unknown strategy", func(t *testing.T) {
		_, err := table.DomainsFor("missing")
		assert.ErrorIs(t, err, ErrEmptyDomain)
	})

	t.Run("empty strategy", func(t *testing.T) {
		_, err := StaticDomainTable{"empty": nil}.DomainsFor("empty")
		assert.ErrorIs(t, err, ErrEmptyDomain)
	})
}

func TestValidateDomains(t *testing.T) {
	tests := []struct {
		name    string
		domains []ParameterDomain
		wantErr error
	}{
		{
			name:    "empty",
			domains: nil,
			wantErr: ErrEmptyDomain,
		},
		{
			name: "blank name",
			domains: []ParameterDomain{
				{Name: "", Domain: IntegerDomain{Lower: 1, Upper: 2, Step: 1}},
			},
			wantErr: ErrInvalidDomain,
		},
		{
			name: "duplicate name",
			domains: []ParameterDomain{
				{Name: "a", Domain: IntegerDomain{Lower: 1, Upper: 2, Step: 1}},
				{Name: "a", Domain: ContinuousDomain{Lower: 0, Upper: 1, Precision: 2}},
			},
			wantErr: ErrInvalidDomain,
		},
		{
			name: "nil domain",
			domains: []ParameterDomain{
				{Name: "a"},
			},
			wantErr: ErrInvalidDomain,
		},
		{
			name: "invalid bounds",
			domains: []ParameterDomain{
				{Name: "a", Domain: IntegerDomain{Lower: 5, Upper: 1, Step: 1}},
			},
			wantErr: ErrInvalidDomain,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateDomains(tt.domains), tt.wantErr)
		})
	}
}

func TestStaticDomainTable_Strategies(t *testing.T) {
	assert.Equal(t, []string{"ema_crossover", "single"}, testTable().Strategies())
}
