package evolution

import (
	"fmt"
	"math/rand"
)

// Reproduce breeds the next generation from a scored population: elites are carried
// over verbatim, the remaining slots are filled with crossover children of two distinct
// parents drawn from the top SelectionPoolSize candidates, then mutated.
func (opt *Optimizer) Reproduce(scored *Population, cfg Config) (*Population, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if scored == nil || !scored.IsScored() {
		return nil, ErrUnscoredPopulation
	}

	domains, err := opt.table.DomainsFor(scored.Strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to load domains: %w", err)
	}

	ranked := &Population{
		Strategy:   scored.Strategy,
		Generation: scored.Generation,
		Candidates: append([]*Candidate(nil), scored.Candidates...),
	}
	ranked.SortByFitness()

	eliteCount := cfg.EliteCount()
	if eliteCount > ranked.Size() {
		eliteCount = ranked.Size()
	}

	nextGen := scored.Generation + 1
	next := &Population{
		Strategy:   scored.Strategy,
		Generation: nextGen,
		Candidates: make([]*Candidate, 0, cfg.PopulationSize),
	}

	// Keep elite
	for _, elite := range ranked.Candidates[:eliteCount] {
		next.Candidates = append(next.Candidates, newCandidate(nextGen, elite.Params.Clone()))
	}

	if len(next.Candidates) < cfg.PopulationSize && ranked.Size() < cfg.SelectionPoolSize {
		return nil, fmt.Errorf("%w: have %d candidates, pool needs %d", ErrSelectionPool, ranked.Size(), cfg.SelectionPoolSize)
	}

	// Crossover and mutation
	pool := ranked.Candidates
	if len(pool) > cfg.SelectionPoolSize {
		pool = pool[:cfg.SelectionPoolSize]
	}
	for len(next.Candidates) < cfg.PopulationSize {
		parent1, parent2 := selectParents(opt.rng, pool)

		child := crossover(opt.rng, domains, parent1.Params, parent2.Params, cfg.CrossoverRate)
		child = mutate(opt.rng, domains, child, cfg.MutationRate, cfg.GeneMutationRate)

		next.Candidates = append(next.Candidates, newCandidate(nextGen, child))
	}

	opt.log.Debug().
		Str("strategy", next.Strategy).
		Int("generation", nextGen).
		Int("elites", eliteCount).
		Int("children", cfg.PopulationSize-eliteCount).
		Msg("Reproduced generation")

	return next, nil
}

// selectParents draws two distinct parents uniformly without replacement (truncation selection)
func selectParents(rng *rand.Rand, pool []*Candidate) (*Candidate, *Candidate) {
	i := rng.Intn(len(pool))
	j := rng.Intn(len(pool) - 1)
	if j >= i {
		j++
	}
	return pool[i], pool[j]
}

// crossover performs uniform crossover. With probability 1-rate the child clones
// one randomly chosen parent instead.
func crossover(rng *rand.Rand, domains []ParameterDomain, parent1, parent2 ParameterSet, rate float64) ParameterSet {
	if rate < 1 && rng.Float64() >= rate {
		if rng.Float64() < 0.5 {
			return parent1.Clone()
		}
		return parent2.Clone()
	}

	child := make(ParameterSet, len(domains))
	for _, pd := range domains {
		if rng.Float64() < 0.5 {
			child[pd.Name] = parent1[pd.Name]
		} else {
			child[pd.Name] = parent2[pd.Name]
		}
	}

	return child
}

// mutate applies two-stage mutation: a per-child gate at mutationRate, then each
// parameter is resampled from its domain with probability geneRate
func mutate(rng *rand.Rand, domains []ParameterDomain, individual ParameterSet, mutationRate, geneRate float64) ParameterSet {
	if rng.Float64() >= mutationRate {
		return individual
	}

	mutated := individual.Clone()
	for _, pd := range domains {
		if rng.Float64() < geneRate {
			mutated[pd.Name] = pd.Domain.Sample(rng)
		}
	}

	return mutated
}
