package evolution

import "time"

// GenerationRecord captures convergence statistics for one evaluated generation
type GenerationRecord struct {
	Generation  int           `json:"generation"`
	MaxFitness  float64       `json:"max_fitness"`
	MeanFitness float64       `json:"mean_fitness"`
	BestParams  ParameterSet  `json:"best_params"`
	BestID      string        `json:"best_id"`
	Evaluated   int           `json:"evaluated"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration"`
}

// ConvergenceHistory is the ordered list of generation records of a run
type ConvergenceHistory []GenerationRecord

// Record snapshots a scored population. It never modifies a candidate.
func Record(pop *Population, elapsed time.Duration) GenerationRecord {
	rec := GenerationRecord{
		Generation:  pop.Generation,
		MaxFitness:  pop.MaxFitness(),
		MeanFitness: pop.MeanFitness(),
		Evaluated:   pop.Size(),
		Failed:      pop.FailedCount(),
		Duration:    elapsed,
	}
	if best := pop.Best(); best != nil {
		rec.BestParams = best.Params.Clone()
		rec.BestID = best.ID.String()
	}
	return rec
}

// BestFitness returns the highest MaxFitness across the history
func (h ConvergenceHistory) BestFitness() float64 {
	if len(h) == 0 {
		return 0
	}
	best := h[0].MaxFitness
	for _, rec := range h[1:] {
		if rec.MaxFitness > best {
			best = rec.MaxFitness
		}
	}
	return best
}

// Improvement is the gain of the last generation's max fitness over the first one
func (h ConvergenceHistory) Improvement() float64 {
	if len(h) < 2 {
		return 0
	}
	return h[len(h)-1].MaxFitness - h[0].MaxFitness
}
