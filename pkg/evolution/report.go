package evolution

import (
	"fmt"
	"strings"
	"time"
)

// Summary renders the best parameters and per-generation fitness for logs or display
func (r *Result) Summary() string {
	var sb strings.Builder

	sb.WriteString(`
================================================================================
PARAMETER OPTIMIZATION REPORT
================================================================================
`)
	sb.WriteString(fmt.Sprintf("\nRun:              %s\n", r.RunID))
	sb.WriteString(fmt.Sprintf("Strategy:         %s\n", r.Strategy))
	sb.WriteString(fmt.Sprintf("Generations:      %d\n", len(r.History)))
	sb.WriteString(fmt.Sprintf("Evaluations:      %d (%d failed)\n", r.Evaluations, r.Failures))
	sb.WriteString(fmt.Sprintf("Duration:         %s\n", r.Duration.Round(time.Millisecond)))

	sb.WriteString("\nBEST CANDIDATE\n--------------\n")
	if r.Best == nil {
		sb.WriteString("none\n")
	} else {
		sb.WriteString(fmt.Sprintf("Fitness:          %.4f (generation %d)\n", r.Best.Fitness, r.Best.Generation))
		for _, name := range r.Best.Params.Keys() {
			sb.WriteString(fmt.Sprintf("  %-16s %g\n", name, r.Best.Params[name]))
		}
		if m := r.Best.Metrics; m != nil {
			sb.WriteString(fmt.Sprintf("Sharpe Ratio:     %.2f\n", m.SharpeRatio))
			sb.WriteString(fmt.Sprintf("Total Return:     %.2f%%\n", m.TotalReturn*100))
			sb.WriteString(fmt.Sprintf("Max Drawdown:     %.2f%%\n", m.MaxDrawdown*100))
			sb.WriteString(fmt.Sprintf("Win Rate:         %.2f%%\n", m.WinRate*100))
		}
	}

	sb.WriteString("\nCONVERGENCE\n-----------\n")
	sb.WriteString(fmt.Sprintf("%-12s %14s %14s %8s\n", "Generation", "Best", "Average", "Failed"))
	for _, rec := range r.History {
		sb.WriteString(fmt.Sprintf("%-12d %14.4f %14.4f %8d\n", rec.Generation, rec.MaxFitness, rec.MeanFitness, rec.Failed))
	}

	sb.WriteString("\n================================================================================\n")

	return sb.String()
}
