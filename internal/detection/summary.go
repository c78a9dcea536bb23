package detection

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Summarize reports counts and error statistics for a scored batch.
func Summarize(scored []models.ScoredEvent, threshold float64) models.AnalysisSummary {
	summary := models.AnalysisSummary{TotalEvents: len(scored), Threshold: threshold}
	if len(scored) == 0 {
		return summary
	}

	errs := make([]float64, len(scored))
	for i, ev := range scored {
		errs[i] = ev.ReconstructionError
		if ev.IsAnomaly {
			summary.AnomalyCount++
		}
	}
	summary.NormalCount = summary.TotalEvents - summary.AnomalyCount
	summary.AnomalyRate = float64(summary.AnomalyCount) / float64(summary.TotalEvents)
	summary.MeanError = stat.Mean(errs, nil)
	summary.MaxError = floats.Max(errs)
	summary.MinError = floats.Min(errs)
	return summary
}
