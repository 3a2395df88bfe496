package orchestrator

import (
	"time"

	"github.com/vitebski/sp-batch-runner/pkg/models"
)

// Summarize aggregates per-procedure results into a batch summary
func Summarize(runID string, results []models.ProcessingResult, outputDir string, wallClock time.Duration) *models.BatchSummary {
	summary := &models.BatchSummary{
		RunID:           runID,
		Total:           len(results),
		Errors:          []models.ProcedureError{},
		OutputDirectory: outputDir,
		WallClock:       wallClock,
		Results:         results,
	}

	for i, r := range results {
		if r.Success {
			summary.Successful++
		} else {
			summary.Errors = append(summary.Errors, models.ProcedureError{
				Procedure: r.Procedure.Name,
				Error:     r.ErrorMessage,
			})
		}
		if r.DefinitionSaved {
			summary.DefinitionsSaved++
		}
		if r.InputSaved {
			summary.InputsSaved++
		}
		if r.OutputSaved {
			summary.OutputsSaved++
		}

		summary.Timing.TotalSeconds += r.ElapsedSeconds
		if i == 0 || r.ElapsedSeconds < summary.Timing.FastestSeconds {
			summary.Timing.FastestSeconds = r.ElapsedSeconds
		}
		if r.ElapsedSeconds > summary.Timing.SlowestSeconds {
			summary.Timing.SlowestSeconds = r.ElapsedSeconds
		}
	}

	summary.Failed = summary.Total - summary.Successful
	summary.Success = summary.Successful == summary.Total
	if summary.Total > 0 {
		summary.Timing.AverageSeconds = summary.Timing.TotalSeconds / float64(summary.Total)
	}

	return summary
}
