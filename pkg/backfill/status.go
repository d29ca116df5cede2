package backfill

import (
	"time"

	"github.com/groundskeeper/groundskeeper/pkg/state"
)

type (
	// ChunkCounts aggregates chunk states for a run.
	ChunkCounts struct {
		Total   int `json:"total"`
		Pending int `json:"pending"`
		Running int `json:"running"`
		Done    int `json:"done"`
		Failed  int `json:"failed"`
		Skipped int `json:"skipped"`
	}

	// Summary is a derived, read-only aggregate of a run. It is never
	// persisted; it is recomputed from the run state on demand, so it is
	// safe to produce at any time, including mid-execution from another
	// process.
	Summary struct {
		PlanID       string      `json:"plan_id"`
		Target       string      `json:"target"`
		Status       PlanStatus  `json:"status"`
		Chunks       ChunkCounts `json:"chunks"`
		Attempts     int         `json:"attempts"`
		UpdatedAt    time.Time   `json:"updated_at"`
		LastError    string      `json:"last_error,omitempty"`
		RunPath      string      `json:"run_path"`
		EventLogPath string      `json:"event_log_path"`
	}
)

// Summarize computes the status summary for a run. No side effects.
func Summarize(store *state.Store, run *Run) *Summary {
	summary := &Summary{
		PlanID:       run.PlanID,
		Target:       run.Target,
		Status:       run.Status,
		UpdatedAt:    run.UpdatedAt,
		LastError:    run.LastError,
		RunPath:      store.RunPath(run.PlanID),
		EventLogPath: store.EventLogPath(run.PlanID),
	}

	summary.Chunks.Total = len(run.Chunks)
	for i := range run.Chunks {
		chunk := &run.Chunks[i]
		summary.Attempts += chunk.Attempts

		switch chunk.Status {
		case ChunkPending:
			summary.Chunks.Pending++
		case ChunkRunning:
			summary.Chunks.Running++
		case ChunkDone:
			summary.Chunks.Done++
		case ChunkFailed:
			summary.Chunks.Failed++
		case ChunkSkipped:
			summary.Chunks.Skipped++
		}
	}

	return summary
}
