package backfill

import (
	"fmt"
	"time"

	"github.com/groundskeeper/groundskeeper/pkg/state"
)

type (
	// Issue is one problem doctor identified in a plan/run.
	Issue struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}

	// Diagnosis is the result of inspecting a plan and its run. Doctor
	// never mutates state; recommendations name the command or flag that
	// performs the recovery.
	Diagnosis struct {
		PlanID          string   `json:"plan_id"`
		Healthy         bool     `json:"healthy"`
		Issues          []Issue  `json:"issues,omitempty"`
		Recommendations []string `json:"recommendations,omitempty"`
	}
)

// Doctor issue codes.
const (
	IssueChunkStuckRunning    = "chunk_stuck_running"
	IssueChunkRetryExhausted  = "chunk_failed_retry_exhausted"
	IssueRunFailed            = "run_failed"
	IssueRunCancelled         = "run_cancelled"
	IssueStaleLock            = "stale_run_lock"
	IssueRunMissing           = "run_missing"
	IssueEnvironmentUnbound   = "environment_unbound"
	IssueCancelMarkerLeftover = "cancel_marker_leftover"
)

// DefaultStaleRunningThreshold is how long a chunk may sit in running
// before doctor reports it as stuck.
const DefaultStaleRunningThreshold = 30 * time.Minute

// Diagnose classifies a plan/run into issue codes and recovery
// recommendations. run may be nil when no run exists yet.
func Diagnose(store *state.Store, plan *Plan, run *Run, now time.Time, staleAfter time.Duration) (*Diagnosis, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleRunningThreshold
	}

	d := &Diagnosis{PlanID: plan.PlanID}

	if plan.Environment == nil {
		d.addIssue(IssueEnvironmentUnbound,
			"plan was created offline and is not bound to an environment",
			"verify the target database before running; plans without a fingerprint run anywhere")
	}

	lockInfo, err := store.ReadRunLock(plan.PlanID)
	if err != nil {
		return nil, err
	}

	if run == nil {
		d.addIssue(IssueRunMissing,
			"plan has never been run",
			fmt.Sprintf("start it with `groundskeeper run --plan %s`", plan.PlanID))
		d.Healthy = len(d.Issues) == 0
		return d, nil
	}

	// A lock with no recent run progress means a coordinator crashed
	// without releasing it.
	if lockInfo != nil && now.Sub(run.UpdatedAt) > staleAfter {
		d.addIssue(IssueStaleLock,
			fmt.Sprintf("run lock held by pid %d since %s but the run has not progressed since %s",
				lockInfo.PID,
				lockInfo.AcquiredAt.Format(time.RFC3339),
				run.UpdatedAt.Format(time.RFC3339)),
			"if that process is gone, remove the lock file and resume")
	}

	if store.CancelRequested(plan.PlanID) && lockInfo == nil {
		d.addIssue(IssueCancelMarkerLeftover,
			"a cancel marker exists but no coordinator is active",
			"the marker is cleared automatically on the next run or resume")
	}

	for i := range run.Chunks {
		chunk := &run.Chunks[i]

		switch chunk.Status {
		case ChunkRunning:
			if chunk.StartedAt != nil && now.Sub(*chunk.StartedAt) > staleAfter {
				d.addIssue(IssueChunkStuckRunning,
					fmt.Sprintf("chunk %d has been running since %s (threshold %s)",
						chunk.ID, chunk.StartedAt.Format(time.RFC3339), staleAfter),
					fmt.Sprintf("investigate chunk %d; if its coordinator died, resume re-dispatches it", chunk.ID))
			}
		case ChunkFailed:
			d.addIssue(IssueChunkRetryExhausted,
				fmt.Sprintf("chunk %d failed after %d attempts: %s", chunk.ID, chunk.Attempts, chunk.LastError),
				fmt.Sprintf("investigate chunk %d's last error, then resume with `--replay-failed`", chunk.ID))
		}
	}

	switch run.Status {
	case PlanFailed:
		d.addIssue(IssueRunFailed,
			fmt.Sprintf("run failed: %s", run.LastError),
			"resume with `--replay-failed` once the underlying cause is fixed")
	case PlanCancelled:
		d.addIssue(IssueRunCancelled,
			"run was cancelled",
			"resume to continue from the last checkpoint")
	}

	d.Healthy = len(d.Issues) == 0
	return d, nil
}

func (d *Diagnosis) addIssue(code, message, recommendation string) {
	d.Issues = append(d.Issues, Issue{Code: code, Message: message})
	if recommendation != "" {
		d.Recommendations = append(d.Recommendations, recommendation)
	}
}
