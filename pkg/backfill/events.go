package backfill

import "time"

// Event is one line in a plan's append-only event log. The log records
// chunk transitions and forced overrides for audit and debugging; it is
// never read back for correctness.
type Event struct {
	Timestamp time.Time `json:"ts"`
	PlanID    string    `json:"plan_id"`
	ChunkID   *int      `json:"chunk_id,omitempty"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
}

// Event names recorded by the coordinator.
const (
	EventRunStarted    = "run_started"
	EventRunResumed    = "run_resumed"
	EventRunCompleted  = "run_completed"
	EventRunFailed     = "run_failed"
	EventRunCancelled  = "run_cancelled"
	EventChunkStarted  = "chunk_started"
	EventChunkDone     = "chunk_done"
	EventChunkFailed   = "chunk_failed"
	EventChunkRetried  = "chunk_retried"
	EventForceOverride = "force_override"
)
