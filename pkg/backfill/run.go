package backfill

import (
	"time"

	"github.com/groundskeeper/groundskeeper/pkg/state"
	"github.com/pkg/errors"
)

type (
	// RunChunk is the runtime state of one chunk within a run: the plan's
	// chunk plus execution timestamps.
	RunChunk struct {
		Chunk

		StartedAt   *time.Time `json:"started_at,omitempty"`
		CompletedAt *time.Time `json:"completed_at,omitempty"`
	}

	// Run is the mutable, persisted record of one execution attempt of a
	// plan. The run is the single source of truth for what actually
	// happened; the plan records only what was intended.
	Run struct {
		PlanID    string     `json:"plan_id"`
		Target    string     `json:"target"`
		Status    PlanStatus `json:"status"`
		CreatedAt time.Time  `json:"created_at"`
		StartedAt time.Time  `json:"started_at"`

		// UpdatedAt is bumped on every persisted transition
		UpdatedAt   time.Time  `json:"updated_at"`
		CompletedAt *time.Time `json:"completed_at,omitempty"`
		LastError   string     `json:"last_error,omitempty"`

		// ReplayDone / ReplayFailed record whether a resume chose to
		// re-execute chunks already marked done/failed
		ReplayDone   bool `json:"replay_done"`
		ReplayFailed bool `json:"replay_failed"`

		// CompatibilityToken is the hash of the options the run began with;
		// resume refuses to continue if the current options hash differs
		CompatibilityToken string `json:"compatibility_token"`

		// ForcedOverrides records any --force-* flags used, for audit
		ForcedOverrides []string `json:"forced_overrides,omitempty"`

		Chunks []RunChunk `json:"chunks"`
	}
)

// NewRun initializes a fresh run from a plan.
func NewRun(plan *Plan) *Run {
	now := time.Now().UTC()

	chunks := make([]RunChunk, len(plan.Chunks))
	for i, chunk := range plan.Chunks {
		chunks[i] = RunChunk{Chunk: chunk}
		chunks[i].Status = ChunkPending
	}

	return &Run{
		PlanID:             plan.PlanID,
		Target:             plan.Target,
		Status:             PlanPlanned,
		CreatedAt:          now,
		UpdatedAt:          now,
		CompatibilityToken: plan.Options.CompatibilityToken(),
		Chunks:             chunks,
	}
}

// LoadRun reads a persisted run.
func LoadRun(store *state.Store, planID string) (*Run, error) {
	exists, err := store.RunExists(planID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Errorf("no run found for plan %s", planID)
	}

	var run Run
	if err := store.ReadRun(planID, &run); err != nil {
		return nil, err
	}

	return &run, nil
}

// merge reconciles a loaded run with its plan: chunks added by a newer plan
// (which cannot happen for immutable plans, but guards against hand-edited
// state) default to pending, and replay flags reset targeted terminal chunks.
func (r *Run) merge(plan *Plan, replayDone, replayFailed bool) {
	if len(r.Chunks) != len(plan.Chunks) {
		chunks := make([]RunChunk, len(plan.Chunks))
		for i, chunk := range plan.Chunks {
			if i < len(r.Chunks) {
				chunks[i] = r.Chunks[i]
				continue
			}
			chunks[i] = RunChunk{Chunk: chunk}
			chunks[i].Status = ChunkPending
		}
		r.Chunks = chunks
	}

	r.ReplayDone = replayDone
	r.ReplayFailed = replayFailed

	for i := range r.Chunks {
		chunk := &r.Chunks[i]

		// A chunk left running on disk means the previous coordinator
		// crashed mid-attempt; it is re-dispatched.
		if chunk.Status == ChunkRunning {
			chunk.Status = ChunkPending
			continue
		}

		if replayDone && (chunk.Status == ChunkDone || chunk.Status == ChunkSkipped) {
			r.resetChunk(chunk)
		}
		if replayFailed && chunk.Status == ChunkFailed {
			r.resetChunk(chunk)
		}
	}
}

func (r *Run) resetChunk(chunk *RunChunk) {
	chunk.Status = ChunkPending
	chunk.Attempts = 0
	chunk.LastError = ""
	chunk.StartedAt = nil
	chunk.CompletedAt = nil
}

// pendingChunks returns the ids of chunks awaiting dispatch, in plan order.
func (r *Run) pendingChunks() []int {
	var ids []int
	for i := range r.Chunks {
		if r.Chunks[i].Status == ChunkPending {
			ids = append(ids, i)
		}
	}
	return ids
}

// finalStatus derives the run's terminal status from its chunk states.
func (r *Run) finalStatus() PlanStatus {
	for i := range r.Chunks {
		if r.Chunks[i].Status == ChunkFailed {
			return PlanFailed
		}
	}
	for i := range r.Chunks {
		switch r.Chunks[i].Status {
		case ChunkDone, ChunkSkipped:
		default:
			return PlanPaused
		}
	}
	return PlanCompleted
}
