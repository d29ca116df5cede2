package backfill

import (
	"testing"
	"time"

	"github.com/groundskeeper/groundskeeper/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoChunkPlan(t *testing.T) *Plan {
	t.Helper()

	opts := ResolveOptions(nil)
	opts.ChunkHours = 24

	plan, _, _, err := CreatePlan(state.New(t.TempDir()),
		testPlanRequest(mustTime(t, "2024-01-01T00:00:00Z"), mustTime(t, "2024-01-03T00:00:00Z")),
		opts, ResolvePolicy(nil), ResolveLimits(nil))
	require.NoError(t, err)
	return plan
}

func TestNewRun(t *testing.T) {
	plan := twoChunkPlan(t)
	run := NewRun(plan)

	assert.Equal(t, plan.PlanID, run.PlanID)
	assert.Equal(t, plan.Target, run.Target)
	assert.Equal(t, PlanPlanned, run.Status)
	assert.Equal(t, plan.Options.CompatibilityToken(), run.CompatibilityToken)
	require.Len(t, run.Chunks, 2)
	for _, chunk := range run.Chunks {
		assert.Equal(t, ChunkPending, chunk.Status)
	}
}

func TestMergeResetsRunningChunks(t *testing.T) {
	plan := twoChunkPlan(t)
	run := NewRun(plan)

	started := time.Now().UTC()
	run.Chunks[0].Status = ChunkRunning
	run.Chunks[0].Attempts = 1
	run.Chunks[0].StartedAt = &started

	run.merge(plan, false, false)

	assert.Equal(t, ChunkPending, run.Chunks[0].Status)
	// Attempts are kept; the crashed attempt still counts toward the budget
	assert.Equal(t, 1, run.Chunks[0].Attempts)
}

func TestMergeReplayFlags(t *testing.T) {
	plan := twoChunkPlan(t)
	run := NewRun(plan)

	run.Chunks[0].Status = ChunkDone
	run.Chunks[0].Attempts = 2
	run.Chunks[1].Status = ChunkFailed
	run.Chunks[1].Attempts = 3
	run.Chunks[1].LastError = "boom"

	// Without replay flags terminal chunks are untouched
	run.merge(plan, false, false)
	assert.Equal(t, ChunkDone, run.Chunks[0].Status)
	assert.Equal(t, ChunkFailed, run.Chunks[1].Status)

	// Replay-failed resets only failed chunks
	run.merge(plan, false, true)
	assert.Equal(t, ChunkDone, run.Chunks[0].Status)
	assert.Equal(t, ChunkPending, run.Chunks[1].Status)
	assert.Zero(t, run.Chunks[1].Attempts)
	assert.Empty(t, run.Chunks[1].LastError)
	assert.True(t, run.ReplayFailed)

	// Replay-done resets done chunks
	run.merge(plan, true, false)
	assert.Equal(t, ChunkPending, run.Chunks[0].Status)
	assert.Zero(t, run.Chunks[0].Attempts)
	assert.True(t, run.ReplayDone)
}

func TestMergePadsMissingChunks(t *testing.T) {
	plan := twoChunkPlan(t)
	run := NewRun(plan)

	// A hand-edited run file lost a chunk entry
	run.Chunks = run.Chunks[:1]
	run.merge(plan, false, false)

	require.Len(t, run.Chunks, 2)
	assert.Equal(t, ChunkPending, run.Chunks[1].Status)
}

func TestPendingChunks(t *testing.T) {
	plan := twoChunkPlan(t)
	run := NewRun(plan)

	assert.Equal(t, []int{0, 1}, run.pendingChunks())

	run.Chunks[0].Status = ChunkDone
	assert.Equal(t, []int{1}, run.pendingChunks())

	run.Chunks[1].Status = ChunkFailed
	assert.Empty(t, run.pendingChunks())
}

func TestFinalStatus(t *testing.T) {
	plan := twoChunkPlan(t)

	run := NewRun(plan)
	run.Chunks[0].Status = ChunkDone
	run.Chunks[1].Status = ChunkDone
	assert.Equal(t, PlanCompleted, run.finalStatus())

	run.Chunks[1].Status = ChunkSkipped
	assert.Equal(t, PlanCompleted, run.finalStatus())

	run.Chunks[1].Status = ChunkPending
	assert.Equal(t, PlanPaused, run.finalStatus())

	// Failed wins over everything
	run.Chunks[1].Status = ChunkFailed
	assert.Equal(t, PlanFailed, run.finalStatus())
}
