package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/groundskeeper/groundskeeper/pkg/clickhouse"
	"github.com/groundskeeper/groundskeeper/pkg/state"
	"github.com/pkg/errors"
)

type (
	// Coordinator drives chunk execution for one plan: bounded concurrency,
	// per-chunk retry, durable checkpointing, and resumption.
	//
	// The coordinator is the single writer of the run document. Chunk
	// executions run concurrently, but every terminal attempt outcome flows
	// back through the coordinator, which persists the full run state before
	// making the next dispatch decision. That write is the resumability
	// guarantee: after a crash, the run on disk reflects exactly the chunks
	// that reached a terminal attempt state.
	//
	// Example usage:
	//
	//	coord := backfill.NewCoordinator(store, client)
	//	run, err := coord.Start(ctx, plan, backfill.ExecuteOptions{
	//		Environment: client.Fingerprint(),
	//	})
	Coordinator struct {
		store    *state.Store
		executor clickhouse.Executor

		// retryDelay spaces retry attempts for a failing chunk. Tests
		// shrink it; zero means the default.
		retryDelay time.Duration
	}

	// ExecuteOptions control one execution attempt of a plan.
	ExecuteOptions struct {
		// ReplayDone re-executes chunks already marked done or skipped
		ReplayDone bool

		// ReplayFailed re-executes chunks failed with retries exhausted
		ReplayFailed bool

		// ForceOverlap bypasses the cross-target overlap guard
		ForceOverlap bool

		// ForceEnvironment bypasses the environment fingerprint guard
		ForceEnvironment bool

		// ForceCompatibility bypasses the option-drift guard on resume
		ForceCompatibility bool

		// Environment is the fingerprint of the active database
		// configuration, checked against the plan's binding
		Environment clickhouse.Fingerprint

		// Simulate injects deterministic chunk failures for testing the
		// retry/resume state machine
		Simulate *Simulation
	}

	// Simulation forces a designated chunk to fail for a bounded number of
	// attempts. It exists purely to make retry/resume behavior
	// deterministically testable without real database fault injection.
	Simulation struct {
		FailChunkID int `json:"fail_chunk_id"`
		FailCount   int `json:"fail_count"`
	}

	chunkResult struct {
		idx       int
		attempts  int
		err       error
		completed time.Time
	}
)

const defaultRetryDelay = 250 * time.Millisecond

// NewCoordinator creates an execution coordinator backed by the given state
// store and SQL executor.
func NewCoordinator(store *state.Store, executor clickhouse.Executor) *Coordinator {
	return &Coordinator{store: store, executor: executor}
}

// Start begins a fresh run of the plan. If a run already exists for the
// plan it must be resumed instead; Start refuses to clobber it.
func (c *Coordinator) Start(ctx context.Context, plan *Plan, opts ExecuteOptions) (*Run, error) {
	if err := CheckEnvironment(plan, opts.Environment, opts.ForceEnvironment); err != nil {
		return nil, err
	}
	if err := CheckOverlap(c.store, plan, opts.ForceOverlap); err != nil {
		return nil, err
	}

	exists, err := c.store.RunExists(plan.PlanID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.Errorf(
			"a run already exists for plan %s; use resume to continue it", plan.PlanID,
		)
	}

	run := NewRun(plan)
	c.recordOverrides(run, opts)
	c.logEvent(plan.PlanID, nil, EventRunStarted, fmt.Sprintf("target=%s chunks=%d", plan.Target, len(run.Chunks)))

	return run, c.execute(ctx, plan, run, opts)
}

// Resume continues an existing run. By default chunks already done are not
// re-executed and chunks failed with retries exhausted stay failed; the
// ReplayDone/ReplayFailed options reset the targeted chunks to pending
// before dispatch. Resuming a run in a terminal state requires an explicit
// replay decision.
func (c *Coordinator) Resume(ctx context.Context, plan *Plan, opts ExecuteOptions) (*Run, error) {
	if err := CheckEnvironment(plan, opts.Environment, opts.ForceEnvironment); err != nil {
		return nil, err
	}

	run, err := LoadRun(c.store, plan.PlanID)
	if err != nil {
		return nil, err
	}

	if err := CheckCompatibility(run, plan.Options, opts.ForceCompatibility); err != nil {
		return nil, err
	}

	if run.Status.IsTerminal() && !opts.ReplayDone && !opts.ReplayFailed {
		return nil, errors.Errorf(
			"run for plan %s already finished with status %s; pass --replay-done or --replay-failed to re-execute",
			plan.PlanID, run.Status,
		)
	}

	run.merge(plan, opts.ReplayDone, opts.ReplayFailed)
	c.recordOverrides(run, opts)
	c.logEvent(plan.PlanID, nil, EventRunResumed,
		fmt.Sprintf("replay_done=%t replay_failed=%t", opts.ReplayDone, opts.ReplayFailed))

	return run, c.execute(ctx, plan, run, opts)
}

// Cancel requests cancellation of a plan's run. If a coordinator is live it
// observes the marker before its next dispatch, lets in-flight attempts
// finish, and exits with the run marked cancelled. If no coordinator is
// live the run document is transitioned directly.
func (c *Coordinator) Cancel(planID string) (*Run, error) {
	if err := c.store.RequestCancel(planID); err != nil {
		return nil, err
	}

	lockInfo, err := c.store.ReadRunLock(planID)
	if err != nil {
		return nil, err
	}
	if lockInfo != nil {
		// A live coordinator owns the run file; it will pick the marker up.
		slog.Info("Cancellation requested; coordinator will stop after in-flight chunks",
			"plan_id", planID, "pid", lockInfo.PID)
		return LoadRun(c.store, planID)
	}

	exists, err := c.store.RunExists(planID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Errorf("no run found for plan %s", planID)
	}

	run, err := LoadRun(c.store, planID)
	if err != nil {
		return nil, err
	}

	if !run.Status.IsTerminal() {
		now := time.Now().UTC()
		run.Status = PlanCancelled
		run.UpdatedAt = now
		run.CompletedAt = &now
		if err := c.store.WriteRun(planID, run); err != nil {
			return nil, errors.Wrap(err, "failed to persist cancelled run")
		}
		c.logEvent(planID, nil, EventRunCancelled, "cancelled while no coordinator was active")
	}

	_ = c.store.ClearCancel(planID)

	return run, nil
}

// execute runs the dispatch loop. The run lock is held for its duration so
// exactly one coordinator owns the plan's run file and event log.
func (c *Coordinator) execute(ctx context.Context, plan *Plan, run *Run, opts ExecuteOptions) error {
	lock, err := c.store.AcquireRunLock(plan.PlanID)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	// A stale marker from an earlier cancel must not stop this run.
	_ = c.store.ClearCancel(plan.PlanID)

	now := time.Now().UTC()
	run.Status = PlanRunning
	run.StartedAt = now
	run.UpdatedAt = now
	run.CompletedAt = nil
	run.LastError = ""
	if err := c.checkpoint(run); err != nil {
		return err
	}

	pending := run.pendingChunks()
	slog.Info("Dispatching backfill chunks",
		"plan_id", plan.PlanID,
		"target", plan.Target,
		"pending", len(pending),
		"max_parallel", plan.Options.MaxParallelChunks,
	)

	results := make(chan chunkResult)
	next := 0
	inflight := 0
	cancelled := false

	for {
		// Dispatch while slots are free. Persistence is the ordering
		// barrier: a chunk is marked running and checkpointed before its
		// goroutine starts.
		for !cancelled && inflight < plan.Options.MaxParallelChunks && next < len(pending) {
			if ctx.Err() != nil || c.store.CancelRequested(plan.PlanID) {
				cancelled = true
				break
			}

			idx := pending[next]
			next++

			started := time.Now().UTC()
			chunk := &run.Chunks[idx]
			chunk.Status = ChunkRunning
			chunk.StartedAt = &started
			run.UpdatedAt = started
			if err := c.checkpoint(run); err != nil {
				return err
			}
			c.logEvent(plan.PlanID, &chunk.Chunk.ID, EventChunkStarted,
				fmt.Sprintf("window=[%s, %s)", chunk.From.Format(time.RFC3339), chunk.To.Format(time.RFC3339)))

			go c.executeChunk(ctx, plan, run.Chunks[idx], idx, opts.Simulate, results)
			inflight++
		}

		if inflight == 0 {
			break
		}

		res := <-results
		inflight--
		if err := c.applyResult(plan, run, res); err != nil {
			return err
		}

		if !cancelled && (ctx.Err() != nil || c.store.CancelRequested(plan.PlanID)) {
			cancelled = true
		}
	}

	return c.finish(plan, run, cancelled)
}

// executeChunk performs the attempts for one chunk and reports the terminal
// outcome. Retries happen in place up to MaxRetriesPerChunk; errors marked
// fatal by the executor stop retrying immediately.
func (c *Coordinator) executeChunk(ctx context.Context, plan *Plan, chunk RunChunk, idx int, sim *Simulation, results chan<- chunkResult) {
	statement := RenderStatement(plan, &chunk.Chunk)
	attempts := chunk.Attempts

	var lastErr error
	for attempts < plan.Options.MaxRetriesPerChunk {
		if attempts > chunk.Attempts {
			c.logEvent(plan.PlanID, &chunk.Chunk.ID, EventChunkRetried,
				fmt.Sprintf("attempt=%d", attempts+1))
			select {
			case <-time.After(c.delay()):
			case <-ctx.Done():
				// Interrupted between attempts: every counted attempt ran
				// to completion, so the count stands.
				results <- chunkResult{idx: idx, attempts: attempts, err: ctx.Err(), completed: time.Now().UTC()}
				return
			}
		}

		attempts++
		lastErr = c.attempt(ctx, statement, chunk.Chunk.ID, attempts, sim)
		if lastErr == nil {
			break
		}
		if errors.Is(lastErr, context.Canceled) {
			// Aborted mid-flight: this attempt never finished and does not
			// count against the retry budget.
			attempts--
			break
		}
		if clickhouse.IsFatal(lastErr) {
			break
		}
	}

	results <- chunkResult{
		idx:       idx,
		attempts:  attempts,
		err:       lastErr,
		completed: time.Now().UTC(),
	}
}

func (c *Coordinator) attempt(ctx context.Context, statement string, chunkID, attempt int, sim *Simulation) error {
	if sim != nil && sim.FailChunkID == chunkID && attempt <= sim.FailCount {
		return errors.Errorf("simulated failure for chunk %d (attempt %d)", chunkID, attempt)
	}

	return c.executor.Execute(ctx, statement)
}

// applyResult records a chunk's terminal attempt outcome and durably
// checkpoints the run before the next dispatch decision. A checkpoint
// failure is fatal to the run: execution must not continue once the source
// of truth cannot be updated.
func (c *Coordinator) applyResult(plan *Plan, run *Run, res chunkResult) error {
	chunk := &run.Chunks[res.idx]
	completed := res.completed
	chunk.Attempts = res.attempts
	chunk.CompletedAt = &completed

	if res.err != nil && errors.Is(res.err, context.Canceled) {
		// Interrupted, not failed: the chunk goes back to pending so a
		// plain resume picks it up, keeping the attempts that actually ran.
		// Its idempotency token makes re-execution of a partially applied
		// statement safe.
		chunk.Status = ChunkPending
		chunk.CompletedAt = nil
		run.UpdatedAt = time.Now().UTC()
		return c.checkpoint(run)
	}

	if res.err != nil {
		chunk.Status = ChunkFailed
		chunk.LastError = res.err.Error()
		run.LastError = res.err.Error()
		c.logEvent(plan.PlanID, &chunk.Chunk.ID, EventChunkFailed,
			fmt.Sprintf("attempts=%d error=%s", chunk.Attempts, chunk.LastError))
		slog.Warn("Chunk failed",
			"plan_id", plan.PlanID, "chunk", chunk.Chunk.ID,
			"attempts", chunk.Attempts, "error", res.err)
	} else {
		chunk.Status = ChunkDone
		chunk.LastError = ""
		c.logEvent(plan.PlanID, &chunk.Chunk.ID, EventChunkDone,
			fmt.Sprintf("attempts=%d", chunk.Attempts))
	}

	run.UpdatedAt = time.Now().UTC()
	return c.checkpoint(run)
}

func (c *Coordinator) finish(plan *Plan, run *Run, cancelled bool) error {
	now := time.Now().UTC()
	run.UpdatedAt = now

	if cancelled {
		run.Status = PlanCancelled
		run.CompletedAt = &now
		_ = c.store.ClearCancel(plan.PlanID)
		c.logEvent(plan.PlanID, nil, EventRunCancelled, "stopped dispatching; in-flight chunks finished")
		slog.Info("Run cancelled", "plan_id", plan.PlanID)
		return c.checkpoint(run)
	}

	run.Status = run.finalStatus()
	switch run.Status {
	case PlanCompleted:
		run.CompletedAt = &now
		c.logEvent(plan.PlanID, nil, EventRunCompleted, "")
		slog.Info("Run completed", "plan_id", plan.PlanID)
	case PlanFailed:
		run.CompletedAt = &now
		c.logEvent(plan.PlanID, nil, EventRunFailed, run.LastError)
		slog.Warn("Run failed", "plan_id", plan.PlanID, "error", run.LastError)
	default:
		// Paused: pending chunks remain, nothing in flight.
	}

	return c.checkpoint(run)
}

func (c *Coordinator) checkpoint(run *Run) error {
	if err := c.store.WriteRun(run.PlanID, run); err != nil {
		return errors.Wrap(err, "failed to checkpoint run state")
	}
	return nil
}

// recordOverrides notes any --force-* overrides on the run and in the event
// log so risky decisions remain auditable.
func (c *Coordinator) recordOverrides(run *Run, opts ExecuteOptions) {
	var forced []string
	if opts.ForceOverlap {
		forced = append(forced, "force-overlap")
	}
	if opts.ForceEnvironment {
		forced = append(forced, "force-environment")
	}
	if opts.ForceCompatibility {
		forced = append(forced, "force-compatibility")
	}

	for _, name := range forced {
		c.logEvent(run.PlanID, nil, EventForceOverride, name)
	}
	run.ForcedOverrides = append(run.ForcedOverrides, forced...)
}

func (c *Coordinator) logEvent(planID string, chunkID *int, name, detail string) {
	err := c.store.AppendEvent(planID, Event{
		Timestamp: time.Now().UTC(),
		PlanID:    planID,
		ChunkID:   chunkID,
		Event:     name,
		Detail:    detail,
	})
	if err != nil {
		// The event log is diagnostics only; losing an entry is not fatal.
		slog.Warn("Failed to append event", "plan_id", planID, "event", name, "error", err)
	}
}

func (c *Coordinator) delay() time.Duration {
	if c.retryDelay > 0 {
		return c.retryDelay
	}
	return defaultRetryDelay
}
