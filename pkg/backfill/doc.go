// Package backfill implements planning, execution, and diagnosis of
// long-running, time-windowed data backfills against ClickHouse.
//
// A backfill is described once as a Plan: a target object, a contiguous
// [from, to) time window sliced into chunks, a caller-supplied SQL template,
// and the resolved options, policy, and limits in effect at creation time.
// Plans are immutable and bound to the environment fingerprint of the
// database they were created against.
//
// Execution is driven by the Coordinator, which dispatches chunks with
// bounded concurrency, retries failed attempts in place, and durably
// checkpoints the Run state after every terminal chunk attempt. A crashed or
// cancelled run can always be resumed: the on-disk run reflects exactly the
// chunks that reached a terminal state, and resume re-dispatches only the
// rest (plus any chunks explicitly requested for replay).
//
// # Core Components
//
//   - CreatePlan: validates a window, slices it into chunks, derives
//     deterministic idempotency tokens, and persists the plan
//   - Coordinator: bounded-concurrency execution with per-chunk retry,
//     checkpointing, resumption, and cancellation
//   - CheckEnvironment / CheckCompatibility / CheckOverlap: guards applied
//     before any execution starts
//   - Summarize / Diagnose: read-only status aggregation and doctor
//     diagnostics
//   - EvaluatePolicy: the preflight policy gate producing structured findings
//
// # Idempotency
//
// Each chunk carries a token derived from the plan id and chunk boundaries.
// SQL templates reference it via {{token}}, so a statement re-executed after
// a partial failure (e.g. a network drop mid-statement) can be deduplicated
// by the target table. When require_idempotency_token is enabled, templates
// that don't reference the token are rejected at plan-build time.
package backfill
