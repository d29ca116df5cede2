package backfill

import (
	"fmt"

	"github.com/groundskeeper/groundskeeper/pkg/state"
)

type (
	// Severity grades a policy finding. The gate itself never blocks
	// execution; the host decides whether error-severity findings fail the
	// check.
	Severity string

	// Finding is one structured result of the preflight policy gate.
	Finding struct {
		Code     string         `json:"code"`
		Message  string         `json:"message"`
		Severity Severity       `json:"severity"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}
)

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Policy gate finding codes, stable across releases.
const (
	FindingPlanMissing         = "backfill_plan_missing"
	FindingPlanStale           = "backfill_plan_stale"
	FindingPolicyRelaxed       = "backfill_policy_relaxed"
	FindingOverlapBlocked      = "backfill_overlap_blocked"
	FindingWindowExceedsLimit  = "backfill_window_exceeds_limit"
	FindingChunkRetryExhausted = "backfill_chunk_failed_retry_exhausted"
	FindingRequiredPending     = "backfill_required_pending"
)

// EvaluatePolicy runs the preflight policy gate against all persisted
// plans/runs and the resolved policy. Findings are ordered by evaluation
// phase: missing required backfills first, then staleness, relaxed policy,
// overlaps, window limits, exhausted retries, and pending required
// backfills.
func EvaluatePolicy(store *state.Store, opts Options, policy Policy, limits Limits) ([]Finding, error) {
	ids, err := store.ListPlanIDs()
	if err != nil {
		return nil, err
	}

	plans := make([]*Plan, 0, len(ids))
	runs := make(map[string]*Run, len(ids))
	for _, id := range ids {
		var plan Plan
		if err := store.ReadPlan(id, &plan); err != nil {
			return nil, err
		}
		plans = append(plans, &plan)

		exists, err := store.RunExists(id)
		if err != nil {
			return nil, err
		}
		if exists {
			var run Run
			if err := store.ReadRun(id, &run); err != nil {
				return nil, err
			}
			runs[id] = &run
		}
	}

	findings := make([]Finding, 0)
	findings = append(findings, evaluateRequiredMissing(plans, policy)...)
	findings = append(findings, evaluateStalePlans(plans, opts)...)
	findings = append(findings, evaluateRelaxedPolicy(opts, policy)...)
	findings = append(findings, evaluateOverlaps(plans, runs, policy)...)
	findings = append(findings, evaluateWindowLimits(plans, limits)...)
	findings = append(findings, evaluateExhaustedRetries(runs)...)
	findings = append(findings, evaluateRequiredPending(plans, runs, policy)...)

	return findings, nil
}

func evaluateRequiredMissing(plans []*Plan, policy Policy) []Finding {
	var findings []Finding
	for _, target := range policy.RequiredTargets {
		if planForTarget(plans, target) == nil {
			findings = append(findings, Finding{
				Code:     FindingPlanMissing,
				Message:  fmt.Sprintf("target %s requires a backfill but no plan exists", target),
				Severity: SeverityError,
				Metadata: map[string]any{"target": target},
			})
		}
	}
	return findings
}

func evaluateStalePlans(plans []*Plan, opts Options) []Finding {
	var findings []Finding
	current := opts.CompatibilityToken()
	for _, plan := range plans {
		if plan.Options.CompatibilityToken() != current {
			findings = append(findings, Finding{
				Code: FindingPlanStale,
				Message: fmt.Sprintf(
					"plan %s was built with different options than the current configuration", plan.PlanID),
				Severity: SeverityWarn,
				Metadata: map[string]any{"plan_id": plan.PlanID, "target": plan.Target},
			})
		}
	}
	return findings
}

func evaluateRelaxedPolicy(opts Options, policy Policy) []Finding {
	var findings []Finding
	if !policy.BlockOverlappingRuns {
		findings = append(findings, Finding{
			Code:     FindingPolicyRelaxed,
			Message:  "block_overlapping_runs is disabled; concurrent backfills on one target can double-apply data",
			Severity: SeverityWarn,
			Metadata: map[string]any{"setting": "block_overlapping_runs"},
		})
	}
	if !opts.RequireIdempotencyToken {
		findings = append(findings, Finding{
			Code:     FindingPolicyRelaxed,
			Message:  "require_idempotency_token is disabled; retried statements may double-apply",
			Severity: SeverityWarn,
			Metadata: map[string]any{"setting": "require_idempotency_token"},
		})
	}
	return findings
}

func evaluateOverlaps(plans []*Plan, runs map[string]*Run, policy Policy) []Finding {
	if !policy.BlockOverlappingRuns {
		return nil
	}

	var findings []Finding
	for i, plan := range plans {
		for _, other := range plans[i+1:] {
			if plan.Target != other.Target {
				continue
			}
			if !windowsOverlap(plan.From, plan.To, other.From, other.To) {
				continue
			}
			// A finished run released its window; only two live plans block
			// each other.
			if runDone(runs[plan.PlanID]) || runDone(runs[other.PlanID]) {
				continue
			}

			findings = append(findings, Finding{
				Code: FindingOverlapBlocked,
				Message: fmt.Sprintf("plans %s and %s overlap on target %s; the second run will be blocked",
					plan.PlanID, other.PlanID, plan.Target),
				Severity: SeverityWarn,
				Metadata: map[string]any{
					"target":   plan.Target,
					"plan_ids": []string{plan.PlanID, other.PlanID},
				},
			})
		}
	}
	return findings
}

func evaluateWindowLimits(plans []*Plan, limits Limits) []Finding {
	var findings []Finding
	for _, plan := range plans {
		hours := plan.To.Sub(plan.From).Hours()
		if hours > float64(limits.MaxWindowHours) {
			findings = append(findings, Finding{
				Code: FindingWindowExceedsLimit,
				Message: fmt.Sprintf("plan %s spans %.0fh, over the configured limit of %dh",
					plan.PlanID, hours, limits.MaxWindowHours),
				Severity: SeverityWarn,
				Metadata: map[string]any{"plan_id": plan.PlanID, "window_hours": hours},
			})
		}
	}
	return findings
}

func evaluateExhaustedRetries(runs map[string]*Run) []Finding {
	var findings []Finding
	for _, run := range runs {
		for i := range run.Chunks {
			chunk := &run.Chunks[i]
			if chunk.Status != ChunkFailed {
				continue
			}

			findings = append(findings, Finding{
				Code: FindingChunkRetryExhausted,
				Message: fmt.Sprintf("plan %s chunk %d failed after %d attempts: %s",
					run.PlanID, chunk.ID, chunk.Attempts, chunk.LastError),
				Severity: SeverityError,
				Metadata: map[string]any{"plan_id": run.PlanID, "chunk_id": chunk.ID},
			})
		}
	}
	return findings
}

func evaluateRequiredPending(plans []*Plan, runs map[string]*Run, policy Policy) []Finding {
	var findings []Finding
	for _, target := range policy.RequiredTargets {
		plan := planForTarget(plans, target)
		if plan == nil {
			continue // already reported as missing
		}

		run := runs[plan.PlanID]
		if run == nil || run.Status != PlanCompleted {
			findings = append(findings, Finding{
				Code:     FindingRequiredPending,
				Message:  fmt.Sprintf("target %s has a backfill plan (%s) that has not completed", target, plan.PlanID),
				Severity: SeverityWarn,
				Metadata: map[string]any{"target": target, "plan_id": plan.PlanID},
			})
		}
	}
	return findings
}

func planForTarget(plans []*Plan, target string) *Plan {
	for _, plan := range plans {
		if plan.Target == target {
			return plan
		}
	}
	return nil
}

func runDone(run *Run) bool {
	return run != nil && (run.Status == PlanCompleted || run.Status == PlanCancelled)
}
