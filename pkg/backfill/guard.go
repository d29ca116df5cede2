package backfill

import (
	"time"

	"github.com/groundskeeper/groundskeeper/pkg/clickhouse"
	"github.com/groundskeeper/groundskeeper/pkg/state"
	"github.com/pkg/errors"
)

// Sentinel guard errors. Commands branch on these to render the specific
// block reason and the flag that overrides it.
var (
	// ErrEnvironmentMismatch indicates the plan is bound to a different
	// database environment than the one being run against.
	ErrEnvironmentMismatch = errors.New("plan is bound to a different environment")

	// ErrCompatibilityMismatch indicates the resolved options changed
	// between the original run and the resume.
	ErrCompatibilityMismatch = errors.New("options changed since the run began")

	// ErrOverlapBlocked indicates another plan's window overlaps this one
	// on the same target.
	ErrOverlapBlocked = errors.New("overlapping backfill on target")
)

// CheckEnvironment blocks running a plan against a database whose
// fingerprint differs from the one captured at plan creation. Plans without
// a fingerprint (created offline) are accepted against any environment.
func CheckEnvironment(plan *Plan, current clickhouse.Fingerprint, force bool) error {
	if plan.Environment == nil || force {
		return nil
	}

	if !plan.Environment.Matches(current) {
		return errors.Wrapf(ErrEnvironmentMismatch,
			"plan %s was created for %s but the active configuration is %s; pass --force-environment to override",
			plan.PlanID, plan.Environment.String(), current.String(),
		)
	}

	return nil
}

// CheckCompatibility blocks resuming a run whose recorded option hash
// differs from a freshly computed one. A mismatch means the plan or its
// options changed between runs, so the resume would silently use different
// chunking/retry semantics than the run began with.
func CheckCompatibility(run *Run, opts Options, force bool) error {
	if force {
		return nil
	}

	if run.CompatibilityToken != opts.CompatibilityToken() {
		return errors.Wrapf(ErrCompatibilityMismatch,
			"run for plan %s; pass --force-compatibility to override",
			run.PlanID,
		)
	}

	return nil
}

// CheckOverlap refuses to start a run when another plan touches an
// overlapping window on the same target, unless forced or the other plan's
// run already finished (completed or cancelled). Only applies when the
// plan's policy sets block_overlapping_runs.
func CheckOverlap(store *state.Store, plan *Plan, force bool) error {
	if !plan.Policy.BlockOverlappingRuns || force {
		return nil
	}

	ids, err := store.ListPlanIDs()
	if err != nil {
		return err
	}

	for _, id := range ids {
		if id == plan.PlanID {
			continue
		}

		var other Plan
		if err := store.ReadPlan(id, &other); err != nil {
			return err
		}

		if other.Target != plan.Target {
			continue
		}
		if !windowsOverlap(plan.From, plan.To, other.From, other.To) {
			continue
		}

		// A finished run no longer owns its window.
		if done, err := runFinished(store, id); err != nil {
			return err
		} else if done {
			continue
		}

		return errors.Wrapf(ErrOverlapBlocked,
			"%s: plan %s covers [%s, %s); pass --force-overlap to override",
			plan.Target, id,
			other.From.Format(time.RFC3339), other.To.Format(time.RFC3339),
		)
	}

	return nil
}

func runFinished(store *state.Store, planID string) (bool, error) {
	exists, err := store.RunExists(planID)
	if err != nil || !exists {
		return false, err
	}

	var run Run
	if err := store.ReadRun(planID, &run); err != nil {
		return false, err
	}

	return run.Status == PlanCompleted || run.Status == PlanCancelled, nil
}

// windowsOverlap reports whether two half-open intervals intersect.
func windowsOverlap(aFrom, aTo, bFrom, bTo time.Time) bool {
	return aFrom.Before(bTo) && bFrom.Before(aTo)
}
