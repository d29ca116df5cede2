package cmd

import (
	"testing"

	"github.com/groundskeeper/groundskeeper/pkg/backfill"
	"github.com/groundskeeper/groundskeeper/pkg/cmd/testutil"
	"github.com/stretchr/testify/require"
)

func TestCancelCommand_AbandonedRun(t *testing.T) {
	fixture := testutil.Project(t)
	from, to := fixtureWindow()
	plan := fixture.CreatePlan("analytics.events", from, to)

	// A run left behind by a crashed coordinator
	run := backfill.NewRun(plan)
	run.Status = backfill.PlanRunning
	require.NoError(t, fixture.Store().WriteRun(plan.PlanID, run))

	command := cancelCmd(cancelParams{Config: fixture.Config})

	output, err := testutil.RunCommand(t, command, []string{"--plan", plan.PlanID})
	require.NoError(t, err)
	require.Contains(t, output, "cancelled")

	cancelled, err := backfill.LoadRun(fixture.Store(), plan.PlanID)
	require.NoError(t, err)
	require.Equal(t, backfill.PlanCancelled, cancelled.Status)
}

func TestCancelCommand_LiveCoordinator(t *testing.T) {
	fixture := testutil.Project(t)
	from, to := fixtureWindow()
	plan := fixture.CreatePlan("analytics.events", from, to)

	run := backfill.NewRun(plan)
	run.Status = backfill.PlanRunning
	require.NoError(t, fixture.Store().WriteRun(plan.PlanID, run))

	// A held lock means a coordinator is live; cancel only leaves the marker
	lock, err := fixture.Store().AcquireRunLock(plan.PlanID)
	require.NoError(t, err)
	defer func() { _ = lock.Release() }()

	command := cancelCmd(cancelParams{Config: fixture.Config})

	output, err := testutil.RunCommand(t, command, []string{"--plan", plan.PlanID})
	require.NoError(t, err)
	require.Contains(t, output, "Cancellation requested")
	require.True(t, fixture.Store().CancelRequested(plan.PlanID))

	// The run itself is untouched; the coordinator owns the transition
	current, err := backfill.LoadRun(fixture.Store(), plan.PlanID)
	require.NoError(t, err)
	require.Equal(t, backfill.PlanRunning, current.Status)
}

func TestCancelCommand_NoRun(t *testing.T) {
	fixture := testutil.Project(t)
	command := cancelCmd(cancelParams{Config: fixture.Config})

	_, err := testutil.RunCommand(t, command, []string{"--plan", "nope"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no run found")
}
