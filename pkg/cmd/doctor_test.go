package cmd

import (
	"testing"
	"time"

	"github.com/groundskeeper/groundskeeper/pkg/backfill"
	"github.com/groundskeeper/groundskeeper/pkg/cmd/testutil"
	"github.com/stretchr/testify/require"
)

func TestDoctorCommand_NeverRunPlan(t *testing.T) {
	fixture := testutil.Project(t)
	from, to := fixtureWindow()
	plan := fixture.CreatePlan("analytics.events", from, to)

	command := doctorCmd(doctorParams{Config: fixture.Config})

	output, err := testutil.RunCommand(t, command, []string{"--plan", plan.PlanID})
	require.NoError(t, err)
	require.Contains(t, output, "run_missing")
	require.Contains(t, output, "environment_unbound")
	require.Contains(t, output, "groundskeeper run --plan")
}

func TestDoctorCommand_FailedRun(t *testing.T) {
	fixture := testutil.Project(t)
	from, to := fixtureWindow()
	plan := fixture.CreatePlan("analytics.events", from, to)

	run := backfill.NewRun(plan)
	run.Status = backfill.PlanFailed
	run.LastError = "connection refused"
	run.UpdatedAt = time.Now().UTC()
	run.Chunks[0].Status = backfill.ChunkFailed
	run.Chunks[0].Attempts = 3
	run.Chunks[0].LastError = "connection refused"
	require.NoError(t, fixture.Store().WriteRun(plan.PlanID, run))

	command := doctorCmd(doctorParams{Config: fixture.Config})

	output, err := testutil.RunCommand(t, command, []string{"--plan", plan.PlanID})
	require.NoError(t, err)
	require.Contains(t, output, "chunk_failed_retry_exhausted")
	require.Contains(t, output, "--replay-failed")
}

func TestDoctorCommand_StuckChunk(t *testing.T) {
	fixture := testutil.Project(t)
	from, to := fixtureWindow()
	plan := fixture.CreatePlan("analytics.events", from, to)

	stale := time.Now().UTC().Add(-time.Hour)
	run := backfill.NewRun(plan)
	run.Status = backfill.PlanRunning
	run.UpdatedAt = time.Now().UTC()
	run.Chunks[0].Status = backfill.ChunkRunning
	run.Chunks[0].StartedAt = &stale
	require.NoError(t, fixture.Store().WriteRun(plan.PlanID, run))

	command := doctorCmd(doctorParams{Config: fixture.Config})

	output, err := testutil.RunCommand(t, command, []string{
		"--plan", plan.PlanID,
		"--stale-after", "10m",
	})
	require.NoError(t, err)
	require.Contains(t, output, "chunk_stuck_running")
}

func TestDoctorCommand_AllPlansAndJSON(t *testing.T) {
	fixture := testutil.Project(t)
	from, to := fixtureWindow()
	fixture.CreatePlan("analytics.events", from, to)
	fixture.CreatePlan("analytics.sessions", from, to)

	command := doctorCmd(doctorParams{Config: fixture.Config})

	output, err := testutil.RunCommand(t, command, []string{"--json"})
	require.NoError(t, err)
	require.Contains(t, output, `"schema_version": 1`)
	require.Contains(t, output, "run_missing")
}

func TestDoctorCommand_NoPlans(t *testing.T) {
	fixture := testutil.Project(t)
	command := doctorCmd(doctorParams{Config: fixture.Config})

	output, err := testutil.RunCommand(t, command, nil)
	require.NoError(t, err)
	require.Contains(t, output, "No plans found")
}
