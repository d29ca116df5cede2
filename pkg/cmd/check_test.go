package cmd

import (
	"testing"
	"time"

	"github.com/groundskeeper/groundskeeper/pkg/backfill"
	"github.com/groundskeeper/groundskeeper/pkg/cmd/testutil"
	"github.com/stretchr/testify/require"
)

func TestCheckCommand_Clean(t *testing.T) {
	fixture := testutil.Project(t)

	command := checkCmd(checkParams{Config: fixture.Config, Plugin: backfill.NewPlugin()})

	output, err := testutil.RunCommand(t, command, nil)
	require.NoError(t, err)
	require.Contains(t, output, "0 error(s)")
	require.Contains(t, output, "no findings")
}

func TestCheckCommand_MissingRequiredTarget(t *testing.T) {
	fixture := testutil.Project(t).WithRequiredTargets("analytics.events")

	command := checkCmd(checkParams{Config: fixture.Config, Plugin: backfill.NewPlugin()})

	output, err := testutil.RunCommand(t, command, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "check failed")
	require.Contains(t, err.Error(), "backfill_plan_missing")
	require.Contains(t, output, "backfill_plan_missing")
}

func TestCheckCommand_WarningsDoNotFail(t *testing.T) {
	fixture := testutil.Project(t)
	from, to := fixtureWindow()

	// Two overlapping live plans on one target trigger an overlap warning
	fixture.CreatePlan("analytics.events", from, to)
	fixture.CreatePlan("analytics.events", from.Add(24*time.Hour), to.Add(24*time.Hour))

	command := checkCmd(checkParams{Config: fixture.Config, Plugin: backfill.NewPlugin()})

	output, err := testutil.RunCommand(t, command, nil)
	require.NoError(t, err)
	require.Contains(t, output, "backfill_overlap_blocked")
}

func TestCheckCommand_JSON(t *testing.T) {
	fixture := testutil.Project(t).WithRequiredTargets("analytics.events")

	command := checkCmd(checkParams{Config: fixture.Config, Plugin: backfill.NewPlugin()})

	output, err := testutil.RunCommand(t, command, []string{"--json"})
	require.Error(t, err)
	require.Contains(t, output, `"schema_version": 1`)
	require.Contains(t, output, `"backfill_plan_missing"`)
}
