package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/groundskeeper/groundskeeper/pkg/backfill"
	"github.com/groundskeeper/groundskeeper/pkg/config"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"
)

type doctorParams struct {
	fx.In

	Config *config.Config
}

// doctorCmd creates the doctor command for diagnosing stuck or failed runs.
//
// Doctor reads the plan and run state, classifies problems into stable issue
// codes (stuck chunks, exhausted retries, stale locks, leftover cancel
// markers) and prints a recovery recommendation per issue. It never mutates
// state, so it is always safe to run.
//
// Example usage:
//
//	# Diagnose one plan
//	groundskeeper doctor --plan 01JABC...
//
//	# Diagnose every plan, with a custom staleness threshold
//	groundskeeper doctor --stale-after 10m
func doctorCmd(p doctorParams) *cli.Command {
	return &cli.Command{
		Name:   "doctor",
		Usage:  "Diagnose stuck or failed backfill runs",
		Before: requireConfig(p.Config),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "plan",
				Usage: "Plan id to diagnose (omit to diagnose all plans)",
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
			&cli.DurationFlag{
				Name:  "stale-after",
				Usage: "How long a chunk may sit running before it is reported stuck",
				Value: backfill.DefaultStaleRunningThreshold,
			},
			jsonFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runDoctor(ctx, cmd, p)
		},
	}
}

func runDoctor(_ context.Context, cmd *cli.Command, p doctorParams) error {
	store := openStore(p.Config)

	ids := []string{cmd.String("plan")}
	if ids[0] == "" {
		all, err := store.ListPlanIDs()
		if err != nil {
			return err
		}
		if len(all) == 0 {
			fmt.Fprintln(cmd.Writer, "No plans found.")
			return nil
		}
		ids = all
	}

	now := time.Now().UTC()
	staleAfter := cmd.Duration("stale-after")

	diagnoses := make([]*backfill.Diagnosis, 0, len(ids))
	for _, id := range ids {
		plan, err := backfill.LoadPlan(store, id)
		if err != nil {
			return err
		}

		exists, err := store.RunExists(id)
		if err != nil {
			return err
		}

		var run *backfill.Run
		if exists {
			if run, err = backfill.LoadRun(store, id); err != nil {
				return err
			}
		}

		diagnosis, err := backfill.Diagnose(store, plan, run, now, staleAfter)
		if err != nil {
			return err
		}
		diagnoses = append(diagnoses, diagnosis)
	}

	if cmd.Bool("json") {
		return printJSON(cmd.Writer, "diagnoses", diagnoses)
	}

	for _, d := range diagnoses {
		if d.Healthy {
			fmt.Fprintf(cmd.Writer, "Plan %s: healthy\n", d.PlanID)
			continue
		}

		fmt.Fprintf(cmd.Writer, "Plan %s: %d issue(s)\n", d.PlanID, len(d.Issues))
		for _, issue := range d.Issues {
			fmt.Fprintf(cmd.Writer, "  [%s] %s\n", issue.Code, issue.Message)
		}
		for _, rec := range d.Recommendations {
			fmt.Fprintf(cmd.Writer, "  -> %s\n", rec)
		}
	}

	return nil
}
