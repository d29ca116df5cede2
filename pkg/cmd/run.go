package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/groundskeeper/groundskeeper/pkg/backfill"
	"github.com/groundskeeper/groundskeeper/pkg/config"
	"github.com/groundskeeper/groundskeeper/pkg/state"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"
)

type runParams struct {
	fx.In

	Config *config.Config
}

// runCmd creates the run command for executing a backfill plan.
//
// The run command loads the plan, applies the environment and overlap guards,
// and hands off to the execution coordinator: chunks execute with bounded
// concurrency, each terminal attempt is checkpointed to the run document, and
// failures retry up to the configured budget. A run interrupted by a crash or
// cancel is continued with the resume command.
//
// Example usage:
//
//	# Execute a plan
//	groundskeeper run --plan 01JABC... --url localhost:9000
//
//	# Preview the statements without executing
//	groundskeeper run --plan 01JABC... --dry-run
func runCmd(p runParams) *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Execute a backfill plan",
		Before: requireConfig(p.Config),
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "plan",
				Usage:    "Plan id to execute",
				Required: true,
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
			jsonFlag(),
		}, executionFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runRun(ctx, cmd, p)
		},
	}
}

func runRun(ctx context.Context, cmd *cli.Command, p runParams) error {
	store := openStore(p.Config)

	plan, err := backfill.LoadPlan(store, cmd.String("plan"))
	if err != nil {
		return err
	}

	if cmd.Bool("dry-run") {
		return printDryRun(cmd, plan)
	}

	client, err := connectClient(ctx, cmd, p.Config)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	slog.Info("Starting backfill run",
		"plan_id", plan.PlanID,
		"target", plan.Target,
		"chunks", len(plan.Chunks),
	)

	coord := backfill.NewCoordinator(store, client)
	run, err := coord.Start(ctx, plan, executeOptionsFromFlags(cmd, client.Fingerprint()))
	if err != nil {
		return err
	}

	return reportRun(cmd, store, run)
}

// printDryRun renders every chunk statement without touching the database or
// the run state.
func printDryRun(cmd *cli.Command, plan *backfill.Plan) error {
	fmt.Fprintf(cmd.Writer, "-- plan %s: %d chunks against %s\n", plan.PlanID, len(plan.Chunks), plan.Target)
	for i := range plan.Chunks {
		chunk := &plan.Chunks[i]
		fmt.Fprintf(cmd.Writer, "-- chunk %d\n%s\n", chunk.ID, backfill.RenderStatement(plan, chunk))
	}
	return nil
}

// reportRun prints the outcome of a run or resume and maps a failed run to a
// non-zero exit.
func reportRun(cmd *cli.Command, store *state.Store, run *backfill.Run) error {
	summary := backfill.Summarize(store, run)

	if cmd.Bool("json") {
		if err := printJSON(cmd.Writer, "run", run); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.Writer, "Run %s: %s (%d done, %d failed, %d pending)\n",
			run.PlanID, run.Status, summary.Chunks.Done, summary.Chunks.Failed, summary.Chunks.Pending)
		if run.LastError != "" {
			fmt.Fprintf(cmd.Writer, "  Last error: %s\n", run.LastError)
		}
		fmt.Fprintf(cmd.Writer, "  State: %s\n", summary.RunPath)
	}

	if run.Status == backfill.PlanFailed {
		return errors.Errorf("run %s failed: %s", run.PlanID, run.LastError)
	}

	return nil
}
