package cmd

import (
	"context"
	"log/slog"

	"github.com/groundskeeper/groundskeeper/pkg/backfill"
	"github.com/groundskeeper/groundskeeper/pkg/config"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"
)

type resumeParams struct {
	fx.In

	Config *config.Config
}

// resumeCmd creates the resume command for continuing an interrupted run.
//
// Resume reloads the persisted run, re-dispatches chunks that never reached a
// terminal attempt (including chunks left running by a crashed coordinator),
// and skips chunks already done. Chunks failed with retries exhausted stay
// failed unless --replay-failed is given; --replay-done re-executes finished
// chunks, relying on their idempotency tokens for safety. Resuming a run that
// already finished requires one of the replay flags.
//
// Example usage:
//
//	# Continue after a crash or cancel
//	groundskeeper resume --plan 01JABC... --url localhost:9000
//
//	# Retry the chunks that exhausted their retries
//	groundskeeper resume --plan 01JABC... --replay-failed
func resumeCmd(p resumeParams) *cli.Command {
	return &cli.Command{
		Name:   "resume",
		Usage:  "Continue an interrupted or failed backfill run",
		Before: requireConfig(p.Config),
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "plan",
				Usage:    "Plan id to resume",
				Required: true,
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
			jsonFlag(),
		}, executionFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runResume(ctx, cmd, p)
		},
	}
}

func runResume(ctx context.Context, cmd *cli.Command, p resumeParams) error {
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

	slog.Info("Resuming backfill run",
		"plan_id", plan.PlanID,
		"replay_done", cmd.Bool("replay-done"),
		"replay_failed", cmd.Bool("replay-failed"),
	)

	coord := backfill.NewCoordinator(store, client)
	run, err := coord.Resume(ctx, plan, executeOptionsFromFlags(cmd, client.Fingerprint()))
	if err != nil {
		return err
	}

	return reportRun(cmd, store, run)
}
