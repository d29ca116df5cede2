package cmd

import (
	"context"
	"fmt"

	"github.com/groundskeeper/groundskeeper/pkg/backfill"
	"github.com/groundskeeper/groundskeeper/pkg/config"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"
)

type cancelParams struct {
	fx.In

	Config *config.Config
}

// cancelCmd creates the cancel command for stopping a backfill run.
//
// Cancellation is cooperative and works across processes: a marker file is
// written into the state directory, and a live coordinator stops dispatching
// new chunks once it observes it, letting in-flight attempts finish. If no
// coordinator is active the run document is transitioned directly. A
// cancelled run can be continued later with resume.
func cancelCmd(p cancelParams) *cli.Command {
	return &cli.Command{
		Name:   "cancel",
		Usage:  "Cancel a backfill run",
		Before: requireConfig(p.Config),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "plan",
				Usage:    "Plan id whose run to cancel",
				Required: true,
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
			jsonFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runCancel(ctx, cmd, p)
		},
	}
}

func runCancel(_ context.Context, cmd *cli.Command, p cancelParams) error {
	store := openStore(p.Config)

	coord := backfill.NewCoordinator(store, nil)
	run, err := coord.Cancel(cmd.String("plan"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return printJSON(cmd.Writer, "run", run)
	}

	switch run.Status {
	case backfill.PlanCancelled:
		fmt.Fprintf(cmd.Writer, "Run %s cancelled\n", run.PlanID)
	default:
		fmt.Fprintf(cmd.Writer, "Cancellation requested for run %s (status %s); the active coordinator will stop after in-flight chunks\n",
			run.PlanID, run.Status)
	}

	return nil
}
