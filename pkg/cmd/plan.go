package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/groundskeeper/groundskeeper/pkg/backfill"
	"github.com/groundskeeper/groundskeeper/pkg/config"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"
)

type planParams struct {
	fx.In

	Config *config.Config
}

// planCmd creates the plan command for building a chunked backfill plan.
//
// The plan command validates the request against the configured policy and
// limits, slices the [from, to) window into contiguous chunks, derives a
// deterministic idempotency token per chunk, and persists the plan document.
// Plans are immutable; execution state lives in the run document created by
// the run command.
//
// Example usage:
//
//	# Plan a two-day backfill in daily chunks
//	groundskeeper plan --target analytics.events \
//	  --from 2024-01-01T00:00:00Z --to 2024-01-03T00:00:00Z \
//	  --chunk-hours 24 --template-file backfill.sql
func planCmd(p planParams) *cli.Command {
	return &cli.Command{
		Name:   "plan",
		Usage:  "Build and persist a chunked backfill plan",
		Before: requireConfig(p.Config),
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "target",
				Usage:    "Table the backfill writes to (e.g. analytics.events)",
				Required: true,
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
			&cli.StringFlag{
				Name:  "from",
				Usage: "Window start, inclusive (RFC3339 or YYYY-MM-DD)",
			},
			&cli.StringFlag{
				Name:  "to",
				Usage: "Window end, exclusive (RFC3339 or YYYY-MM-DD)",
			},
			&cli.StringFlag{
				Name:  "template",
				Usage: "Inline SQL template ({{from}}, {{to}}, {{token}}, {{table}}, {{time_column}})",
			},
			&cli.StringFlag{
				Name:  "template-file",
				Usage: "File containing the SQL template",
			},
			&cli.IntFlag{
				Name:  "chunk-hours",
				Usage: "Chunk window size in hours (overrides the configured value)",
			},
			&cli.StringFlag{
				Name:  "time-column",
				Usage: "Time column chunk windows filter on (overrides the configured value)",
			},
			&cli.BoolFlag{
				Name:  "force-window",
				Usage: "Permit a window larger than limits.max_window_hours",
			},
			&cli.StringFlag{
				Name:  "plan",
				Usage: "Pin the plan id; re-running with the same id loads the existing plan",
			},
			jsonFlag(),
		}, connectionFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runPlan(ctx, cmd, p)
		},
	}
}

func runPlan(_ context.Context, cmd *cli.Command, p planParams) error {
	template, err := resolveTemplate(cmd)
	if err != nil {
		return err
	}

	from, to, implicit, err := resolveWindow(cmd)
	if err != nil {
		return err
	}

	store := openStore(p.Config)
	req := backfill.PlanRequest{
		PlanID:         cmd.String("plan"),
		Target:         cmd.String("target"),
		From:           from,
		To:             to,
		SQLTemplate:    template,
		ChunkHours:     int(cmd.Int("chunk-hours")),
		TimeColumn:     cmd.String("time-column"),
		ForceWindow:    cmd.Bool("force-window"),
		ImplicitWindow: implicit,
		Environment:    resolveFingerprint(cmd, p.Config),
	}

	plan, path, existed, err := backfill.CreatePlan(store, req,
		backfill.ResolveOptions(p.Config),
		backfill.ResolvePolicy(p.Config),
		backfill.ResolveLimits(p.Config),
	)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return printJSON(cmd.Writer, "plan", plan)
	}

	if existed {
		fmt.Fprintf(cmd.Writer, "Plan %s already exists; loaded it unchanged\n", plan.PlanID)
	} else {
		fmt.Fprintf(cmd.Writer, "Created plan %s\n", plan.PlanID)
	}

	fmt.Fprintf(cmd.Writer, "  Target:  %s\n", plan.Target)
	fmt.Fprintf(cmd.Writer, "  Window:  [%s, %s)\n",
		plan.From.Format(time.RFC3339), plan.To.Format(time.RFC3339))
	fmt.Fprintf(cmd.Writer, "  Chunks:  %d x %dh\n", len(plan.Chunks), plan.Options.ChunkHours)
	if plan.Environment != nil {
		fmt.Fprintf(cmd.Writer, "  Bound:   %s\n", plan.Environment.String())
	} else {
		fmt.Fprintf(cmd.Writer, "  Bound:   no environment (plan will run anywhere)\n")
	}
	fmt.Fprintf(cmd.Writer, "  State:   %s\n", path)

	return nil
}

func resolveTemplate(cmd *cli.Command) (string, error) {
	inline := cmd.String("template")
	file := cmd.String("template-file")

	switch {
	case inline != "" && file != "":
		return "", errors.New("pass either --template or --template-file, not both")
	case inline != "":
		return inline, nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", errors.Wrapf(err, "failed to read template file %s", file)
		}
		return string(data), nil
	default:
		return "", errors.New("a SQL template is required; pass --template or --template-file")
	}
}

// resolveWindow parses --from/--to. When both are omitted the window defaults
// to the previous full UTC day and is flagged implicit, which a strict policy
// rejects at plan time.
func resolveWindow(cmd *cli.Command) (time.Time, time.Time, bool, error) {
	fromRaw := cmd.String("from")
	toRaw := cmd.String("to")

	if fromRaw == "" && toRaw == "" {
		to := time.Now().UTC().Truncate(24 * time.Hour)
		return to.Add(-24 * time.Hour), to, true, nil
	}

	if fromRaw == "" || toRaw == "" {
		return time.Time{}, time.Time{}, false, errors.New("--from and --to must be given together")
	}

	from, err := parseTimeFlag(fromRaw)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}

	to, err := parseTimeFlag(toRaw)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}

	return from, to, false, nil
}
