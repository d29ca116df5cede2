package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/groundskeeper/groundskeeper/pkg/backfill"
	"github.com/groundskeeper/groundskeeper/pkg/config"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"
)

type statusParams struct {
	fx.In

	Config *config.Config
}

// statusCmd creates the status command for inspecting backfill runs.
//
// Status is a pure read: it recomputes the summary from the persisted run
// document, so it is safe to call at any time, including from another process
// while a run is executing. Without --plan it lists every known plan.
//
// Example usage:
//
//	# Summarize one run
//	groundskeeper status --plan 01JABC...
//
//	# Per-chunk table
//	groundskeeper status --plan 01JABC... --verbose
//
//	# All plans, machine readable
//	groundskeeper status --json
func statusCmd(p statusParams) *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show backfill run status",
		Before: requireConfig(p.Config),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "plan",
				Usage: "Plan id to summarize (omit to list all plans)",
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Show per-chunk detail",
			},
			jsonFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runStatus(ctx, cmd, p)
		},
	}
}

func runStatus(_ context.Context, cmd *cli.Command, p statusParams) error {
	store := openStore(p.Config)

	if planID := cmd.String("plan"); planID != "" {
		return statusForPlan(cmd, p, planID)
	}

	ids, err := store.ListPlanIDs()
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		fmt.Fprintln(cmd.Writer, "No plans found.")
		return nil
	}

	summaries := make([]*backfill.Summary, 0, len(ids))
	for _, id := range ids {
		summary, err := summarizePlan(p, id)
		if err != nil {
			return err
		}
		summaries = append(summaries, summary)
	}

	if cmd.Bool("json") {
		return printJSON(cmd.Writer, "plans", summaries)
	}

	table := tablewriter.NewWriter(cmd.Writer)
	table.SetHeader([]string{"PLAN", "TARGET", "STATUS", "DONE", "FAILED", "PENDING", "UPDATED"})
	for _, summary := range summaries {
		updated := ""
		if !summary.UpdatedAt.IsZero() {
			updated = summary.UpdatedAt.Format(time.RFC3339)
		}
		table.Append([]string{
			summary.PlanID,
			summary.Target,
			string(summary.Status),
			strconv.Itoa(summary.Chunks.Done),
			strconv.Itoa(summary.Chunks.Failed),
			strconv.Itoa(summary.Chunks.Pending),
			updated,
		})
	}
	table.Render()

	return nil
}

func statusForPlan(cmd *cli.Command, p statusParams, planID string) error {
	store := openStore(p.Config)

	summary, err := summarizePlan(p, planID)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return printJSON(cmd.Writer, "status", summary)
	}

	fmt.Fprintf(cmd.Writer, "Plan %s (%s)\n", summary.PlanID, summary.Target)
	fmt.Fprintf(cmd.Writer, "  Status:   %s\n", summary.Status)
	fmt.Fprintf(cmd.Writer, "  Chunks:   %d total, %d done, %d failed, %d pending, %d running\n",
		summary.Chunks.Total, summary.Chunks.Done, summary.Chunks.Failed,
		summary.Chunks.Pending, summary.Chunks.Running)
	fmt.Fprintf(cmd.Writer, "  Attempts: %d\n", summary.Attempts)
	if !summary.UpdatedAt.IsZero() {
		fmt.Fprintf(cmd.Writer, "  Updated:  %s\n", summary.UpdatedAt.Format(time.RFC3339))
	}
	if summary.LastError != "" {
		fmt.Fprintf(cmd.Writer, "  Last error: %s\n", summary.LastError)
	}

	if !cmd.Bool("verbose") {
		return nil
	}

	run, err := backfill.LoadRun(store, planID)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(cmd.Writer)
	table.SetHeader([]string{"CHUNK", "FROM", "TO", "STATUS", "ATTEMPTS", "ERROR"})
	for i := range run.Chunks {
		chunk := &run.Chunks[i]
		table.Append([]string{
			strconv.Itoa(chunk.ID),
			chunk.From.Format(time.RFC3339),
			chunk.To.Format(time.RFC3339),
			string(chunk.Status),
			strconv.Itoa(chunk.Attempts),
			chunk.LastError,
		})
	}
	table.Render()

	return nil
}

// summarizePlan builds the summary for one plan. A plan that has never run
// reports status planned with every chunk pending.
func summarizePlan(p statusParams, planID string) (*backfill.Summary, error) {
	store := openStore(p.Config)

	plan, err := backfill.LoadPlan(store, planID)
	if err != nil {
		return nil, err
	}

	exists, err := store.RunExists(planID)
	if err != nil {
		return nil, err
	}

	var run *backfill.Run
	if exists {
		run, err = backfill.LoadRun(store, planID)
		if err != nil {
			return nil, err
		}
	} else {
		run = backfill.NewRun(plan)
	}

	return backfill.Summarize(store, run), nil
}
