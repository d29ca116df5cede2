package cmd

import (
	"context"
	"fmt"

	"github.com/groundskeeper/groundskeeper/pkg/backfill"
	"github.com/groundskeeper/groundskeeper/pkg/config"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"go.uber.org/fx"
)

type checkParams struct {
	fx.In

	Config *config.Config
	Plugin *backfill.Plugin
}

// checkCmd creates the check command, the host-side preflight gate.
//
// Check drives the plugin hook surface the way the migration host does:
// OnConfigLoaded with the resolved configuration, OnCheck to collect policy
// findings, then OnCheckReport for per-finding detail. Warnings never fail
// the check; any error-severity finding does.
//
// Example usage:
//
//	groundskeeper check
//	groundskeeper check --json
func checkCmd(p checkParams) *cli.Command {
	return &cli.Command{
		Name:   "check",
		Usage:  "Run the preflight policy gate",
		Before: requireConfig(p.Config),
		Flags: []cli.Flag{
			jsonFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runCheck(ctx, cmd, p)
		},
	}
}

func runCheck(ctx context.Context, cmd *cli.Command, p checkParams) error {
	if err := p.Plugin.OnConfigLoaded(ctx, p.Config); err != nil {
		return err
	}

	findings, err := p.Plugin.OnCheck(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		if err := printJSON(cmd.Writer, "findings", findings); err != nil {
			return err
		}
		return failOnErrors(findings)
	}

	var warnings, failures int
	for _, finding := range findings {
		switch finding.Severity {
		case backfill.SeverityError:
			failures++
		case backfill.SeverityWarn:
			warnings++
		}
	}

	fmt.Fprintf(cmd.Writer, "Check: %d finding(s), %d warning(s), %d error(s)\n",
		len(findings), warnings, failures)

	out := &writerPrinter{w: cmd.Writer}
	if err := p.Plugin.OnCheckReport(ctx, out, findings); err != nil {
		return err
	}

	return failOnErrors(findings)
}

func failOnErrors(findings []backfill.Finding) error {
	for _, finding := range findings {
		if finding.Severity == backfill.SeverityError {
			return errors.Errorf("check failed: %s (%s)", finding.Message, finding.Code)
		}
	}
	return nil
}
