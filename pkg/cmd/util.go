package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/groundskeeper/groundskeeper/pkg/backfill"
	"github.com/groundskeeper/groundskeeper/pkg/clickhouse"
	"github.com/groundskeeper/groundskeeper/pkg/config"
	"github.com/groundskeeper/groundskeeper/pkg/state"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
)

// Flags shared by every command that talks to ClickHouse or renders output.
func connectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "url",
			Usage: "ClickHouse connection string (overrides the configured value)",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
		&cli.StringFlag{
			Name:  "database",
			Usage: "ClickHouse database (overrides the configured value)",
			Config: cli.StringConfig{
				TrimSpace: true,
			},
		},
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Emit machine-readable JSON instead of text",
	}
}

// executionFlags are shared by run and resume.
func executionFlags() []cli.Flag {
	return append([]cli.Flag{
		&cli.BoolFlag{
			Name:  "replay-done",
			Usage: "Re-execute chunks already marked done or skipped",
		},
		&cli.BoolFlag{
			Name:  "replay-failed",
			Usage: "Re-execute chunks failed with retries exhausted",
		},
		&cli.BoolFlag{
			Name:  "force-overlap",
			Usage: "Bypass the overlapping-window guard",
		},
		&cli.BoolFlag{
			Name:  "force-environment",
			Usage: "Bypass the environment fingerprint guard",
		},
		&cli.BoolFlag{
			Name:  "force-compatibility",
			Usage: "Bypass the option-drift guard on resume",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Print the rendered statements without executing anything",
		},
		&cli.IntFlag{
			Name:  "fail-chunk",
			Usage: "Simulate failures for the given chunk id (testing)",
			Value: -1,
		},
		&cli.IntFlag{
			Name:  "fail-count",
			Usage: "Number of attempts the simulated chunk fails (testing)",
			Value: 0,
		},
	}, connectionFlags()...)
}

func executeOptionsFromFlags(cmd *cli.Command, env clickhouse.Fingerprint) backfill.ExecuteOptions {
	opts := backfill.ExecuteOptions{
		ReplayDone:         cmd.Bool("replay-done"),
		ReplayFailed:       cmd.Bool("replay-failed"),
		ForceOverlap:       cmd.Bool("force-overlap"),
		ForceEnvironment:   cmd.Bool("force-environment"),
		ForceCompatibility: cmd.Bool("force-compatibility"),
		Environment:        env,
	}

	if chunkID := cmd.Int("fail-chunk"); chunkID >= 0 {
		opts.Simulate = &backfill.Simulation{
			FailChunkID: int(chunkID),
			FailCount:   int(cmd.Int("fail-count")),
		}
	}

	return opts
}

// resolveEndpoint merges the --url/--database flags over the configured
// connection settings.
func resolveEndpoint(cmd *cli.Command, cfg *config.Config) (string, string) {
	url := cmd.String("url")
	database := cmd.String("database")

	if cfg != nil {
		if url == "" {
			url = cfg.ClickHouse.URL
		}
		if database == "" {
			database = cfg.ClickHouse.Database
		}
	}

	return url, database
}

// resolveFingerprint computes the environment fingerprint from the effective
// connection settings without dialing. Zero when no URL is known.
func resolveFingerprint(cmd *cli.Command, cfg *config.Config) clickhouse.Fingerprint {
	url, database := resolveEndpoint(cmd, cfg)
	if url == "" {
		return clickhouse.Fingerprint{}
	}
	return clickhouse.NewFingerprint(url, database)
}

// connectClient dials ClickHouse using the effective connection settings.
func connectClient(ctx context.Context, cmd *cli.Command, cfg *config.Config) (*clickhouse.Client, error) {
	url, database := resolveEndpoint(cmd, cfg)
	if url == "" {
		return nil, errors.New("a ClickHouse url is required; pass --url or set clickhouse.url in groundskeeper.yaml")
	}

	client, err := clickhouse.NewClient(ctx, url, clickhouse.ClientOptions{Database: database})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to ClickHouse")
	}

	return client, nil
}

func openStore(cfg *config.Config) *state.Store {
	return state.New(cfg.StateDir)
}

// printJSON renders a versioned JSON payload to w. Machine consumers key off
// schema_version the same way the persisted state files do.
func printJSON(w io.Writer, key string, doc any) error {
	payload := map[string]any{
		"schema_version": state.SchemaVersion,
		key:              doc,
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal output")
	}

	_, err = fmt.Fprintln(w, string(data))
	return err
}

// writerPrinter adapts an io.Writer to the backfill.Printer sink.
type writerPrinter struct {
	w io.Writer
}

func (p *writerPrinter) Printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

// parseTimeFlag accepts RFC3339 timestamps or bare dates (midnight UTC).
func parseTimeFlag(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}

	ts, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, errors.Errorf(
			"invalid time %q; use RFC3339 (2024-01-01T00:00:00Z) or a date (2024-01-01)", value)
	}

	return ts.UTC(), nil
}
