package config

import (
	"io"
	"os"

	"github.com/groundskeeper/groundskeeper/pkg/consts"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type (
	// ClickHouse represents ClickHouse-specific configuration settings.
	//
	// The URL and database are used both for connecting the SQL executor and
	// for computing the environment fingerprint that backfill plans are bound
	// to at creation time.
	ClickHouse struct {
		// URL is the ClickHouse connection string (e.g. "localhost:9000").
		// Commands accept a --url flag that overrides this value.
		URL string `yaml:"url,omitempty"`

		// Database is the database backfill targets live in. Combined with
		// the endpoint origin this forms the environment fingerprint.
		Database string `yaml:"database,omitempty"`
	}

	// Backfill holds the default execution options applied to new backfill
	// plans. All fields are optional; unset fields are normalized to their
	// defaults when a plan is created.
	Backfill struct {
		// ChunkHours is the default chunk window size in hours
		ChunkHours int `yaml:"chunk_hours,omitempty"`

		// MaxParallelChunks bounds concurrent chunk executions
		MaxParallelChunks int `yaml:"max_parallel_chunks,omitempty"`

		// MaxRetriesPerChunk is the number of attempts a chunk gets before
		// it is left failed
		MaxRetriesPerChunk int `yaml:"max_retries_per_chunk,omitempty"`

		// RequireIdempotencyToken rejects SQL templates that do not
		// reference the chunk's idempotency token
		RequireIdempotencyToken *bool `yaml:"require_idempotency_token,omitempty"`

		// TimeColumn is the column chunk windows filter on
		TimeColumn string `yaml:"time_column,omitempty"`
	}

	// Policy holds the safety policy evaluated by the run commands and the
	// preflight check.
	Policy struct {
		// RequireExplicitWindow rejects plans created with an implicit
		// (defaulted) time window
		RequireExplicitWindow bool `yaml:"require_explicit_window,omitempty"`

		// BlockOverlappingRuns refuses to start a run whose window overlaps
		// another plan on the same target
		BlockOverlappingRuns *bool `yaml:"block_overlapping_runs,omitempty"`

		// RequiredTargets lists targets that must have a completed backfill.
		// The check command reports findings for missing or pending ones.
		RequiredTargets []string `yaml:"required_targets,omitempty"`
	}

	// Limits holds hard bounds on plan shape.
	Limits struct {
		// MaxWindowHours caps the overall backfill window unless forced
		MaxWindowHours int `yaml:"max_window_hours,omitempty"`

		// MinChunkMinutes is the smallest permitted chunk size
		MinChunkMinutes int `yaml:"min_chunk_minutes,omitempty"`
	}

	// Config represents the project configuration for backfill management.
	Config struct {
		// ClickHouse contains connection settings for the target database
		ClickHouse ClickHouse `yaml:"clickhouse"`

		// StateDir is where plans, runs, and event logs are persisted
		StateDir string `yaml:"state_dir"`

		// Backfill contains default execution options for new plans
		Backfill Backfill `yaml:"backfill"`

		// Policy contains the safety policy for runs and preflight checks
		Policy Policy `yaml:"policy"`

		// Limits contains hard bounds on plan shape
		Limits Limits `yaml:"limits"`
	}
)

// LoadConfig parses a groundskeeper configuration from the provided io.Reader.
//
// The function expects YAML-formatted configuration data defining the
// ClickHouse connection, state directory, and backfill defaults. Unset values
// are filled with defaults from pkg/consts so commands always see a usable
// configuration.
//
// Example:
//
//	yamlData := `
//	clickhouse:
//	  url: localhost:9000
//	  database: analytics
//	state_dir: .groundskeeper
//	`
//
//	cfg, err := config.LoadConfig(strings.NewReader(yamlData))
//	if err != nil {
//		panic(err)
//	}
//
//	fmt.Printf("State dir: %s\n", cfg.StateDir)
func LoadConfig(r io.Reader) (*Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal groundskeeper config")
	}

	if cfg.StateDir == "" {
		cfg.StateDir = consts.DefaultStateDir
	}

	return &cfg, nil
}

// LoadConfigFile loads a project configuration from the specified file path.
// This is a convenience function that opens the file and calls LoadConfig.
//
// Example:
//
//	cfg, err := config.LoadConfigFile("groundskeeper.yaml")
//	if err != nil {
//		log.Fatal("Failed to load config:", err)
//	}
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file: %s", path)
	}
	defer func() { _ = f.Close() }()

	return LoadConfig(f)
}
