package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/groundskeeper/groundskeeper/pkg/backfill"
	"github.com/groundskeeper/groundskeeper/pkg/config"
	"github.com/groundskeeper/groundskeeper/pkg/consts"
	"github.com/groundskeeper/groundskeeper/pkg/state"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// Template is a valid SQL template referencing every placeholder, usable by
// any fixture plan.
const Template = `INSERT INTO {{table}} SELECT * FROM staging.events ` +
	`WHERE {{time_column}} >= '{{from}}' AND {{time_column}} < '{{to}}' ` +
	`SETTINGS insert_deduplication_token = '{{token}}'`

// ProjectFixture is an isolated groundskeeper project: a temp directory with
// a groundskeeper.yaml and a state directory.
type ProjectFixture struct {
	Dir    string
	Config *config.Config
	t      *testing.T
}

// Project creates a temp project with a minimal configuration. The state
// directory is absolute so commands work regardless of the test's working
// directory.
func Project(t *testing.T) *ProjectFixture {
	t.Helper()

	dir := t.TempDir()
	fixture := &ProjectFixture{
		Dir: dir,
		Config: &config.Config{
			StateDir: filepath.Join(dir, ".groundskeeper"),
		},
		t: t,
	}

	fixture.writeConfig()
	return fixture
}

// WithClickHouse sets the connection settings, which also makes new plans
// environment-bound.
func (p *ProjectFixture) WithClickHouse(url, database string) *ProjectFixture {
	p.t.Helper()

	p.Config.ClickHouse.URL = url
	p.Config.ClickHouse.Database = database
	p.writeConfig()
	return p
}

// WithRequiredTargets declares targets the policy gate requires backfills for.
func (p *ProjectFixture) WithRequiredTargets(targets ...string) *ProjectFixture {
	p.t.Helper()

	p.Config.Policy.RequiredTargets = targets
	p.writeConfig()
	return p
}

// WithBackfill overrides the default chunk size.
func (p *ProjectFixture) WithBackfill(chunkHours int) *ProjectFixture {
	p.t.Helper()

	p.Config.Backfill.ChunkHours = chunkHours
	p.writeConfig()
	return p
}

// Store opens the fixture's state store.
func (p *ProjectFixture) Store() *state.Store {
	return state.New(p.Config.StateDir)
}

// CreatePlan persists a plan for target over [from, to) using the fixture's
// resolved options.
func (p *ProjectFixture) CreatePlan(target string, from, to time.Time) *backfill.Plan {
	p.t.Helper()

	plan, _, _, err := backfill.CreatePlan(p.Store(), backfill.PlanRequest{
		Target:      target,
		From:        from,
		To:          to,
		SQLTemplate: Template,
	},
		backfill.ResolveOptions(p.Config),
		backfill.ResolvePolicy(p.Config),
		backfill.ResolveLimits(p.Config),
	)
	require.NoError(p.t, err)
	return plan
}

// ConfigPath returns the path of the fixture's groundskeeper.yaml.
func (p *ProjectFixture) ConfigPath() string {
	return filepath.Join(p.Dir, "groundskeeper.yaml")
}

func (p *ProjectFixture) writeConfig() {
	p.t.Helper()

	data, err := yaml.Marshal(p.Config)
	require.NoError(p.t, err, "Failed to marshal fixture config")

	err = os.WriteFile(p.ConfigPath(), data, consts.ModeFile)
	require.NoError(p.t, err, "Failed to write fixture config")
}
