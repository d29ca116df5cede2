package backfill

import (
	"testing"
	"time"

	"github.com/groundskeeper/groundskeeper/pkg/clickhouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowsOverlap(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := func(n int) time.Time { return base.Add(time.Duration(n) * time.Hour) }

	assert.True(t, windowsOverlap(h(0), h(10), h(5), h(15)))
	assert.True(t, windowsOverlap(h(5), h(15), h(0), h(10)))
	assert.True(t, windowsOverlap(h(0), h(10), h(2), h(8)))

	// Half-open: touching boundaries do not overlap
	assert.False(t, windowsOverlap(h(0), h(10), h(10), h(20)))
	assert.False(t, windowsOverlap(h(10), h(20), h(0), h(10)))
	assert.False(t, windowsOverlap(h(0), h(5), h(6), h(10)))
}

func TestCheckEnvironmentMessage(t *testing.T) {
	env := clickhouse.NewFingerprint("staging:9000", "analytics")
	plan := &Plan{PlanID: "p1", Environment: &env}

	err := CheckEnvironment(plan, clickhouse.NewFingerprint("prod:9000", "analytics"), false)
	require.ErrorIs(t, err, ErrEnvironmentMismatch)
	assert.Contains(t, err.Error(), "staging:9000/analytics")
	assert.Contains(t, err.Error(), "prod:9000/analytics")
	assert.Contains(t, err.Error(), "--force-environment")
}

func TestCheckCompatibility(t *testing.T) {
	opts := ResolveOptions(nil)
	run := &Run{PlanID: "p1", CompatibilityToken: opts.CompatibilityToken()}

	require.NoError(t, CheckCompatibility(run, opts, false))

	drifted := opts
	drifted.ChunkHours = 48
	err := CheckCompatibility(run, drifted, false)
	require.ErrorIs(t, err, ErrCompatibilityMismatch)
	assert.Contains(t, err.Error(), "--force-compatibility")

	require.NoError(t, CheckCompatibility(run, drifted, true))
}
