package backfill

import (
	"testing"
	"time"

	"github.com/groundskeeper/groundskeeper/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findingCodes(findings []Finding) []string {
	codes := make([]string, 0, len(findings))
	for _, f := range findings {
		codes = append(codes, f.Code)
	}
	return codes
}

func TestEvaluatePolicyCleanStore(t *testing.T) {
	store := state.New(t.TempDir())

	findings, err := EvaluatePolicy(store, ResolveOptions(nil), ResolvePolicy(nil), ResolveLimits(nil))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestEvaluatePolicyRequiredTargetMissing(t *testing.T) {
	store := state.New(t.TempDir())

	policy := ResolvePolicy(nil)
	policy.RequiredTargets = []string{"analytics.events"}

	findings, err := EvaluatePolicy(store, ResolveOptions(nil), policy, ResolveLimits(nil))
	require.NoError(t, err)

	require.Len(t, findings, 1)
	assert.Equal(t, FindingPlanMissing, findings[0].Code)
	assert.Equal(t, SeverityError, findings[0].Severity)
	assert.Equal(t, "analytics.events", findings[0].Metadata["target"])
}

func TestEvaluatePolicyRequiredTargetPending(t *testing.T) {
	store := state.New(t.TempDir())

	plan, _, _, err := CreatePlan(store,
		testPlanRequest(mustTime(t, "2024-01-01T00:00:00Z"), mustTime(t, "2024-01-02T00:00:00Z")),
		ResolveOptions(nil), ResolvePolicy(nil), ResolveLimits(nil))
	require.NoError(t, err)

	policy := ResolvePolicy(nil)
	policy.RequiredTargets = []string{"analytics.events"}

	// Plan exists but has never completed
	findings, err := EvaluatePolicy(store, ResolveOptions(nil), policy, ResolveLimits(nil))
	require.NoError(t, err)
	assert.Contains(t, findingCodes(findings), FindingRequiredPending)
	assert.NotContains(t, findingCodes(findings), FindingPlanMissing)

	// A completed run satisfies the requirement
	run := NewRun(plan)
	run.Status = PlanCompleted
	require.NoError(t, store.WriteRun(plan.PlanID, run))

	findings, err = EvaluatePolicy(store, ResolveOptions(nil), policy, ResolveLimits(nil))
	require.NoError(t, err)
	assert.NotContains(t, findingCodes(findings), FindingRequiredPending)
}

func TestEvaluatePolicyStalePlan(t *testing.T) {
	store := state.New(t.TempDir())

	opts := ResolveOptions(nil)
	opts.ChunkHours = 12

	_, _, _, err := CreatePlan(store,
		testPlanRequest(mustTime(t, "2024-01-01T00:00:00Z"), mustTime(t, "2024-01-02T00:00:00Z")),
		opts, ResolvePolicy(nil), ResolveLimits(nil))
	require.NoError(t, err)

	// Current configuration no longer matches the plan's recorded options
	findings, err := EvaluatePolicy(store, ResolveOptions(nil), ResolvePolicy(nil), ResolveLimits(nil))
	require.NoError(t, err)
	assert.Contains(t, findingCodes(findings), FindingPlanStale)
}

func TestEvaluatePolicyRelaxedSettings(t *testing.T) {
	store := state.New(t.TempDir())

	opts := ResolveOptions(nil)
	opts.RequireIdempotencyToken = false
	policy := ResolvePolicy(nil)
	policy.BlockOverlappingRuns = false

	findings, err := EvaluatePolicy(store, opts, policy, ResolveLimits(nil))
	require.NoError(t, err)

	relaxed := 0
	for _, f := range findings {
		if f.Code == FindingPolicyRelaxed {
			relaxed++
			assert.Equal(t, SeverityWarn, f.Severity)
		}
	}
	assert.Equal(t, 2, relaxed)
}

func TestEvaluatePolicyOverlap(t *testing.T) {
	store := state.New(t.TempDir())
	from := mustTime(t, "2024-01-01T00:00:00Z")

	first, _, _, err := CreatePlan(store, testPlanRequest(from, from.Add(48*time.Hour)),
		ResolveOptions(nil), ResolvePolicy(nil), ResolveLimits(nil))
	require.NoError(t, err)

	_, _, _, err = CreatePlan(store, testPlanRequest(from.Add(24*time.Hour), from.Add(72*time.Hour)),
		ResolveOptions(nil), ResolvePolicy(nil), ResolveLimits(nil))
	require.NoError(t, err)

	findings, err := EvaluatePolicy(store, ResolveOptions(nil), ResolvePolicy(nil), ResolveLimits(nil))
	require.NoError(t, err)
	assert.Contains(t, findingCodes(findings), FindingOverlapBlocked)

	// Once one of the runs finishes, the window is released
	run := NewRun(first)
	run.Status = PlanCompleted
	require.NoError(t, store.WriteRun(first.PlanID, run))

	findings, err = EvaluatePolicy(store, ResolveOptions(nil), ResolvePolicy(nil), ResolveLimits(nil))
	require.NoError(t, err)
	assert.NotContains(t, findingCodes(findings), FindingOverlapBlocked)
}

func TestEvaluatePolicyWindowLimit(t *testing.T) {
	store := state.New(t.TempDir())

	_, _, _, err := CreatePlan(store,
		testPlanRequest(mustTime(t, "2024-01-01T00:00:00Z"), mustTime(t, "2024-01-03T00:00:00Z")),
		ResolveOptions(nil), ResolvePolicy(nil), ResolveLimits(nil))
	require.NoError(t, err)

	limits := ResolveLimits(nil)
	limits.MaxWindowHours = 24

	findings, err := EvaluatePolicy(store, ResolveOptions(nil), ResolvePolicy(nil), limits)
	require.NoError(t, err)
	assert.Contains(t, findingCodes(findings), FindingWindowExceedsLimit)
}

func TestEvaluatePolicyExhaustedRetries(t *testing.T) {
	store := state.New(t.TempDir())

	plan, _, _, err := CreatePlan(store,
		testPlanRequest(mustTime(t, "2024-01-01T00:00:00Z"), mustTime(t, "2024-01-02T00:00:00Z")),
		ResolveOptions(nil), ResolvePolicy(nil), ResolveLimits(nil))
	require.NoError(t, err)

	run := NewRun(plan)
	run.Status = PlanFailed
	run.Chunks[0].Status = ChunkFailed
	run.Chunks[0].Attempts = 3
	run.Chunks[0].LastError = "memory limit exceeded"
	require.NoError(t, store.WriteRun(plan.PlanID, run))

	findings, err := EvaluatePolicy(store, ResolveOptions(nil), ResolvePolicy(nil), ResolveLimits(nil))
	require.NoError(t, err)

	var exhausted *Finding
	for i := range findings {
		if findings[i].Code == FindingChunkRetryExhausted {
			exhausted = &findings[i]
		}
	}
	require.NotNil(t, exhausted)
	assert.Equal(t, SeverityError, exhausted.Severity)
	assert.Contains(t, exhausted.Message, "memory limit exceeded")
}
