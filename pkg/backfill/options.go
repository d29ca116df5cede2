package backfill

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/groundskeeper/groundskeeper/pkg/config"
	"github.com/groundskeeper/groundskeeper/pkg/consts"
)

type (
	// Options are the fully-populated execution options resolved at plan
	// creation time. Partially-optional configuration never reaches the
	// execution path; normalization happens exactly once, here.
	Options struct {
		// ChunkHours is the chunk window size in hours
		ChunkHours int `json:"chunk_hours"`

		// MaxParallelChunks bounds concurrent chunk executions
		MaxParallelChunks int `json:"max_parallel_chunks"`

		// MaxRetriesPerChunk is the total number of attempts a chunk gets
		// before it is left failed
		MaxRetriesPerChunk int `json:"max_retries_per_chunk"`

		// RequireIdempotencyToken rejects SQL templates that do not
		// reference {{token}}
		RequireIdempotencyToken bool `json:"require_idempotency_token"`

		// TimeColumn is the column chunk windows filter on
		TimeColumn string `json:"time_column"`
	}

	// Policy is the resolved safety policy captured into a plan.
	Policy struct {
		// RequireExplicitWindow rejects plans built from an implicit
		// (defaulted) window
		RequireExplicitWindow bool `json:"require_explicit_window"`

		// BlockOverlappingRuns refuses to start a run whose window overlaps
		// another plan on the same target
		BlockOverlappingRuns bool `json:"block_overlapping_runs"`

		// RequiredTargets lists targets that must have a completed backfill
		RequiredTargets []string `json:"required_targets,omitempty"`
	}

	// Limits are the resolved hard bounds on plan shape.
	Limits struct {
		// MaxWindowHours caps the overall backfill window unless forced
		MaxWindowHours int `json:"max_window_hours"`

		// MinChunkMinutes is the smallest permitted chunk size
		MinChunkMinutes int `json:"min_chunk_minutes"`
	}
)

// ResolveOptions normalizes configured backfill defaults into
// fully-populated Options. A nil config yields pure defaults, so offline
// planning works without a groundskeeper.yaml.
func ResolveOptions(cfg *config.Config) Options {
	opts := Options{
		ChunkHours:              consts.DefaultChunkHours,
		MaxParallelChunks:       consts.DefaultMaxParallelChunks,
		MaxRetriesPerChunk:      consts.DefaultMaxRetriesPerChunk,
		RequireIdempotencyToken: true,
		TimeColumn:              consts.DefaultTimeColumn,
	}

	if cfg == nil {
		return opts
	}

	if cfg.Backfill.ChunkHours > 0 {
		opts.ChunkHours = cfg.Backfill.ChunkHours
	}
	if cfg.Backfill.MaxParallelChunks > 0 {
		opts.MaxParallelChunks = cfg.Backfill.MaxParallelChunks
	}
	if cfg.Backfill.MaxRetriesPerChunk > 0 {
		opts.MaxRetriesPerChunk = cfg.Backfill.MaxRetriesPerChunk
	}
	if cfg.Backfill.RequireIdempotencyToken != nil {
		opts.RequireIdempotencyToken = *cfg.Backfill.RequireIdempotencyToken
	}
	if cfg.Backfill.TimeColumn != "" {
		opts.TimeColumn = cfg.Backfill.TimeColumn
	}

	return opts
}

// ResolvePolicy normalizes the configured policy. The defaults are the
// strict ones; the policy gate reports when configuration relaxes them.
func ResolvePolicy(cfg *config.Config) Policy {
	policy := Policy{
		RequireExplicitWindow: false,
		BlockOverlappingRuns:  true,
	}

	if cfg == nil {
		return policy
	}

	policy.RequireExplicitWindow = cfg.Policy.RequireExplicitWindow
	if cfg.Policy.BlockOverlappingRuns != nil {
		policy.BlockOverlappingRuns = *cfg.Policy.BlockOverlappingRuns
	}
	policy.RequiredTargets = cfg.Policy.RequiredTargets

	return policy
}

// ResolveLimits normalizes the configured limits.
func ResolveLimits(cfg *config.Config) Limits {
	limits := Limits{
		MaxWindowHours:  consts.DefaultMaxWindowHours,
		MinChunkMinutes: consts.DefaultMinChunkMinutes,
	}

	if cfg == nil {
		return limits
	}

	if cfg.Limits.MaxWindowHours > 0 {
		limits.MaxWindowHours = cfg.Limits.MaxWindowHours
	}
	if cfg.Limits.MinChunkMinutes > 0 {
		limits.MinChunkMinutes = cfg.Limits.MinChunkMinutes
	}

	return limits
}

// CompatibilityToken returns a hash of the options that must not silently
// change across a resume. A run records the token at start; resume compares
// it against a freshly computed one and refuses to continue on mismatch
// unless forced.
func (o Options) CompatibilityToken() string {
	content := fmt.Sprintf(
		"chunk_hours=%d|max_parallel_chunks=%d|max_retries_per_chunk=%d|require_idempotency_token=%t|time_column=%s",
		o.ChunkHours,
		o.MaxParallelChunks,
		o.MaxRetriesPerChunk,
		o.RequireIdempotencyToken,
		o.TimeColumn,
	)
	return hashContent(content)
}

// hashContent computes a SHA256 hash in h1 format for the given content.
func hashContent(content string) string {
	hash := sha256.Sum256([]byte(content))
	return "h1:" + base64.StdEncoding.EncodeToString(hash[:]) + "="
}
