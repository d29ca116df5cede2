package backfill

import (
	"fmt"
	"time"

	"github.com/groundskeeper/groundskeeper/pkg/clickhouse"
	"github.com/groundskeeper/groundskeeper/pkg/state"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
)

type (
	// ChunkStatus is the lifecycle state of a single chunk.
	ChunkStatus string

	// PlanStatus is the plan-level lifecycle state.
	PlanStatus string

	// Chunk is one contiguous sub-window of a backfill: the unit of
	// execution and retry. From is inclusive, To is exclusive. Chunks of
	// one plan are contiguous, non-overlapping, and their union equals the
	// plan's [From, To).
	Chunk struct {
		ID               int         `json:"id"`
		From             time.Time   `json:"from"`
		To               time.Time   `json:"to"`
		Status           ChunkStatus `json:"status"`
		Attempts         int         `json:"attempts"`
		IdempotencyToken string      `json:"idempotency_token"`
		SQLTemplate      string      `json:"sql_template"`
		LastError        string      `json:"last_error,omitempty"`
	}

	// Plan is the immutable, persisted intent for one backfill. Plans are
	// created once and never mutated after creation; what actually happened
	// is recorded in the Run.
	Plan struct {
		PlanID    string     `json:"plan_id"`
		Target    string     `json:"target"`
		CreatedAt time.Time  `json:"created_at"`
		Status    PlanStatus `json:"status"`
		From      time.Time  `json:"from"`
		To        time.Time  `json:"to"`
		Chunks    []Chunk    `json:"chunks"`
		Options   Options    `json:"options"`
		Policy    Policy     `json:"policy"`
		Limits    Limits     `json:"limits"`

		// Environment is the fingerprint of the database the plan was
		// created against. Nil for plans created offline; such plans are
		// accepted against any environment.
		Environment *clickhouse.Fingerprint `json:"environment,omitempty"`
	}

	// PlanRequest describes the inputs to plan creation.
	PlanRequest struct {
		// PlanID pins the plan id. Empty generates a new ULID. Supplying an
		// id gives plan idempotent create-or-load semantics: if a plan with
		// that id already exists it is loaded instead of recreated.
		PlanID string

		// Target is the object the backfill writes to (e.g. "analytics.events")
		Target string

		// From (inclusive) and To (exclusive) bound the backfill window
		From time.Time
		To   time.Time

		// SQLTemplate is the caller-supplied statement, parameterized by
		// {{from}}, {{to}}, {{token}}, {{table}}, and {{time_column}}
		SQLTemplate string

		// ChunkHours overrides the configured chunk size when > 0
		ChunkHours int

		// TimeColumn overrides the configured time column when non-empty
		TimeColumn string

		// ForceWindow permits windows larger than limits.MaxWindowHours
		ForceWindow bool

		// ImplicitWindow marks the window as defaulted rather than given
		// explicitly; rejected when policy.RequireExplicitWindow is set
		ImplicitWindow bool

		// Environment is the fingerprint of the live database configuration,
		// if one was available at plan time. Zero leaves the plan unbound.
		Environment clickhouse.Fingerprint
	}
)

const (
	ChunkPending ChunkStatus = "pending"
	ChunkRunning ChunkStatus = "running"
	ChunkDone    ChunkStatus = "done"
	ChunkFailed  ChunkStatus = "failed"
	ChunkSkipped ChunkStatus = "skipped"
)

const (
	PlanPlanned   PlanStatus = "planned"
	PlanRunning   PlanStatus = "running"
	PlanPaused    PlanStatus = "paused"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
	PlanCancelled PlanStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal plan state. Terminal
// plans may only be re-entered by an explicit replay-aware resume.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanCompleted || s == PlanFailed || s == PlanCancelled
}

// IdempotencyToken derives the stable token for a chunk. It is a pure
// function of the plan id and chunk boundaries: re-planning the same window
// reproduces identical tokens, and two chunks of one plan never collide.
func IdempotencyToken(planID string, from, to time.Time) string {
	content := fmt.Sprintf("%s|%s|%s",
		planID,
		from.UTC().Format(time.RFC3339),
		to.UTC().Format(time.RFC3339),
	)
	return hashContent(content)
}

// CreatePlan validates the request, slices the window into chunks, and
// persists the plan. Returns the plan, its persisted path, and whether a
// plan with that id already existed.
//
// Validation failures (empty window, window over limit, chunk size below
// limit, implicit window under a strict policy, template missing the
// idempotency token) are reported immediately and no plan is created.
//
// Example usage:
//
//	plan, path, existed, err := backfill.CreatePlan(store, backfill.PlanRequest{
//		Target:      "analytics.events",
//		From:        from,
//		To:          to,
//		SQLTemplate: "INSERT INTO analytics.events ... WHERE {{time_column}} >= '{{from}}' AND {{time_column}} < '{{to}}' -- {{token}}",
//	}, opts, policy, limits)
func CreatePlan(store *state.Store, req PlanRequest, opts Options, policy Policy, limits Limits) (*Plan, string, bool, error) {
	// Apply per-request overrides before validation so limits see the
	// effective values.
	if req.ChunkHours > 0 {
		opts.ChunkHours = req.ChunkHours
	}
	if req.TimeColumn != "" {
		opts.TimeColumn = req.TimeColumn
	}

	if err := validatePlanRequest(req, opts, policy, limits); err != nil {
		return nil, "", false, err
	}

	planID := req.PlanID
	if planID == "" {
		planID = ulid.Make().String()
	} else {
		existed, err := store.PlanExists(planID)
		if err != nil {
			return nil, "", false, err
		}
		if existed {
			var plan Plan
			if err := store.ReadPlan(planID, &plan); err != nil {
				return nil, "", false, err
			}
			return &plan, store.PlanPath(planID), true, nil
		}
	}

	plan := &Plan{
		PlanID:    planID,
		Target:    req.Target,
		CreatedAt: time.Now().UTC(),
		Status:    PlanPlanned,
		From:      req.From.UTC(),
		To:        req.To.UTC(),
		Chunks:    sliceChunks(planID, req.From.UTC(), req.To.UTC(), req.SQLTemplate, opts),
		Options:   opts,
		Policy:    policy,
		Limits:    limits,
	}

	if !req.Environment.IsZero() {
		env := req.Environment
		plan.Environment = &env
	}

	if err := store.WritePlan(planID, plan); err != nil {
		return nil, "", false, errors.Wrap(err, "failed to persist plan")
	}

	return plan, store.PlanPath(planID), false, nil
}

// LoadPlan reads a persisted plan.
func LoadPlan(store *state.Store, planID string) (*Plan, error) {
	exists, err := store.PlanExists(planID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Errorf("no plan found with id %s", planID)
	}

	var plan Plan
	if err := store.ReadPlan(planID, &plan); err != nil {
		return nil, err
	}

	return &plan, nil
}

func validatePlanRequest(req PlanRequest, opts Options, policy Policy, limits Limits) error {
	if req.Target == "" {
		return errors.New("target is required")
	}
	if req.SQLTemplate == "" {
		return errors.New("sql template is required")
	}
	if req.From.IsZero() || req.To.IsZero() {
		return errors.New("backfill window requires both from and to")
	}
	if !req.From.Before(req.To) {
		return errors.Errorf("invalid window: from (%s) must be before to (%s)",
			req.From.Format(time.RFC3339), req.To.Format(time.RFC3339))
	}

	if policy.RequireExplicitWindow && req.ImplicitWindow {
		return errors.New("policy requires an explicit window; pass --from and --to")
	}

	windowHours := req.To.Sub(req.From).Hours()
	if windowHours > float64(limits.MaxWindowHours) && !req.ForceWindow {
		return errors.Errorf(
			"window of %.0fh exceeds limit of %dh; pass --force-window to override",
			windowHours, limits.MaxWindowHours,
		)
	}

	if opts.ChunkHours*60 < limits.MinChunkMinutes {
		return errors.Errorf(
			"chunk size of %dh is below the minimum of %dm",
			opts.ChunkHours, limits.MinChunkMinutes,
		)
	}

	if opts.RequireIdempotencyToken && !TemplateReferencesToken(req.SQLTemplate) {
		return errors.New(
			"sql template must reference {{token}} when require_idempotency_token is enabled",
		)
	}

	return nil
}

// sliceChunks splits [from, to) into consecutive chunkHours-sized intervals,
// the final chunk truncated to the window end.
func sliceChunks(planID string, from, to time.Time, sqlTemplate string, opts Options) []Chunk {
	step := time.Duration(opts.ChunkHours) * time.Hour

	var chunks []Chunk
	for start := from; start.Before(to); start = start.Add(step) {
		end := start.Add(step)
		if end.After(to) {
			end = to
		}

		chunks = append(chunks, Chunk{
			ID:               len(chunks),
			From:             start,
			To:               end,
			Status:           ChunkPending,
			IdempotencyToken: IdempotencyToken(planID, start, end),
			SQLTemplate:      sqlTemplate,
		})
	}

	return chunks
}
