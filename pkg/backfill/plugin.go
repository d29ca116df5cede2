package backfill

import (
	"context"

	"github.com/groundskeeper/groundskeeper/pkg/config"
	"github.com/groundskeeper/groundskeeper/pkg/state"
	"github.com/pkg/errors"
)

type (
	// Printer is the single output sink commands and hooks write user-facing
	// text through. The core never writes directly to a terminal.
	Printer interface {
		Printf(format string, args ...any)
	}

	// Hooks is the surface the host calls into the backfill plugin through.
	// All hooks are invoked synchronously; no implicit global registration.
	Hooks interface {
		// OnConfigLoaded hands the plugin the resolved configuration before
		// any command runs.
		OnConfigLoaded(ctx context.Context, cfg *config.Config) error

		// OnCheck runs the policy gate and returns its findings. The plugin
		// never blocks the check itself; the host decides whether
		// error-severity findings fail it.
		OnCheck(ctx context.Context) ([]Finding, error)

		// OnCheckReport lets the plugin print extra diagnostics after the
		// host's check summary.
		OnCheckReport(ctx context.Context, out Printer, findings []Finding) error
	}

	// Plugin is the backfill plugin: it owns the state store and resolved
	// configuration and implements the host hook surface.
	Plugin struct {
		store   *state.Store
		options Options
		policy  Policy
		limits  Limits
	}
)

var _ Hooks = (*Plugin)(nil)

// NewPlugin creates an unconfigured plugin. OnConfigLoaded must run before
// OnCheck.
func NewPlugin() *Plugin {
	return &Plugin{}
}

// OnConfigLoaded resolves options/policy/limits and opens the state store.
func (p *Plugin) OnConfigLoaded(_ context.Context, cfg *config.Config) error {
	dir := ""
	if cfg != nil {
		dir = cfg.StateDir
	}
	if dir == "" {
		return errors.New("state directory is not configured")
	}

	p.store = state.New(dir)
	p.options = ResolveOptions(cfg)
	p.policy = ResolvePolicy(cfg)
	p.limits = ResolveLimits(cfg)

	return nil
}

// OnCheck evaluates the policy gate against all persisted plans and runs.
func (p *Plugin) OnCheck(_ context.Context) ([]Finding, error) {
	if p.store == nil {
		return nil, errors.New("plugin not configured; OnConfigLoaded has not run")
	}

	return EvaluatePolicy(p.store, p.options, p.policy, p.limits)
}

// OnCheckReport prints per-finding details after the host's summary line.
func (p *Plugin) OnCheckReport(_ context.Context, out Printer, findings []Finding) error {
	if len(findings) == 0 {
		out.Printf("backfill: no findings\n")
		return nil
	}

	for _, finding := range findings {
		out.Printf("backfill: [%s] %s: %s\n", finding.Severity, finding.Code, finding.Message)
	}

	return nil
}

// Store exposes the plugin's state store to commands.
func (p *Plugin) Store() *state.Store { return p.store }

// Options returns the resolved default execution options.
func (p *Plugin) Options() Options { return p.options }

// Policy returns the resolved policy.
func (p *Plugin) Policy() Policy { return p.policy }

// Limits returns the resolved limits.
func (p *Plugin) Limits() Limits { return p.limits }
