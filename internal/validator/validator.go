// Package validator runs the SQL validation of a Looker project: it puts the
// project on the requested git state, discovers explores, optionally keeps
// only those changed against a target, runs the query engine and turns the
// explore state into a ValidationResult.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/leapstack-labs/lookval/internal/discovery"
	"github.com/leapstack-labs/lookval/internal/engine"
	"github.com/leapstack-labs/lookval/internal/workspace"
	"github.com/leapstack-labs/lookval/pkg/core"
)

// Name identifies the validator in results and run history.
const Name = "sql"

// ErrSetup marks failures that prevent validation from starting.
var ErrSetup = errors.New("setup failed")

// API is everything the validator needs from the Looker client.
type API interface {
	engine.API
	discovery.API
	workspace.API
}

// Config holds the settings of one validation run.
type Config struct {
	Workspace    workspace.Target
	Selectors    []string
	IgnoreHidden bool
	// Incremental validates only explores that differ from CompareRef.
	Incremental bool
	CompareRef  string
	Engine      engine.Config
	Logger      *slog.Logger
}

// Outcome is everything a run produced.
type Outcome struct {
	Result   *core.ValidationResult
	Explores []*core.Explore
	Report   *engine.Report
	Profile  []engine.ProfileEntry
}

// Validator runs SQL validation.
type Validator struct {
	api        API
	cfg        Config
	logger     *slog.Logger
	workspaces *workspace.Manager
	discoverer *discovery.Discoverer
}

// New creates a Validator.
func New(api API, cfg Config) *Validator {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Engine.Logger == nil {
		cfg.Engine.Logger = cfg.Logger
	}
	return &Validator{
		api:        api,
		cfg:        cfg,
		logger:     cfg.Logger,
		workspaces: workspace.New(api, cfg.Logger),
		discoverer: discovery.New(api, cfg.Logger),
	}
}

// Run validates the project. The outcome is never nil: setup failures are
// reported as a single error in a failed result and returned wrapped in
// ErrSetup. Cancellation returns the partial outcome with the context error.
func (v *Validator) Run(ctx context.Context) (out *Outcome, err error) {
	start := time.Now()
	result := core.NewValidationResult(Name)
	out = &Outcome{Result: result}
	defer func() {
		result.Timing["total"] = time.Since(start).Seconds()
	}()

	fail := func(cause error) (*Outcome, error) {
		v.logger.Error("validation setup failed", "project", v.cfg.Workspace.Project, "error", cause)
		result.AddErrors(core.SQLError{Message: fmt.Sprintf("Setup failed: %v", cause)})
		return out, fmt.Errorf("%w: %w", ErrSetup, cause)
	}

	if err := v.checkIncremental(); err != nil {
		return fail(err)
	}

	h, err := v.workspaces.Enter(ctx, v.cfg.Workspace)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if xerr := h.Exit(ctx); xerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to restore workspace: %w", xerr))
		}
	}()

	explores, err := v.discover(ctx)
	if err != nil {
		return fail(err)
	}
	out.Explores = explores

	if v.cfg.Incremental {
		if err := v.filterUnmodified(ctx, explores); err != nil {
			return fail(err)
		}
	}

	report, runErr := engine.New(v.api, v.cfg.Engine).Run(ctx, explores)
	if report == nil {
		return fail(runErr)
	}
	out.Report = report
	if v.cfg.Engine.Profile {
		out.Profile = engine.Profile(report.Slow)
	}

	collect(result, explores, report.Aborted)
	passed, failed, skipped := result.Counts()
	v.logger.Info("validation finished", "project", v.cfg.Workspace.Project, "status", result.Status,
		"passed", passed, "failed", failed, "skipped", skipped, "errors", len(result.Errors))

	if runErr != nil {
		if errors.Is(runErr, engine.ErrAccounting) {
			v.logger.Error("engine bookkeeping mismatch", "error", runErr)
		}
		return out, runErr
	}
	return out, nil
}

func (v *Validator) checkIncremental() error {
	if !v.cfg.Incremental {
		return nil
	}
	if v.cfg.CompareRef == "" {
		return errors.New("incremental mode requires a target branch or commit")
	}
	if v.cfg.Workspace.Branch == "" && v.cfg.Workspace.Commit == "" {
		return errors.New("incremental mode requires the validated state to be a branch or commit")
	}
	return nil
}

func (v *Validator) discover(ctx context.Context) ([]*core.Explore, error) {
	return v.discoverer.Discover(ctx, discovery.Options{
		Project:      v.cfg.Workspace.Project,
		Selectors:    v.cfg.Selectors,
		IgnoreHidden: v.cfg.IgnoreHidden,
		Concurrency:  v.cfg.Engine.Concurrency,
	})
}

// filterUnmodified switches to the comparison ref, discovers its explores
// and marks every explore whose dimension SQL is unchanged as skipped.
// Explores missing from the target count as modified.
func (v *Validator) filterUnmodified(ctx context.Context, explores []*core.Explore) (err error) {
	branch, commit := workspace.ParseRef(v.cfg.CompareRef)
	target := workspace.Target{
		Project:    v.cfg.Workspace.Project,
		Branch:     branch,
		Commit:     commit,
		PinImports: v.cfg.Workspace.PinImports,
	}
	v.logger.Info("fetching explores for comparison", "target", v.cfg.CompareRef)

	h, err := v.workspaces.Enter(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to switch to target %s: %w", v.cfg.CompareRef, err)
	}
	baseline, derr := v.discover(ctx)
	if xerr := h.Exit(ctx); xerr != nil {
		return fmt.Errorf("failed to switch back from target %s: %w", v.cfg.CompareRef, xerr)
	}
	if derr != nil {
		return fmt.Errorf("failed to discover explores of target %s: %w", v.cfg.CompareRef, derr)
	}

	FilterUnmodified(explores, baseline)
	return nil
}

// FilterUnmodified marks explores whose per-dimension SQL equals the same
// explore in baseline as skipped. Explores that are already skipped or
// errored are left alone.
func FilterUnmodified(explores, baseline []*core.Explore) int {
	index := make(map[string]*core.Explore, len(baseline))
	for _, e := range baseline {
		index[e.ID()] = e
	}

	var skipped int
	for _, e := range explores {
		if e.Skipped != "" || e.Errored() {
			continue
		}
		base, ok := index[e.ID()]
		if !ok {
			continue
		}
		if maps.Equal(e.DimensionSQL(), base.DimensionSQL()) {
			e.Skipped = core.SkipUnmodified
			skipped++
		}
	}
	return skipped
}

// collect adds one test result per explore and rolls up errors and
// successes. After an abort, explores that were not fully queried are
// reported as skipped.
func collect(result *core.ValidationResult, explores []*core.Explore, aborted bool) {
	for _, e := range explores {
		tr := core.TestResult{Model: e.Model, Explore: e.Name}
		switch {
		case e.Skipped != "":
			tr.Status = core.StatusSkipped
			tr.SkipReason = e.Skipped
		case e.Errored():
			tr.Status = core.StatusFailed
			result.AddErrors(e.AllErrors()...)
		case aborted && !e.FullyQueried():
			tr.Status = core.StatusSkipped
			tr.SkipReason = core.SkipAborted
		default:
			tr.Status = core.StatusPassed
		}
		result.AddTest(tr)
		result.Successes = append(result.Successes, e.Successes...)
	}
	result.SortErrors()
}
