// Package discovery resolves which explores and dimensions a validation run
// covers.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/lookval/internal/looker"
	"github.com/leapstack-labs/lookval/pkg/core"
)

// DefaultConcurrency bounds parallel dimension fetches.
const DefaultConcurrency = 10

// ErrNoModels is returned when the project exposes no models.
var ErrNoModels = errors.New("no models found")

// API is the subset of the Looker client discovery needs.
type API interface {
	ListModels(ctx context.Context, project string) ([]looker.Model, error)
	ListDimensions(ctx context.Context, model, explore string) ([]looker.DimensionField, error)
}

// Options controls a discovery pass.
type Options struct {
	Project      string
	Selectors    []string
	IgnoreHidden bool
	Concurrency  int
}

// Discoverer builds the explore set for a project.
type Discoverer struct {
	api    API
	logger *slog.Logger
}

// New creates a Discoverer.
func New(api API, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Discoverer{api: api, logger: logger}
}

// Discover lists the project's explores, keeps the selected ones and fetches
// their dimensions in parallel. Failures of individual explores are attached
// to the explore; only failures that make the whole pass meaningless are
// returned.
func (d *Discoverer) Discover(ctx context.Context, opts Options) ([]*core.Explore, error) {
	selection, err := ParseSelection(opts.Selectors)
	if err != nil {
		return nil, err
	}

	models, err := d.api.ListModels(ctx, opts.Project)
	if err != nil {
		return nil, fmt.Errorf("failed to list models of project %s: %w", opts.Project, err)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("%w in project %s", ErrNoModels, opts.Project)
	}

	var explores, pending []*core.Explore
	for _, m := range models {
		for _, e := range m.Explores {
			switch {
			case selection.Excluded(m.Name, e.Name):
				ex := core.NewExplore(m.Name, e.Name)
				ex.Skipped = core.SkipExcluded
				explores = append(explores, ex)
			case selection.Selected(m.Name, e.Name):
				ex := core.NewExplore(m.Name, e.Name)
				explores = append(explores, ex)
				pending = append(pending, ex)
			}
		}
	}
	if len(pending) == 0 {
		d.logger.Warn("no explores matched the selectors", "project", opts.Project, "selectors", opts.Selectors)
		return explores, nil
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, ex := range pending {
		g.Go(func() error {
			d.fetch(gctx, ex, opts.IgnoreHidden)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.logger.Info("discovered explores", "project", opts.Project, "selected", len(pending), "total", len(explores))
	return explores, nil
}

// fetch fills in one explore. Each goroutine writes only its own explore.
func (d *Discoverer) fetch(ctx context.Context, ex *core.Explore, ignoreHidden bool) {
	fields, err := d.api.ListDimensions(ctx, ex.Model, ex.Name)
	if err != nil {
		d.logger.Error("failed to fetch dimensions", "explore", ex.ID(), "error", err)
		ex.AddError(fmt.Sprintf("failed to fetch dimensions: %v", err), "", "")
		return
	}

	for _, f := range fields {
		dim := &core.Dimension{
			Name:      f.Name,
			Model:     ex.Model,
			Explore:   ex.Name,
			Type:      f.Type,
			Tags:      f.Tags,
			SQL:       f.SQL,
			Hidden:    f.Hidden,
			SourceURL: f.LookMLLink,
		}
		if dim.Ignored() {
			d.logger.Debug("ignoring dimension", "explore", ex.ID(), "dimension", dim.Name)
			continue
		}
		if ignoreHidden && dim.Hidden {
			continue
		}
		ex.Dimensions = append(ex.Dimensions, dim)
	}

	if len(ex.Dimensions) == 0 {
		d.logger.Warn("explore has no dimensions to validate", "explore", ex.ID())
		ex.Skipped = core.SkipNoDimensions
	}
}
