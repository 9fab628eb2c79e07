// Package engine runs SQL validation queries against the Looker API.
//
// A run has three goroutines. The dispatcher takes queries from the pending
// queue, acquires a concurrency slot and creates a remote query task. The
// poller batches running task ids into multi-result calls. The aggregator is
// the only goroutine that mutates explores, dimensions and the task
// registry: the other two report outcomes to it over a channel. When a
// multi-dimension query fails, the aggregator divides it and feeds both
// halves back into the pending queue until each error is pinned to a single
// dimension.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/lookval/internal/looker"
	"github.com/leapstack-labs/lookval/pkg/core"
)

// Defaults for Config fields left zero.
const (
	DefaultConcurrency      = 10
	DefaultRuntimeThreshold = 5 * time.Second
	DefaultPollInterval     = 500 * time.Millisecond
	DefaultAuthAttempts     = 3
	DefaultAuthRetryDelay   = time.Second
)

// maxTaskBatch caps task ids per multi-result call.
const maxTaskBatch = 250

// ErrAccounting reports leaked concurrency slots or task registrations.
var ErrAccounting = errors.New("engine accounting mismatch")

// API is the subset of the Looker client the engine needs.
type API interface {
	CreateQuery(ctx context.Context, model, explore string, dims []string) (*looker.CreatedQuery, error)
	CreateQueryTask(ctx context.Context, queryID string) (string, error)
	PollTasks(ctx context.Context, taskIDs []string) (map[string]looker.TaskResult, error)
	CancelTask(ctx context.Context, taskID string) error
	Authenticate(ctx context.Context) error
}

// Config holds engine settings.
type Config struct {
	// Concurrency caps outstanding remote query tasks.
	Concurrency int
	// ChunkSize caps dimensions per initial query.
	ChunkSize int
	// FailFast reports a failing explore as a whole and stops the run.
	FailFast bool
	// Profile records queries slower than RuntimeThreshold.
	Profile          bool
	RuntimeThreshold time.Duration
	// PollInterval is the pause between multi-result calls.
	PollInterval time.Duration
	// AuthAttempts bounds query creation attempts on authentication failures.
	AuthAttempts   int
	AuthRetryDelay time.Duration
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.RuntimeThreshold <= 0 {
		c.RuntimeThreshold = DefaultRuntimeThreshold
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.AuthAttempts <= 0 {
		c.AuthAttempts = DefaultAuthAttempts
	}
	if c.AuthRetryDelay <= 0 {
		c.AuthRetryDelay = DefaultAuthRetryDelay
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Engine validates explores by running test queries.
type Engine struct {
	api    API
	cfg    Config
	logger *slog.Logger
}

// New creates an engine.
func New(api API, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{api: api, cfg: cfg, logger: cfg.Logger}
}

// Stats are counters collected during a run.
type Stats struct {
	InitialQueries int
	QueriesCreated int
	Bisections     int
	Completed      int
	Failed         int
	Killed         int
	Cancelled      int
	MaxOutstanding int
	SlotsAcquired  int
	SlotsReleased  int
	TasksInserted  int
	TasksRemoved   int
}

// Report is the outcome of a run. Results are written into the explores
// passed to Run; the report carries what is not part of the model.
type Report struct {
	Stats Stats
	// Slow holds completed queries over the runtime threshold, slowest first.
	Slow []*core.Query
	// Aborted is set when the run stopped before every query resolved.
	Aborted bool
	// FailFast is set when the abort was triggered by a failing explore.
	FailFast bool
	Duration time.Duration
}

// Run validates explores in place. It returns when every query resolved,
// when fail-fast stops the run, or when ctx is cancelled; in the last case
// the partial report is returned together with the context error.
func (e *Engine) Run(ctx context.Context, explores []*core.Explore) (*Report, error) {
	start := time.Now()
	queries, err := BuildQueries(explores, e.cfg.ChunkSize)
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		e.logger.Info("no queries to run")
		return &Report{}, nil
	}

	e.logger.Info("running queries", "queries", len(queries), "explores", countExplores(queries),
		"concurrency", e.cfg.Concurrency, "chunk_size", e.cfg.ChunkSize, "fail_fast", e.cfg.FailFast)

	r := newRun(e, queries)
	report, err := r.execute(ctx)
	report.Duration = time.Since(start)
	if err != nil {
		return report, err
	}
	if err := r.checkAccounting(); err != nil {
		return report, err
	}

	e.logger.Info("queries finished",
		"created", report.Stats.QueriesCreated, "bisections", report.Stats.Bisections,
		"max_outstanding", report.Stats.MaxOutstanding, "aborted", report.Aborted,
		"duration", report.Duration)
	return report, nil
}

func countExplores(queries []*core.Query) int {
	seen := map[*core.Explore]struct{}{}
	for _, q := range queries {
		seen[q.Explore] = struct{}{}
	}
	return len(seen)
}

func (r *run) checkAccounting() error {
	s := r.stats
	var errs []error
	if s.SlotsAcquired != s.SlotsReleased {
		errs = append(errs, fmt.Errorf("%w: %d slots acquired, %d released", ErrAccounting, s.SlotsAcquired, s.SlotsReleased))
	}
	if s.TasksInserted != s.TasksRemoved || r.registry.len() != 0 {
		errs = append(errs, fmt.Errorf("%w: %d tasks registered, %d removed", ErrAccounting, s.TasksInserted, s.TasksRemoved))
	}
	return errors.Join(errs...)
}
