package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/leapstack-labs/lookval/internal/looker"
	"github.com/leapstack-labs/lookval/pkg/core"
)

// cancelTimeout bounds best-effort task cancellation after an abort.
const cancelTimeout = 30 * time.Second

type outcomeKind int

const (
	// outcomeCreated: a remote task now runs the query and holds a slot.
	outcomeCreated outcomeKind = iota
	// outcomeCreateFailed: creation failed for good; the slot must be released.
	outcomeCreateFailed
	// outcomeAbandoned: the run is stopping; only the slot must be released.
	outcomeAbandoned
	// outcomeTerminal: a task reached complete, error or killed.
	outcomeTerminal
)

// outcome is what the dispatcher and poller report to the aggregator.
type outcome struct {
	kind    outcomeKind
	query   *core.Query
	created *looker.CreatedQuery
	taskID  string
	result  looker.TaskResult
	err     error
}

// run is the state of one Engine.Run call.
type run struct {
	api    API
	cfg    Config
	logger *slog.Logger

	initial  []*core.Query
	pending  *workQueue[*core.Query]
	running  *workQueue[string]
	sem      *semaphore.Weighted
	outcomes chan outcome
	done     chan struct{}
	stop     context.CancelFunc

	acquired       atomic.Int64
	released       atomic.Int64
	maxOutstanding atomic.Int64

	// Owned by the aggregator goroutine until it exits.
	registry   *taskRegistry
	unresolved int
	finished   bool
	stats      Stats
	slow       []*core.Query
	failFast   bool
}

func newRun(e *Engine, queries []*core.Query) *run {
	return &run{
		api:      e.api,
		cfg:      e.cfg,
		logger:   e.logger,
		initial:  queries,
		pending:  newWorkQueue[*core.Query](),
		running:  newWorkQueue[string](),
		sem:      semaphore.NewWeighted(int64(e.cfg.Concurrency)),
		outcomes: make(chan outcome),
		done:     make(chan struct{}),
		registry: newTaskRegistry(),
	}
}

// execute drives the run to completion or abort. The returned report is
// never nil.
func (r *run) execute(parent context.Context) (*Report, error) {
	ctx, stop := context.WithCancel(parent)
	defer stop()
	r.stop = stop

	r.unresolved = len(r.initial)
	r.stats.InitialQueries = len(r.initial)
	for _, q := range r.initial {
		r.pending.Push(q)
	}

	aggregated := make(chan struct{})
	go func() {
		defer close(aggregated)
		r.aggregate()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.dispatch(gctx) })
	g.Go(func() error { return r.poll(gctx) })

	interrupted := false
	select {
	case <-r.done:
	case <-ctx.Done():
		interrupted = true
	}

	// Stop the workers, then the aggregator. Workers may still be delivering
	// outcomes, so the channel is closed only after they exit.
	stop()
	r.pending.Close()
	r.running.Close()
	werr := g.Wait()
	close(r.outcomes)
	<-aggregated

	if interrupted {
		r.cancelOutstanding(parent)
	}
	dropped := len(r.pending.Drain())
	r.running.Drain()
	if dropped > 0 {
		r.logger.Debug("dropped pending queries", "count", dropped)
	}

	report := r.report(interrupted || r.failFast)
	if err := parent.Err(); err != nil {
		return report, err
	}
	return report, werr
}

// cancelOutstanding cancels every task still registered and releases its
// slot. Cancellation errors are ignored.
func (r *run) cancelOutstanding(parent context.Context) {
	ids := r.registry.ids()
	if len(ids) == 0 {
		return
	}
	r.logger.Info("cancelling outstanding query tasks", "count", len(ids))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), cancelTimeout)
	defer cancel()
	for _, id := range ids {
		if err := r.api.CancelTask(ctx, id); err != nil {
			r.logger.Debug("failed to cancel query task", "task_id", id, "error", err)
		}
		r.registry.remove(id)
		r.stats.Cancelled++
		r.release()
	}
}

func (r *run) report(aborted bool) *Report {
	r.stats.SlotsAcquired = int(r.acquired.Load())
	r.stats.SlotsReleased = int(r.released.Load())
	r.stats.MaxOutstanding = int(r.maxOutstanding.Load())
	r.stats.TasksInserted = r.registry.inserted
	r.stats.TasksRemoved = r.registry.removed

	sort.SliceStable(r.slow, func(i, j int) bool {
		return r.slow[i].Runtime > r.slow[j].Runtime
	})
	return &Report{
		Stats:    r.stats,
		Slow:     r.slow,
		Aborted:  aborted,
		FailFast: r.failFast,
	}
}

// acquire records a slot taken by the dispatcher and tracks the peak.
func (r *run) acquire() {
	n := r.acquired.Add(1) - r.released.Load()
	for {
		peak := r.maxOutstanding.Load()
		if n <= peak || r.maxOutstanding.CompareAndSwap(peak, n) {
			return
		}
	}
}

// release returns a slot. The counter moves first so a waiting dispatcher
// never observes more outstanding slots than the semaphore allows.
func (r *run) release() {
	r.released.Add(1)
	r.sem.Release(1)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
