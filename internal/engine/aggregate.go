package engine

import (
	"fmt"
	"time"

	"github.com/leapstack-labs/lookval/internal/looker"
	"github.com/leapstack-labs/lookval/pkg/core"
)

const killedMessage = "Query task was killed (database timeout or manual cancellation)"

// aggregate applies outcomes until the channel is closed. It is the only
// writer of explores, dimensions, queries and the task registry.
func (r *run) aggregate() {
	for o := range r.outcomes {
		switch o.kind {
		case outcomeCreated:
			r.onCreated(o)
		case outcomeCreateFailed:
			r.onCreateFailed(o)
		case outcomeAbandoned:
			r.release()
		case outcomeTerminal:
			r.onTerminal(o)
		}
	}
}

func (r *run) onCreated(o outcome) {
	q := o.query
	q.ID = o.created.ID
	q.ExploreURL = o.created.ShareURL
	r.stats.QueriesCreated++

	if err := r.registry.insert(o.taskID, q); err != nil {
		r.logger.Error("duplicate query task", "task_id", o.taskID, "error", err)
		r.fail(q, err.Error(), "")
		return
	}
	r.running.Push(o.taskID)
}

func (r *run) onCreateFailed(o outcome) {
	q := o.query
	r.logger.Error("failed to create query task", "explore", q.Explore.ID(), "dimensions", q.Len(), "error", o.err)
	r.fail(q, fmt.Sprintf("Failed to create or run query task: %v", o.err), "")
}

func (r *run) onTerminal(o outcome) {
	q, ok := r.registry.remove(o.taskID)
	if !ok {
		r.logger.Warn("no query found for task", "task_id", o.taskID)
		return
	}
	res := o.result

	switch res.Status {
	case looker.TaskComplete:
		r.onComplete(q, res)
	case looker.TaskKilled:
		r.stats.Killed++
		r.logger.Warn("query task was killed", "explore", q.Explore.ID(), "task_id", o.taskID)
		r.fail(q, killedMessage, "")
		if r.cfg.FailFast {
			r.abort(q.Explore)
		}
	case looker.TaskError:
		if res.IsAuthError() {
			// Session errors arrive here only after resubmits ran out.
			r.logger.Error("query task kept failing authentication", "explore", q.Explore.ID(), "task_id", o.taskID)
			r.fail(q, fmt.Sprintf("Query task failed authentication: %s", res.ErrorMessage()), "")
			return
		}
		r.onError(q, res)
	}
}

func (r *run) onComplete(q *core.Query, res looker.TaskResult) {
	seconds, _ := res.Runtime()
	q.Errored = false
	q.Runtime = time.Duration(seconds * float64(time.Second))
	q.MarkQueried()
	q.Explore.Successes = append(q.Explore.Successes, core.Success{
		Model:      q.Explore.Model,
		Explore:    q.Explore.Name,
		Dimensions: q.DimensionNames(),
		Runtime:    seconds,
	})
	r.stats.Completed++
	if r.cfg.Profile && q.Runtime > r.cfg.RuntimeThreshold {
		r.slow = append(r.slow, q)
	}
	r.release()
	r.resolve()
}

func (r *run) onError(q *core.Query, res looker.TaskResult) {
	q.Errored = true
	r.stats.Failed++
	message, sql := res.ErrorMessage(), res.Data.SQL

	switch {
	case r.cfg.FailFast:
		q.MarkQueried()
		q.Explore.AddError(message, sql, q.ExploreURL)
		r.release()
		r.resolve()
		r.abort(q.Explore)

	case q.Len() > 1:
		children, err := q.Divide()
		if err != nil {
			r.fail(q, message, sql)
			return
		}
		r.stats.Bisections++
		r.logger.Debug("dividing failed query", "explore", q.Explore.ID(), "dimensions", q.Len())
		// Children are counted before the parent resolves so the join
		// counter cannot reach zero in between.
		q.Explore.MarkQueried()
		for _, child := range children {
			r.unresolved++
			r.pending.Push(child)
		}
		r.release()
		r.resolve()

	default:
		dim := q.Dimensions()[0]
		r.logger.Debug("isolated failing dimension", "explore", q.Explore.ID(), "dimension", dim.Name)
		r.fail(q, message, sql)
	}
}

// fail attaches an error to the query's single dimension, or to its explore
// when it spans several, and resolves the query.
func (r *run) fail(q *core.Query, message, sql string) {
	q.Errored = true
	q.MarkQueried()
	if q.Len() == 1 {
		q.Dimensions()[0].AddError(message, sql)
	} else {
		q.Explore.AddError(message, sql, q.ExploreURL)
	}
	r.release()
	r.resolve()
}

// resolve counts one query as finished and signals completion when none are
// left.
func (r *run) resolve() {
	r.unresolved--
	if r.unresolved == 0 && !r.finished {
		r.finished = true
		close(r.done)
	}
}

// abort stops the run after a fail-fast failure.
func (r *run) abort(e *core.Explore) {
	if r.failFast {
		return
	}
	r.failFast = true
	r.logger.Warn("fail fast triggered, stopping run", "explore", e.ID())
	r.stop()
}
