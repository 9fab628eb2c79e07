package engine

import (
	"context"

	"github.com/sethvargo/go-retry"

	"github.com/leapstack-labs/lookval/internal/looker"
	"github.com/leapstack-labs/lookval/pkg/core"
)

// dispatch turns pending queries into remote tasks. Every acquired slot is
// reported to the aggregator exactly once, whatever happens to the query.
func (r *run) dispatch(ctx context.Context) error {
	for {
		q, err := r.pending.Pop(ctx)
		if err != nil {
			return nil
		}
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		r.acquire()
		r.outcomes <- r.create(ctx, q)
	}
}

// create saves the query and starts its task. Authentication failures are
// retried with refreshed credentials.
func (r *run) create(ctx context.Context, q *core.Query) outcome {
	model, explore := q.Explore.Model, q.Explore.Name
	names := q.DimensionNames()

	var created *looker.CreatedQuery
	var taskID string
	backoff := retry.WithMaxRetries(uint64(r.cfg.AuthAttempts-1), retry.NewConstant(r.cfg.AuthRetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		cq, err := r.api.CreateQuery(ctx, model, explore, names)
		if err == nil {
			var id string
			if id, err = r.api.CreateQueryTask(ctx, cq.ID); err == nil {
				created, taskID = cq, id
				return nil
			}
		}
		if looker.IsAuthError(err) && ctx.Err() == nil {
			r.logger.Warn("authentication failed creating query, refreshing credentials",
				"explore", q.Explore.ID(), "error", err)
			if aerr := r.api.Authenticate(ctx); aerr != nil {
				r.logger.Warn("failed to refresh credentials", "error", aerr)
			}
			return retry.RetryableError(err)
		}
		return err
	})

	switch {
	case err == nil:
		r.logger.Debug("created query task", "explore", q.Explore.ID(), "dimensions", q.Len(), "task_id", taskID)
		return outcome{kind: outcomeCreated, query: q, created: created, taskID: taskID}
	case ctx.Err() != nil:
		return outcome{kind: outcomeAbandoned, query: q}
	default:
		return outcome{kind: outcomeCreateFailed, query: q, err: err}
	}
}
