package engine

import (
	"context"

	"github.com/leapstack-labs/lookval/internal/looker"
)

// poll checks running tasks in batches. Non-terminal tasks go back on the
// running queue; terminal ones are reported to the aggregator.
func (r *run) poll(ctx context.Context) error {
	authFailures := map[string]int{}
	for {
		first, err := r.running.Pop(ctx)
		if err != nil {
			return nil
		}
		batch := []string{first}
		for len(batch) < maxTaskBatch {
			id, ok := r.running.TryPop()
			if !ok {
				break
			}
			batch = append(batch, id)
		}

		r.pollBatch(ctx, batch, authFailures)
		if !sleepCtx(ctx, r.cfg.PollInterval) {
			return nil
		}
	}
}

func (r *run) pollBatch(ctx context.Context, batch []string, authFailures map[string]int) {
	results, err := r.api.PollTasks(ctx, batch)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("failed to poll query tasks, retrying", "tasks", len(batch), "error", err)
		if looker.IsAuthError(err) {
			r.reauthenticate(ctx)
		}
		r.requeue(batch...)
		return
	}

	reauth := false
	for _, id := range batch {
		res, ok := results[id]
		if !ok {
			r.logger.Warn("query task missing from poll response", "task_id", id)
			r.requeue(id)
			continue
		}

		switch res.Status {
		case looker.TaskComplete, looker.TaskKilled:
			delete(authFailures, id)
			r.outcomes <- outcome{kind: outcomeTerminal, taskID: id, result: res}
		case looker.TaskError:
			if res.IsAuthError() {
				authFailures[id]++
				if authFailures[id] < r.cfg.AuthAttempts {
					r.logger.Warn("query task hit an expired session, resubmitting", "task_id", id)
					reauth = true
					r.requeue(id)
					continue
				}
			}
			delete(authFailures, id)
			r.outcomes <- outcome{kind: outcomeTerminal, taskID: id, result: res}
		case looker.TaskRunning, looker.TaskAdded, looker.TaskExpired:
			r.requeue(id)
		default:
			r.logger.Error("unexpected query task status", "task_id", id, "status", res.Status)
			r.requeue(id)
		}
	}
	if reauth {
		r.reauthenticate(ctx)
	}
}

func (r *run) reauthenticate(ctx context.Context) {
	if err := r.api.Authenticate(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn("failed to refresh credentials", "error", err)
	}
}

// requeue puts ids back on the running queue. After shutdown began the push
// is refused and the ids stay registered until they are cancelled.
func (r *run) requeue(ids ...string) {
	for _, id := range ids {
		r.running.Push(id)
	}
}
