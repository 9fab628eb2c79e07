package engine

import (
	"fmt"
	"sort"

	"github.com/leapstack-labs/lookval/pkg/core"
)

// taskRegistry maps remote task ids to the query they run. It is owned by
// the aggregator goroutine and is not safe for concurrent use.
type taskRegistry struct {
	tasks    map[string]*core.Query
	inserted int
	removed  int
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{tasks: map[string]*core.Query{}}
}

func (r *taskRegistry) insert(taskID string, q *core.Query) error {
	if _, ok := r.tasks[taskID]; ok {
		return fmt.Errorf("task %s registered twice", taskID)
	}
	r.tasks[taskID] = q
	r.inserted++
	return nil
}

func (r *taskRegistry) remove(taskID string) (*core.Query, bool) {
	q, ok := r.tasks[taskID]
	if !ok {
		return nil, false
	}
	delete(r.tasks, taskID)
	r.removed++
	return q, true
}

func (r *taskRegistry) len() int {
	return len(r.tasks)
}

// ids returns the registered task ids in sorted order.
func (r *taskRegistry) ids() []string {
	ids := make([]string, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
