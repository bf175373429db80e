// Package executor holds the task executors a worker can run, keyed by task
// name.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dw2kim/job-scheduler/internal/core"
)

// ErrUnknownTask is returned for a task name with no registered executor.
var ErrUnknownTask = errors.New("unknown task")

var _ core.Executor = (*Registry)(nil)

// Registry dispatches a task to the executor registered under its name.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]core.Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]core.Executor)}
}

// Register binds name to e, replacing any previous binding.
func (r *Registry) Register(name string, e core.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = e
}

// Names returns the registered task names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for n := range r.executors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Execute(ctx context.Context, task core.Task) error {
	r.mu.RLock()
	e, ok := r.executors[task.Name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, task.Name)
	}
	return e.Execute(ctx, task)
}
