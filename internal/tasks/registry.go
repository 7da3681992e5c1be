package tasks

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps task names to tasks. The worker resolves incoming messages by
// name, so two tasks may not share one.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Add inserts t unless its name is taken, in which case it returns
// ErrDuplicateTask and leaves the registry unchanged.
func (r *Registry) Add(t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[t.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.Name())
	}
	r.tasks[t.Name()] = t
	return nil
}

// Register adds t to the registry.
// It panics if a task is already registered under the same name.
func (r *Registry) Register(t *Task) {
	if err := r.Add(t); err != nil {
		panic(err.Error())
	}
}

// Lookup returns the task registered under name.
func (r *Registry) Lookup(name string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[name]
	return t, ok
}

// Names returns the registered task names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
