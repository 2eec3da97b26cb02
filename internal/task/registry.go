package task

// Registry is an ordered, immutable collection of tasks addressed by index.
// It is safe for concurrent use because it never changes after construction.
type Registry struct {
	tasks []Task
}

// NewRegistry creates a registry holding tasks in the given order. Nil
// entries are kept so that indices stay stable, but they are never returned
// by Get.
func NewRegistry(tasks ...Task) *Registry {
	cp := make([]Task, len(tasks))
	copy(cp, tasks)
	return &Registry{tasks: cp}
}

// Len returns the number of tasks.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.tasks)
}

// Contains reports whether index addresses a task.
func (r *Registry) Contains(index int) bool {
	return index >= 0 && index < r.Len()
}

// Get returns the task at index.
func (r *Registry) Get(index int) (Task, bool) {
	if !r.Contains(index) || r.tasks[index] == nil {
		return nil, false
	}
	return r.tasks[index], true
}
