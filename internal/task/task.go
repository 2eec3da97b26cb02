package task

import "context"

// Task is a unit of work the runner can invoke. Its output is opaque to the
// runner and only ever rendered with fmt.Sprint.
type Task interface {
	// Call runs the task. The context is canceled on forced shutdown; tasks
	// that ignore it may outlive the runner's cancellation.
	Call(ctx context.Context) (any, error)
}

// Func adapts an ordinary function to the Task interface.
type Func func(ctx context.Context) (any, error)

// Call invokes f.
func (f Func) Call(ctx context.Context) (any, error) {
	return f(ctx)
}

// Value returns a task that always yields v.
func Value(v any) Task {
	return Func(func(context.Context) (any, error) {
		return v, nil
	})
}
