package main

import (
	"context"
	"errors"
	"os"
	"runtime"
	"time"

	"github.com/seantiz/taskrunner/internal/task"
)

const slowTaskDelay = 3 * time.Second

var errAlwaysFails = errors.New("this task always fails")

// demoCatalog is the task list served by the binary. Indexes are stable.
func demoCatalog() *task.Registry {
	return task.NewRegistry(
		task.Value(42),
		task.Func(func(context.Context) (any, error) {
			return time.Now().UTC().Format(time.RFC3339), nil
		}),
		task.Func(func(ctx context.Context) (any, error) {
			select {
			case <-time.After(slowTaskDelay):
				return "slept " + slowTaskDelay.String(), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}),
		task.Func(func(context.Context) (any, error) {
			return nil, errAlwaysFails
		}),
		task.Func(func(context.Context) (any, error) {
			return os.Hostname()
		}),
		task.Func(func(context.Context) (any, error) {
			return runtime.NumGoroutine(), nil
		}),
	)
}
