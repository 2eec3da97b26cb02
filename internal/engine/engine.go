package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seantiz/taskrunner/internal/model"
	"github.com/seantiz/taskrunner/internal/resultlog"
	"github.com/seantiz/taskrunner/internal/store"
	"github.com/seantiz/taskrunner/internal/task"
	"github.com/seantiz/taskrunner/internal/telemetry"
	"github.com/seantiz/taskrunner/internal/worker"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the diagnostic logger. Task failures are reported here.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithOutput sets where command output is printed. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(e *Engine) { e.out = w }
}

// WithWorkers sets the worker pool size. Defaults to worker.DefaultSize.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithStore records every job's lifecycle in s under sessionID.
func WithStore(s store.Store, sessionID string) Option {
	return func(e *Engine) {
		e.store = s
		e.sessionID = sessionID
	}
}

// WithParser replaces the rule that turns a task command into a Submission.
func WithParser(p SubmissionParser) Option {
	return func(e *Engine) { e.parser = p }
}

// WithFatalHandler sets the function called when the result log fails.
// The default logs the error and exits the process.
func WithFatalHandler(f func(error)) Option {
	return func(e *Engine) { e.fatal = f }
}

// Engine dispatches control commands onto a worker pool and owns the result
// log. Commands are meant to be issued from a single control goroutine; task
// bodies run on the pool.
type Engine struct {
	tasks     *task.Registry
	results   *resultlog.Log
	pool      *worker.Pool
	broker    *ResultBroker
	store     store.Store
	sessionID string
	parser    SubmissionParser
	logger    *slog.Logger
	fatal     func(error)
	workers   int

	state atomic.Int32

	outMu sync.Mutex
	out   io.Writer
}

// New creates an engine running tasks from reg and writing results to log.
// The log is truncated before New returns.
func New(reg *task.Registry, log *resultlog.Log, opts ...Option) (*Engine, error) {
	e := &Engine{
		tasks:   reg,
		results: log,
		broker:  NewResultBroker(),
		parser:  ParseSubmission,
		logger:  slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		workers: worker.DefaultSize,
		out:     os.Stdout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.fatal == nil {
		e.fatal = func(err error) {
			e.logger.Error("result log failure", "error", err)
			os.Exit(1)
		}
	}

	if err := e.results.Reset(); err != nil {
		return nil, fmt.Errorf("reset result log: %w", err)
	}

	pool, err := worker.NewPool(e.workers,
		worker.WithLogger(e.logger),
		worker.WithObserver(&jobObserver{store: e.store, sessionID: e.sessionID, logger: e.logger}),
	)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	e.pool = pool
	e.state.Store(int32(model.StateRunning))

	return e, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() model.State {
	return model.State(e.state.Load())
}

// Broker returns the broker that publishes every appended result.
func (e *Engine) Broker() *ResultBroker {
	return e.broker
}

// TaskCount returns the number of tasks in the registry.
func (e *Engine) TaskCount() int {
	return e.tasks.Len()
}

// Workers returns the worker pool size.
func (e *Engine) Workers() int {
	return e.pool.Size()
}

// Outstanding returns the number of queued or running jobs.
func (e *Engine) Outstanding() int {
	return e.pool.Tracker().Len()
}

// HasOutstandingWork reports whether any submission has not finished.
func (e *Engine) HasOutstandingWork() bool {
	return e.pool.ActiveJobs()
}

// Latest returns the most recent result record.
func (e *Engine) Latest() (model.ResultRecord, bool, error) {
	return e.results.Latest()
}

// Run reads commands from r, one per line, until the engine leaves the
// running state or ctx is canceled. End of input counts as an empty line.
func (e *Engine) Run(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSuffix(scanner.Text(), "\r"):
			case <-stop:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for e.State() == model.StateRunning {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return fmt.Errorf("read command: %w", err)
				}
				line = ""
			}
			e.Execute(ctx, line)
		}
	}
	return nil
}

// WaitToFinish blocks until all outstanding work completes, unless the engine
// was force-stopped.
func (e *Engine) WaitToFinish(ctx context.Context) error {
	if e.State() == model.StateForceStopped {
		return nil
	}
	return e.pool.Tracker().Wait(ctx)
}

// Close releases the pool, the broker and the result log. After a forced stop
// it does not wait for tasks that ignore cancellation.
func (e *Engine) Close() error {
	if e.State() == model.StateForceStopped {
		e.pool.CancelAll()
	} else {
		e.pool.Shutdown()
	}
	e.broker.Close()
	return e.results.Close()
}

// transition moves the engine to state to if it is currently in one of from.
func (e *Engine) transition(to model.State, from ...model.State) bool {
	for {
		cur := e.state.Load()
		allowed := false
		for _, f := range from {
			if int32(f) == cur {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
		if e.state.CompareAndSwap(cur, int32(to)) {
			e.logger.Debug("engine state changed", "from", model.State(cur).String(), "to", to.String())
			return true
		}
	}
}

func (e *Engine) println(a ...any) {
	e.outMu.Lock()
	defer e.outMu.Unlock()
	fmt.Fprintln(e.out, a...)
}

// submit schedules sub on the pool. Rejections are only logged at debug level.
func (e *Engine) submit(sub model.Submission) {
	t, ok := e.tasks.Get(sub.TaskIndex)
	if !ok {
		e.logger.Debug("task command dropped", "name", sub.Name, "index", sub.TaskIndex, "reason", "no task at index")
		return
	}

	_, err := e.pool.Submit(sub, func(ctx context.Context) (string, error) {
		return e.execute(ctx, sub, t)
	})
	if err != nil {
		e.logger.Debug("task command dropped", "name", sub.Name, "index", sub.TaskIndex, "reason", err.Error())
	}
}

// execute invokes one task on a worker and appends its result.
func (e *Engine) execute(ctx context.Context, sub model.Submission, t task.Task) (string, error) {
	attrs := []attribute.KeyValue{
		attribute.String("task.name", sub.Name),
		attribute.Int("task.index", sub.TaskIndex),
	}
	if j, ok := worker.JobFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("job.id", j.ID))
	}
	ctx, span := telemetry.Tracer().Start(ctx, "task.execute", trace.WithAttributes(attrs...))
	defer span.End()

	v, err := t.Call(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			e.logger.Warn("task canceled", "name", sub.Name, "index", sub.TaskIndex, "error", err)
		} else {
			e.logger.Error("task failed", "name", sub.Name, "index", sub.TaskIndex, "error", err)
		}
		return "", err
	}

	// A forced stop discards results that arrive late.
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rec := model.ResultRecord{Name: sub.Name, Result: fmt.Sprint(v)}
	if err := e.results.Append(rec); err != nil {
		if errors.Is(err, resultlog.ErrClosed) && ctx.Err() != nil {
			return "", ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.fatal(err)
		return "", err
	}
	e.broker.Publish(rec)

	return rec.Result, nil
}
