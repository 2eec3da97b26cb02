package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/seantiz/taskrunner/internal/model"
)

// DefaultSize is the number of workers used when none is configured.
const DefaultSize = 6

// ErrPoolClosed is returned by Submit after Shutdown or CancelAll.
var ErrPoolClosed = errors.New("worker pool closed")

// Observer receives job lifecycle notifications. Calls for a given job arrive
// in order (queued, started, finished) but may come from different goroutines.
// JobStarted is skipped for jobs canceled before they ran.
type Observer interface {
	JobQueued(j *Job)
	JobStarted(j *Job)
	JobFinished(j *Job)
}

type nopObserver struct{}

func (nopObserver) JobQueued(*Job)   {}
func (nopObserver) JobStarted(*Job)  {}
func (nopObserver) JobFinished(*Job) {}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used for worker diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithObserver registers an observer for job lifecycle events.
func WithObserver(o Observer) Option {
	return func(p *Pool) { p.observer = o }
}

// Pool runs submitted work on a fixed number of goroutines. Submissions never
// block: jobs beyond the worker count wait in a FIFO queue.
type Pool struct {
	size     int
	tracker  *Tracker
	logger   *slog.Logger
	observer Observer

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Job
	closed bool

	wg sync.WaitGroup
}

// NewPool starts a pool with size workers.
func NewPool(size int, opts ...Option) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("worker pool size must be at least 1, got %d", size)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		size:     size,
		tracker:  NewTracker(),
		logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
		observer: nopObserver{},
		ctx:      ctx,
		cancel:   cancel,
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < size; i++ {
		p.wg.Go(func() {
			p.workerLoop(i)
		})
	}
	return p, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Tracker returns the tracker holding the pool's outstanding jobs.
func (p *Pool) Tracker() *Tracker {
	return p.tracker
}

// Submit queues work for execution and returns its handle immediately.
func (p *Pool) Submit(sub model.Submission, work Work) (*Job, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	j := newJob(p.ctx, sub, work)
	p.observer.JobQueued(j)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.complete(j, model.StatusCanceled, "", ErrPoolClosed)
		return nil, ErrPoolClosed
	}
	p.tracker.Register(j)
	p.queue = append(p.queue, j)
	p.cond.Signal()
	p.mu.Unlock()

	return j, nil
}

// ActiveJobs reports whether any accepted job is queued or running.
func (p *Pool) ActiveJobs() bool {
	return p.tracker.HasOutstandingWork()
}

// Pending returns the number of queued jobs that have not started.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// CancelAll cancels every queued and running job and closes the pool to new
// submissions. It does not wait for running jobs to return.
func (p *Pool) CancelAll() {
	p.mu.Lock()
	p.closed = true
	dropped := p.queue
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	p.cancel()
	torn := p.tracker.CancelAll()

	for _, j := range dropped {
		p.complete(j, model.StatusCanceled, "", context.Canceled)
	}

	p.logger.Info("worker pool canceled", "dropped", len(dropped), "outstanding", torn)
}

// Shutdown stops accepting submissions and returns once every queued job has
// run and all workers have exited.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) workerLoop(id int) {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		j := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.run(id, j)
	}
}

func (p *Pool) run(workerID int, j *Job) {
	if !j.markRunning() {
		p.complete(j, model.StatusCanceled, "", context.Canceled)
		return
	}
	p.observer.JobStarted(j)

	result, err := p.invoke(workerID, j)

	switch {
	case err == nil:
		p.complete(j, model.StatusCompleted, result, nil)
	case j.ctx.Err() != nil:
		p.complete(j, model.StatusCanceled, "", err)
	default:
		p.complete(j, model.StatusFailed, "", err)
	}
}

// invoke calls the job body, converting a panic into an error.
func (p *Pool) invoke(workerID int, j *Job) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", "worker", workerID, "job_id", j.ID, "panic", r)
			result, err = "", fmt.Errorf("job panicked: %v", r)
		}
	}()
	return j.work(j.ctx)
}

// complete records the terminal status, notifies the observer and only then
// releases the job from the tracker, so that waiters see every side effect.
func (p *Pool) complete(j *Job, status, result string, err error) {
	if j.finish(status, result, err) {
		p.observer.JobFinished(j)
	}
	j.closeDone()
	p.tracker.Unregister(j)
}
