package worker

import (
	"context"
	"sync"
	"time"

	"github.com/seantiz/taskrunner/internal/model"
)

// Work is the body of a job. It returns the displayable result on success and
// should return promptly once ctx is canceled.
type Work func(ctx context.Context) (string, error)

type jobKey struct{}

// JobFromContext returns the job whose Work is running with ctx.
func JobFromContext(ctx context.Context) (*Job, bool) {
	j, ok := ctx.Value(jobKey{}).(*Job)
	return j, ok
}

// Job tracks one submission from registration until it reaches a terminal
// status.
type Job struct {
	ID         string
	Submission model.Submission
	CreatedAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	work   Work

	done     chan struct{}
	doneOnce sync.Once

	mu         sync.Mutex
	status     string
	result     string
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

func newJob(parent context.Context, sub model.Submission, work Work) *Job {
	j := &Job{
		ID:         model.NewID(),
		Submission: sub,
		CreatedAt:  time.Now().UTC(),
		work:       work,
		done:       make(chan struct{}),
		status:     model.StatusPending,
	}
	j.ctx, j.cancel = context.WithCancel(context.WithValue(parent, jobKey{}, j))
	return j
}

// Context returns the job's context, canceled when the job is canceled.
func (j *Job) Context() context.Context {
	return j.ctx
}

// Cancel requests cooperative cancellation of the job.
func (j *Job) Cancel() {
	j.cancel()
}

// Done returns a channel that is closed when the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Status returns the job's current status.
func (j *Job) Status() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Result returns the output of a completed job.
func (j *Job) Result() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// Err returns the error the job failed or was canceled with, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// StartedAt returns when the job began running; zero if it never ran.
func (j *Job) StartedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.startedAt
}

// FinishedAt returns when the job reached a terminal status.
func (j *Job) FinishedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finishedAt
}

// Duration returns how long the job ran, or zero if it never started.
func (j *Job) Duration() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.startedAt.IsZero() || j.finishedAt.IsZero() {
		return 0
	}
	return j.finishedAt.Sub(j.startedAt)
}

// markRunning moves a pending job to running. It returns false when the job
// was canceled before it could start.
func (j *Job) markRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !model.ValidTransition(j.status, model.StatusRunning) || j.ctx.Err() != nil {
		return false
	}
	j.status = model.StatusRunning
	j.startedAt = time.Now().UTC()
	return true
}

// finish records the terminal status. Only the first call has any effect.
func (j *Job) finish(status, result string, err error) bool {
	j.mu.Lock()
	if !model.ValidTransition(j.status, status) {
		j.mu.Unlock()
		return false
	}
	j.status = status
	j.result = result
	j.err = err
	j.finishedAt = time.Now().UTC()
	j.mu.Unlock()

	j.cancel()
	return true
}

func (j *Job) closeDone() {
	j.doneOnce.Do(func() { close(j.done) })
}
