package worker

import (
	"context"
	"sync"
)

// Tracker holds the set of outstanding jobs. It is safe for concurrent use.
type Tracker struct {
	mu   sync.Mutex
	jobs map[string]*Job
	// idle is closed whenever the set is empty and replaced by an open
	// channel when the first job is registered.
	idle chan struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	idle := make(chan struct{})
	close(idle)
	return &Tracker{
		jobs: make(map[string]*Job),
		idle: idle,
	}
}

// Register adds j to the outstanding set.
func (t *Tracker) Register(j *Job) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.jobs) == 0 {
		t.idle = make(chan struct{})
	}
	t.jobs[j.ID] = j
}

// Unregister removes j from the outstanding set. Removing a job that is not
// tracked is a no-op.
func (t *Tracker) Unregister(j *Job) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.jobs[j.ID]; !ok {
		return
	}
	delete(t.jobs, j.ID)
	if len(t.jobs) == 0 {
		close(t.idle)
	}
}

// HasOutstandingWork reports whether any registered job has not finished.
func (t *Tracker) HasOutstandingWork() bool {
	return t.Len() > 0
}

// Len returns the number of outstanding jobs.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// Wait blocks until no work is outstanding or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		if len(t.jobs) == 0 {
			t.mu.Unlock()
			return nil
		}
		idle := t.idle
		t.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CancelAll cancels every outstanding job and clears the set without waiting
// for the jobs to return. It reports how many jobs were torn down.
func (t *Tracker) CancelAll() int {
	t.mu.Lock()
	jobs := t.jobs
	t.jobs = make(map[string]*Job)
	if len(jobs) > 0 {
		close(t.idle)
	}
	t.mu.Unlock()

	for _, j := range jobs {
		j.Cancel()
	}
	return len(jobs)
}
