package engine

import (
	"context"
	"log/slog"

	"github.com/seantiz/taskrunner/internal/model"
	"github.com/seantiz/taskrunner/internal/store"
	"github.com/seantiz/taskrunner/internal/worker"
)

// jobObserver updates metrics and, when a store is configured, the job
// history as jobs move through the pool.
type jobObserver struct {
	store     store.Store
	sessionID string
	logger    *slog.Logger
}

var _ worker.Observer = (*jobObserver)(nil)

func (o *jobObserver) JobQueued(j *worker.Job) {
	jobsSubmittedTotal.Inc()
	jobsInFlight.Inc()

	if o.store == nil {
		return
	}
	rec := &model.JobRecord{
		ID:        j.ID,
		SessionID: o.sessionID,
		Name:      j.Submission.Name,
		TaskIndex: j.Submission.TaskIndex,
		Status:    model.StatusPending,
		CreatedAt: j.CreatedAt,
	}
	if err := o.store.CreateJob(context.Background(), rec); err != nil {
		o.logger.Warn("failed to record job", "job_id", j.ID, "error", err)
	}
}

func (o *jobObserver) JobStarted(j *worker.Job) {
	if o.store == nil {
		return
	}
	if err := o.store.MarkRunning(context.Background(), j.ID, j.StartedAt()); err != nil {
		o.logger.Warn("failed to mark job running", "job_id", j.ID, "error", err)
	}
}

func (o *jobObserver) JobFinished(j *worker.Job) {
	status := j.Status()
	jobsFinishedTotal.WithLabelValues(status).Inc()
	jobsInFlight.Dec()
	if d := j.Duration(); d > 0 {
		jobDuration.Observe(d.Seconds())
	}

	if o.store == nil {
		return
	}
	finished := j.FinishedAt()
	rec := &model.JobRecord{
		ID:         j.ID,
		Status:     status,
		Result:     j.Result(),
		FinishedAt: &finished,
	}
	if started := j.StartedAt(); !started.IsZero() {
		ms := int(j.Duration().Milliseconds())
		rec.StartedAt = &started
		rec.DurationMS = &ms
	}
	if err := j.Err(); err != nil {
		rec.Error = err.Error()
	}
	if err := o.store.FinishJob(context.Background(), rec); err != nil {
		o.logger.Warn("failed to record job outcome", "job_id", j.ID, "status", status, "error", err)
	}
}
