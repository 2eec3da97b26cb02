// Package store persists the history of submitted jobs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/taskrunner/internal/model"
)

// ErrInvalidTransition is returned when a job status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// JobStats holds aggregate execution statistics.
type JobStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for job history.
type Store interface {
	CreateJob(ctx context.Context, j *model.JobRecord) error
	GetJob(ctx context.Context, id string) (*model.JobRecord, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.JobRecord, int, error)
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error
	FinishJob(ctx context.Context, j *model.JobRecord) error
	GetJobStats(ctx context.Context) (*JobStats, error)
	Close() error
}
