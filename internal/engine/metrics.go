package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	jobsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskrunner_jobs_submitted_total",
			Help: "Total number of task submissions accepted by the worker pool.",
		},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrunner_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal status.",
		},
		[]string{"status"},
	)

	jobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskrunner_jobs_in_flight",
			Help: "Number of queued or running jobs.",
		},
	)

	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskrunner_job_duration_seconds",
			Help:    "Task execution time in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskrunner_commands_total",
			Help: "Total number of control commands handled.",
		},
		[]string{"command"},
	)
)

func init() {
	prometheus.MustRegister(jobsSubmittedTotal)
	prometheus.MustRegister(jobsFinishedTotal)
	prometheus.MustRegister(jobsInFlight)
	prometheus.MustRegister(jobDuration)
	prometheus.MustRegister(commandsTotal)
}
