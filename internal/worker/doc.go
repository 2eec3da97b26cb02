// Package worker provides the fixed-size goroutine pool that executes
// submitted work and the tracker that records which jobs are still
// outstanding.
//
// Every job is registered with the pool's Tracker before it is queued and
// unregistered after it finishes, so Pool.ActiveJobs and
// Tracker.HasOutstandingWork always agree. Cancellation is cooperative: a job
// observes it through the context passed to its Work function.
package worker
