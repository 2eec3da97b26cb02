// Package task defines the invocable unit the runner schedules and the
// ordered, immutable registry that addresses tasks by index.
package task
