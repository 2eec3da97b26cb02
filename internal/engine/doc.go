// Package engine implements the command-driven task runner. It reads one
// command per line, submits tasks to a worker pool, persists successful
// results to the result log and enforces the graceful and forced shutdown
// protocols.
package engine
