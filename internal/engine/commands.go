package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/seantiz/taskrunner/internal/model"
)

// Control commands.
const (
	cmdTask        = "task"
	cmdGet         = "get"
	cmdFinishGrace = "finish grace"
	cmdFinishForce = "finish force"
	cmdClean       = "clean"
	cmdHelp        = "help"
)

// Output lines.
const (
	msgNoResults       = "No results available."
	msgShuttingDown    = "Shutting down gracefully..."
	msgResultsCleaned  = "Results file cleaned."
	msgUnknownCommandF = "Unknown command: %s"
)

var helpText = []string{
	"Available commands:",
	"task <name> <index> - Run a task.",
	"get - Get the latest result.",
	"finish grace - Stop gracefully.",
	"finish force - Stop immediately.",
	"clean - Clear results.",
}

var (
	// ErrMalformedCommand is returned for task commands that are not exactly
	// "task <name> <index>" with an integer index.
	ErrMalformedCommand = errors.New("malformed task command")
	// ErrIndexOutOfRange is returned when the index addresses no task.
	ErrIndexOutOfRange = errors.New("task index out of range")
)

// SubmissionParser turns a task command line into a Submission. It is the
// single place deciding whether a task command is accepted.
type SubmissionParser func(line string, taskCount int) (model.Submission, error)

// ParseSubmission accepts "task <name> <index>" with single-space separators
// and 0 <= index < taskCount.
func ParseSubmission(line string, taskCount int) (model.Submission, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 || parts[0] != cmdTask {
		return model.Submission{}, fmt.Errorf("%w: %q", ErrMalformedCommand, line)
	}

	idx, err := strconv.Atoi(parts[2])
	if err != nil {
		return model.Submission{}, fmt.Errorf("%w: index %q is not an integer", ErrMalformedCommand, parts[2])
	}
	if idx < 0 || idx >= taskCount {
		return model.Submission{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, idx, taskCount)
	}

	return model.Submission{Name: parts[1], TaskIndex: idx}, nil
}

// Execute handles one command line.
func (e *Engine) Execute(ctx context.Context, line string) {
	switch {
	case strings.HasPrefix(line, cmdTask):
		commandsTotal.WithLabelValues(cmdTask).Inc()
		e.handleTask(line)
	case line == cmdGet:
		commandsTotal.WithLabelValues(cmdGet).Inc()
		e.handleGet()
	case line == cmdFinishGrace:
		commandsTotal.WithLabelValues("finish_grace").Inc()
		e.FinishGrace(ctx)
	case line == cmdFinishForce:
		commandsTotal.WithLabelValues("finish_force").Inc()
		e.FinishForce()
	case line == cmdClean:
		commandsTotal.WithLabelValues(cmdClean).Inc()
		e.handleClean()
	case line == cmdHelp:
		commandsTotal.WithLabelValues(cmdHelp).Inc()
		e.handleHelp()
	case line == "":
		commandsTotal.WithLabelValues("quit").Inc()
		e.Quit()
	default:
		commandsTotal.WithLabelValues("unknown").Inc()
		e.println(fmt.Sprintf(msgUnknownCommandF, line))
	}
}

// handleTask submits a task when the engine is accepting work. Malformed
// commands are dropped without output.
func (e *Engine) handleTask(line string) {
	if !e.State().Accepting() {
		e.logger.Debug("task command dropped", "command", line, "state", e.State().String())
		return
	}

	sub, err := e.parser(line, e.tasks.Len())
	if err != nil {
		e.logger.Debug("task command dropped", "command", line, "error", err)
		return
	}
	e.submit(sub)
}

func (e *Engine) handleGet() {
	rec, ok, err := e.results.Latest()
	if err != nil {
		e.fatal(fmt.Errorf("read latest result: %w", err))
		return
	}
	if !ok {
		e.println(msgNoResults)
		return
	}
	e.println(fmt.Sprintf("%s [%s]", rec.Result, rec.Name))
}

func (e *Engine) handleClean() {
	if err := e.results.Reset(); err != nil {
		e.fatal(fmt.Errorf("clean results: %w", err))
		return
	}
	e.println(msgResultsCleaned)
}

func (e *Engine) handleHelp() {
	for _, l := range helpText {
		e.println(l)
	}
}

// FinishGrace stops accepting submissions and blocks until every outstanding
// job has finished or ctx is canceled.
func (e *Engine) FinishGrace(ctx context.Context) {
	e.println(msgShuttingDown)
	e.transition(model.StateDraining, model.StateRunning)

	if err := e.pool.Tracker().Wait(ctx); err != nil {
		e.logger.Warn("graceful shutdown interrupted", "outstanding", e.Outstanding(), "error", err)
		return
	}
	e.transition(model.StateStopped, model.StateDraining)
	e.logger.Info("engine drained")
}

// FinishForce stops accepting submissions and cancels all outstanding work
// without waiting for it.
func (e *Engine) FinishForce() {
	prev := model.State(e.state.Swap(int32(model.StateForceStopped)))
	outstanding := e.Outstanding()
	e.pool.CancelAll()
	e.logger.Info("engine force-stopped", "previous_state", prev.String(), "canceled", outstanding)
}

// Quit stops the command loop without waiting for outstanding work.
func (e *Engine) Quit() {
	e.transition(model.StateStopped, model.StateRunning, model.StateDraining)
}
