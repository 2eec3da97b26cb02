package model

// State is the lifecycle state of a runner engine.
type State int32

// Engine states. Running is the initial state; Stopped and ForceStopped are
// terminal.
const (
	StateRunning State = iota
	StateDraining
	StateStopped
	StateForceStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	case StateForceStopped:
		return "force_stopped"
	default:
		return "unknown"
	}
}

// Accepting reports whether new submissions may be scheduled in state s.
func (s State) Accepting() bool {
	return s == StateRunning
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateForceStopped
}
