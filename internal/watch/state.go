package watch

import "fmt"

// State is the pipeline state. Exactly one value is in effect at a time.
type State int

const (
	// StateIdle allows a run once changes are pending and the debounce window has passed.
	StateIdle State = iota
	// StateRunning means a pipeline run is in flight.
	StateRunning
	// StateAwaitingChange means the last run failed; only a new change re-arms the pipeline.
	StateAwaitingChange
	// StateStopped is terminal.
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateAwaitingChange:
		return "awaiting_change_after_failure"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
