package system

import "fmt"

// SystemState is the lifecycle phase reported by the status endpoint.
type SystemState int

const (
	StateInitializing SystemState = iota
	StateRunning
	StateStopping
	StateStopped
	StateError
)

var stateNames = map[SystemState]string{
	StateInitializing: "INITIALIZING",
	StateRunning:      "RUNNING",
	StateStopping:     "STOPPING",
	StateStopped:      "STOPPED",
	StateError:        "ERROR",
}

// Erlaubte Übergänge
var transitions = map[SystemState][]SystemState{
	StateInitializing: {StateRunning, StateStopping, StateError},
	StateRunning:      {StateStopping, StateError},
	StateStopping:     {StateStopped, StateError},
	StateStopped:      {},
	StateError:        {StateStopping, StateStopped},
}

func (s SystemState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition is possible.
func (s SystemState) Terminal() bool {
	allowed, ok := transitions[s]
	return ok && len(allowed) == 0
}

func ValidateTransition(from, to SystemState) error {
	allowed, ok := transitions[from]
	if !ok {
		return fmt.Errorf("invalid current state: %s", from)
	}
	for _, next := range allowed {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("invalid state transition: %s -> %s", from, to)
}
