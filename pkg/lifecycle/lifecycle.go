// Package lifecycle defines the recording session states and the legal
// transitions between them.
package lifecycle

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of a recording session.
type State string

// Session states.
const (
	Idle       State = "IDLE"
	Recording  State = "RECORDING"
	Paused     State = "PAUSED"
	Processing State = "PROCESSING"
	Stopped    State = "STOPPED"
)

// Transition names a lifecycle operation.
type Transition string

// Lifecycle operations. Finish is the automatic PROCESSING to STOPPED step.
const (
	Start  Transition = "start"
	Pause  Transition = "pause"
	Resume Transition = "resume"
	Stop   Transition = "stop"
	Finish Transition = "finish"
)

// ErrInvalidState indicates an operation was attempted from a state that does not allow it.
var ErrInvalidState = errors.New("invalid lifecycle transition")

// InvalidStateError names the rejected transition and the state it was attempted from.
type InvalidStateError struct {
	Transition Transition
	State      State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s session in state %s", e.Transition, e.State)
}

// Is reports whether target is ErrInvalidState.
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

var table = map[State]map[Transition]State{
	Idle:       {Start: Recording},
	Recording:  {Pause: Paused, Stop: Processing},
	Paused:     {Resume: Recording, Stop: Processing},
	Processing: {Finish: Stopped},
	Stopped:    {},
}

// Next returns the state reached by applying t to s.
func Next(s State, t Transition) (State, error) {
	if next, ok := table[s][t]; ok {
		return next, nil
	}
	return s, &InvalidStateError{Transition: t, State: s}
}

// Active reports whether a session in state s blocks another session from starting.
func Active(s State) bool {
	switch s {
	case Recording, Paused, Processing:
		return true
	default:
		return false
	}
}

// Accepting reports whether events observed in state s may become steps.
func (s State) Accepting() bool {
	return s == Recording
}

// Transitions lists every lifecycle operation.
func Transitions() []Transition {
	return []Transition{Start, Pause, Resume, Stop, Finish}
}
