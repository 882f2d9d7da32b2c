package recorder

import "time"

type State string

const (
	Idle      State = "idle"
	Recording State = "recording"
	Paused    State = "paused"
	Stopping  State = "stopping"
	Completed State = "completed"
	Failed    State = "failed"
)

// Active reports whether a session in this state still owns the encoder slot.
func (s State) Active() bool {
	return s == Recording || s == Paused || s == Stopping
}

var transitions = map[State][]State{
	Idle:      {Recording, Stopping},
	Recording: {Paused, Stopping, Failed},
	Paused:    {Recording, Stopping},
	Stopping:  {Completed, Failed},
	Failed:    {Stopping},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is delivered to listeners after every state change.
type Transition struct {
	SessionID string
	From      State
	To        State
	At        time.Time
	Err       error
}

// Listener observes transitions. It runs synchronously, outside the
// controller's locks, and must not call Start, Pause, Resume or Stop.
type Listener func(Transition)
