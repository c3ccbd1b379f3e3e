// Package fsm is the recognition session state machine.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateListening State = "listening"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateAborted   State = "aborted"
)

const (
	EventStart   Event = "start"
	EventStarted Event = "started"
	EventResult  Event = "result"
	EventError   Event = "error"
	EventEnd     Event = "end"
	EventReset   Event = "reset"
)

// Terminal reports whether s waits only for cleanup.
func Terminal(s State) bool {
	switch s {
	case StateCompleted, StateFailed, StateAborted:
		return true
	default:
		return false
	}
}

func Transition(current State, event Event) (State, error) {
	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateStarting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStarting:
		switch event {
		case EventStarted:
			return StateListening, nil
		case EventError:
			return StateFailed, nil
		case EventEnd:
			return StateAborted, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateListening:
		switch event {
		case EventResult:
			return StateCompleted, nil
		case EventError:
			return StateFailed, nil
		case EventEnd:
			return StateAborted, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateCompleted, StateFailed, StateAborted:
		switch event {
		case EventEnd:
			return current, nil
		case EventReset:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
