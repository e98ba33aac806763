// Package fsm defines the routing engine lifecycle states.
package fsm

import "fmt"

type State string

type Event string

const (
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateFailed   State = "failed"
)

const (
	EventStart   Event = "start"
	EventFail    Event = "fail"
	EventRestart Event = "restart"
	EventDrained Event = "drained"
	EventClose   Event = "close"
)

func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		return StateFailed, nil
	}

	switch current {
	case StateStopped:
		switch event {
		case EventStart:
			return StateRunning, nil
		case EventRestart:
			return StateDraining, nil
		case EventClose:
			return StateStopped, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRunning:
		switch event {
		case EventRestart:
			return StateDraining, nil
		case EventClose:
			return StateStopped, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateDraining:
		switch event {
		case EventDrained, EventClose:
			return StateStopped, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateFailed:
		switch event {
		case EventStart:
			return StateRunning, nil
		case EventRestart:
			return StateDraining, nil
		case EventClose:
			return StateStopped, nil
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
