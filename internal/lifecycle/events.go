package lifecycle

import "fmt"

// Event is a control request delivered to the Controller.
type Event int

const (
	EventTerminate Event = iota + 1
	EventInterrupt
	EventReload
	EventChildExited
)

func (e Event) String() string {
	switch e {
	case EventTerminate:
		return "terminate"
	case EventInterrupt:
		return "interrupt"
	case EventReload:
		return "reload"
	case EventChildExited:
		return "child_exited"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// State is the controller's lifecycle phase.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateTerminating
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}
