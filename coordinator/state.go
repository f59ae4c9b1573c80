package coordinator

// State is the state of the coordinator for the current call.
type State int

// Below are the states. Ending and Ended are reachable from every other
// state; nothing leaves Ended within one call.
const (
	Idle State = iota
	Initiating
	Waiting
	Connecting
	Connected
	Ending
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initiating:
		return "initiating"
	case Waiting:
		return "waiting"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Ending:
		return "ending"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Active returns whether a call holds the coordinator in this state.
func (s State) Active() bool {
	return s != Idle && s != Ended
}
