package connection

// State is the push-channel lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}
