package session

// State is the lifecycle state of a Session's backend connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
	Failed
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
	case Failed:
		return "failed"
	}
	return "unknown"
}
