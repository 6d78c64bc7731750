package session

// State is the connection state of a Session.
type State int32

const (
	// StateDisconnected means no socket and no pending reconnect
	StateDisconnected State = iota
	// StateConnecting means a dial is in progress
	StateConnecting
	// StateConnected means the socket is open and USER_HELLO was sent
	StateConnected
	// StateReconnectPending means the socket closed and a dial is scheduled
	StateReconnectPending
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectPending:
		return "reconnect_pending"
	default:
		return "unknown"
	}
}
