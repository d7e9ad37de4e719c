package chat

// ConnState is the connection lifecycle of an agent. Transitions only
// move forward through the handshake; any I/O error resets to
// StateDisconnected and the worker retries after a fixed delay.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateRegistered
	StateJoined
	StateActive
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	}
	return "unknown"
}
