package chat

// State of a connection served by the Router
type State int32

const (
	StateConnecting State = iota
	StateHandshakeOK
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateHandshakeOK:
		return "HANDSHAKE_OK"
	case StateStreaming:
		return "STREAMING"
	case StateClosed:
		return "CLOSED"
	default:
		return "INVALID"
	}
}
