// Package session keeps a client attached to the server: a websocket live
// channel with automatic reconnect and a mailbox poller, both feeding one
// event dispatch path.
package session

// State is the live connection's lifecycle state
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateIdentified
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateIdentified:
		return "identified"
	}
	return "unknown"
}
