package model

import "encoding/json"

// Control frame types exchanged on a live connection. They share the
// Envelope wire shape with events but are never stored in a mailbox.
const (
	// Client to server
	ControlUserJoin  EventType = "user-join"
	ControlJoinRoom  EventType = "join-room"
	ControlLeaveRoom EventType = "leave-room"
	ControlPing      EventType = "ping"

	// Server to client
	ControlJoinedUserRoom EventType = "joined-user-room"
	ControlPong           EventType = "pong"
	ControlError          EventType = "error"
	ControlConnected      EventType = "connected"
)

// UserJoinData identifies a connection as a user
type UserJoinData struct {
	UserID UserID `json:"userId"`
}

// RoomChannelData names a room channel to join or leave
type RoomChannelData struct {
	RoomID RoomID `json:"roomId"`
}

// JoinedUserRoomData acknowledges a user-join
type JoinedUserRoomData struct {
	UserID   UserID `json:"userId"`
	SocketID string `json:"socketId"`
}

// ErrorData reports a rejected control frame
type ErrorData struct {
	Message string `json:"message"`
}

// NewControl builds a control frame. A nil data produces a frame with no body.
func NewControl(t EventType, data any) Envelope {
	env := Envelope{Type: t}
	if data != nil {
		// Control payloads are plain structs and always encode
		env.Data, _ = json.Marshal(data)
	}
	return env
}

// IsControl reports whether the frame is a control frame rather than an event
func (e Envelope) IsControl() bool {
	switch e.Type {
	case ControlUserJoin, ControlJoinRoom, ControlLeaveRoom, ControlPing,
		ControlJoinedUserRoom, ControlPong, ControlError, ControlConnected:
		return true
	}
	return false
}
