package model

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the type of event
type EventType string

const (
	// Directed events
	EventUserInvited    EventType = "user-invited"
	EventUserJoinedRoom EventType = "user-joined-room"
	EventUserSpinReady  EventType = "user-spin-ready"
	EventSpinBothReady  EventType = "spin-both-ready"
	EventGameReset      EventType = "game-reset"
	EventUserLeftRoom   EventType = "user-left-room"

	// Broadcast events
	EventRoomCreated EventType = "room-created"

	// Room channel events
	EventRoomUpdated EventType = "room-updated"
)

// Event is implemented by every event payload
type Event interface {
	EventType() EventType
}

// Envelope is the wire frame for an event
type Envelope struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// NewEnvelope encodes an event into its wire frame
func NewEnvelope(ev Event) (Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}
	return Envelope{Type: ev.EventType(), Data: data}, nil
}

// DecodeEvent decodes an envelope into its typed payload
func DecodeEvent(env Envelope) (Event, error) {
	var ev Event
	switch env.Type {
	case EventUserInvited:
		ev = &UserInvitedPayload{}
	case EventUserJoinedRoom:
		ev = &UserJoinedRoomPayload{}
	case EventUserSpinReady:
		ev = &UserSpinReadyPayload{}
	case EventSpinBothReady:
		ev = &SpinBothReadyPayload{}
	case EventGameReset:
		ev = &GameResetPayload{}
	case EventUserLeftRoom:
		ev = &UserLeftRoomPayload{}
	case EventRoomCreated:
		ev = &RoomCreatedPayload{}
	case EventRoomUpdated:
		ev = &RoomUpdatedPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	if err := json.Unmarshal(env.Data, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return ev, nil
}

// RoomSnapshot is the full room state carried by events
type RoomSnapshot struct {
	RoomID               RoomID     `json:"roomId"`
	CreatorID            UserID     `json:"creatorId"`
	CreatorName          string     `json:"creatorName"`
	CreatorEmail         string     `json:"creatorEmail"`
	OppositeUserID       UserID     `json:"oppositeUserId,omitempty"`
	OppositeUserName     string     `json:"oppositeUserName,omitempty"`
	OppositeUserEmail    string     `json:"oppositeUserEmail,omitempty"`
	InvitedEmail         string     `json:"invitedEmail,omitempty"`
	CreatorStarted       bool       `json:"creatorStarted"`
	OppositeUserStarted  bool       `json:"oppositeUserStarted"`
	Winner               UserID     `json:"winner,omitempty"`
	FinalRotation        float64    `json:"finalRotation,omitempty"`
	SpinStartTime        int64      `json:"spinStartTime,omitempty"`
	Status               RoomStatus `json:"status"`
	EntryFee             int64      `json:"entryFee"`
	OppositeUserEntryFee int64      `json:"oppositeUserEntryFee,omitempty"`
	Settled              bool       `json:"settled"`
	Abandoned            bool       `json:"abandoned"`
	Round                int        `json:"round"`
	UpdatedAt            int64      `json:"updatedAt"`
}

// Snapshot captures the room as an event payload
func (r *Room) Snapshot() RoomSnapshot {
	s := RoomSnapshot{
		RoomID:               r.ID,
		CreatorID:            r.CreatorID,
		CreatorName:          r.CreatorName,
		CreatorEmail:         r.CreatorEmail,
		InvitedEmail:         r.InvitedEmail,
		CreatorStarted:       r.CreatorStarted,
		OppositeUserStarted:  r.OpponentStarted,
		Winner:               r.Winner,
		FinalRotation:        r.FinalRotation,
		SpinStartTime:        r.SpinStartTime,
		Status:               r.Status,
		EntryFee:             r.EntryFee,
		OppositeUserEntryFee: r.OpponentEntryFee,
		Settled:              r.Settled,
		Abandoned:            r.Abandoned,
		Round:                r.Round,
		UpdatedAt:            r.UpdatedAt.UnixMilli(),
	}
	if r.Opponent != nil {
		s.OppositeUserID = r.Opponent.UserID
		s.OppositeUserName = r.Opponent.Name
		s.OppositeUserEmail = r.Opponent.Email
	}
	return s
}

// UserInvitedPayload is sent to a user invited into a room
type UserInvitedPayload struct {
	RoomID      RoomID      `json:"roomId"`
	InvitedUser Participant `json:"invitedUser"`
	Creator     Participant `json:"creator"`
}

func (UserInvitedPayload) EventType() EventType { return EventUserInvited }

// UserJoinedRoomPayload is sent to both participants once they are paired
type UserJoinedRoomPayload struct {
	RoomID     RoomID       `json:"roomId"`
	JoinedUser Participant  `json:"joinedUser"`
	Room       RoomSnapshot `json:"room"`
	Timestamp  int64        `json:"timestamp"`
}

func (UserJoinedRoomPayload) EventType() EventType { return EventUserJoinedRoom }

// UserSpinReadyPayload tells a participant their opponent has started
type UserSpinReadyPayload struct {
	RoomID        RoomID       `json:"roomId"`
	ReadyUserID   UserID       `json:"readyUserId"`
	ReadyUserName string       `json:"readyUserName"`
	Room          RoomSnapshot `json:"room"`
	SpinStartTime int64        `json:"spinStartTime"`
}

func (UserSpinReadyPayload) EventType() EventType { return EventUserSpinReady }

// SpinBothReadyPayload carries the resolved outcome. Both participants
// receive the same value.
type SpinBothReadyPayload struct {
	RoomID        RoomID  `json:"roomId"`
	Winner        UserID  `json:"winner"`
	WinnerName    string  `json:"winnerName"`
	FinalRotation float64 `json:"finalRotation"`
	SpinStartTime int64   `json:"spinStartTime"`
	Timestamp     int64   `json:"timestamp"`
}

func (SpinBothReadyPayload) EventType() EventType { return EventSpinBothReady }

// GameResetPayload is sent to both participants when a round is reset
type GameResetPayload struct {
	RoomID RoomID       `json:"roomId"`
	Room   RoomSnapshot `json:"room"`
}

func (GameResetPayload) EventType() EventType { return EventGameReset }

// UserLeftRoomPayload tells the remaining participant the room was abandoned
type UserLeftRoomPayload struct {
	RoomID RoomID       `json:"roomId"`
	UserID UserID       `json:"userId"`
	Room   RoomSnapshot `json:"room"`
}

func (UserLeftRoomPayload) EventType() EventType { return EventUserLeftRoom }

// RoomCreatedPayload is broadcast so idle clients can discover rooms
type RoomCreatedPayload struct {
	RoomID       RoomID     `json:"roomId"`
	CreatorID    UserID     `json:"creatorId"`
	CreatorName  string     `json:"creatorName"`
	CreatorEmail string     `json:"creatorEmail"`
	Status       RoomStatus `json:"status"`
	Timestamp    int64      `json:"timestamp"`
}

func (RoomCreatedPayload) EventType() EventType { return EventRoomCreated }

// RoomUpdatedPayload is published on the room channel after every change
type RoomUpdatedPayload struct {
	RoomID RoomID       `json:"roomId"`
	Room   RoomSnapshot `json:"room"`
}

func (RoomUpdatedPayload) EventType() EventType { return EventRoomUpdated }
