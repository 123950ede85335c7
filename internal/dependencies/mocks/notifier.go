package mocks

import (
	"context"
	"sync"

	"github.com/mcoot/spinroom/internal/model"
)

// UserEvent is an event recorded for a single user
type UserEvent struct {
	UserID model.UserID
	Event  model.Event
}

// RoomEvent is an event recorded for a room channel
type RoomEvent struct {
	RoomID model.RoomID
	Event  model.Event
}

// RecordingNotifier records every event handed to it. Safe for concurrent
// use.
type RecordingNotifier struct {
	mu         sync.Mutex
	userEvents []UserEvent
	roomEvents []RoomEvent
	broadcasts []model.Event
}

// NewRecordingNotifier creates a new RecordingNotifier
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (n *RecordingNotifier) NotifyUser(_ context.Context, userID model.UserID, ev model.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.userEvents = append(n.userEvents, UserEvent{UserID: userID, Event: ev})
}

func (n *RecordingNotifier) NotifyRoom(_ context.Context, roomID model.RoomID, ev model.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.roomEvents = append(n.roomEvents, RoomEvent{RoomID: roomID, Event: ev})
}

func (n *RecordingNotifier) Broadcast(_ context.Context, ev model.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, ev)
}

// ForUser returns the events sent to a user, optionally filtered by type
func (n *RecordingNotifier) ForUser(userID model.UserID, types ...model.EventType) []model.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.Event
	for _, ue := range n.userEvents {
		if ue.UserID == userID && matchesType(ue.Event, types) {
			out = append(out, ue.Event)
		}
	}
	return out
}

// ForRoom returns the events published to a room channel
func (n *RecordingNotifier) ForRoom(roomID model.RoomID) []model.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.Event
	for _, re := range n.roomEvents {
		if re.RoomID == roomID {
			out = append(out, re.Event)
		}
	}
	return out
}

// Broadcasts returns every broadcast event
func (n *RecordingNotifier) Broadcasts() []model.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.Event(nil), n.broadcasts...)
}

// Reset clears all recorded events
func (n *RecordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.userEvents = nil
	n.roomEvents = nil
	n.broadcasts = nil
}

func matchesType(ev model.Event, types []model.EventType) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if ev.EventType() == t {
			return true
		}
	}
	return false
}
