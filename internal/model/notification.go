package model

import "encoding/json"

// Notification is an event parked in a user's mailbox
type Notification struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // unix ms, strictly increasing per user
}

// Envelope converts the notification into the live wire frame
func (n Notification) Envelope() Envelope {
	return Envelope{
		Type:      n.Type,
		Data:      n.Data,
		Timestamp: n.Timestamp,
	}
}
