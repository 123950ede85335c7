// Package mailbox holds events for users who could not be reached on a live
// channel until they poll for them.
package mailbox

import (
	"context"

	"github.com/mcoot/spinroom/internal/model"
)

// Mailbox is a per-user store-and-forward queue
type Mailbox interface {
	// Enqueue appends an event for the user. Timestamps are strictly
	// increasing per user.
	Enqueue(ctx context.Context, userID model.UserID, ev model.Event) (model.Notification, error)

	// DrainSince returns entries newer than since, in insertion order, and
	// prunes entries at or before since.
	DrainSince(ctx context.Context, userID model.UserID, since int64) ([]model.Notification, error)
}

// Cursor returns the timestamp a client should poll from after receiving
// notes. It is since itself when notes is empty.
func Cursor(notes []model.Notification, since int64) int64 {
	cursor := since
	for _, n := range notes {
		if n.Timestamp > cursor {
			cursor = n.Timestamp
		}
	}
	return cursor
}
