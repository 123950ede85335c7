package mailbox

import (
	"context"
	"sync"

	"github.com/mcoot/spinroom/internal/dependencies/clock"
	"github.com/mcoot/spinroom/internal/model"
)

// Memory is a process-local mailbox. Entries do not survive a restart.
type Memory struct {
	mu    sync.Mutex
	clock clock.Clock
	boxes map[model.UserID][]model.Notification
	last  map[model.UserID]int64
}

// NewMemory creates an empty in-memory mailbox
func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		clock: clk,
		boxes: make(map[model.UserID][]model.Notification),
		last:  make(map[model.UserID]int64),
	}
}

var _ Mailbox = (*Memory)(nil)

func (m *Memory) Enqueue(ctx context.Context, userID model.UserID, ev model.Event) (model.Notification, error) {
	env, err := model.NewEnvelope(ev)
	if err != nil {
		return model.Notification{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ts := clock.NowMillis(m.clock)
	if last := m.last[userID]; ts <= last {
		ts = last + 1
	}
	m.last[userID] = ts

	n := model.Notification{
		Type:      env.Type,
		Data:      env.Data,
		Timestamp: ts,
	}
	m.boxes[userID] = append(m.boxes[userID], n)
	return n, nil
}

func (m *Memory) DrainSince(ctx context.Context, userID model.UserID, since int64) ([]model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	box := m.boxes[userID]

	// Timestamps are increasing, so everything before the first newer entry
	// has been seen by the client
	cut := len(box)
	for i, n := range box {
		if n.Timestamp > since {
			cut = i
			break
		}
	}

	remaining := box[cut:]
	if len(remaining) == 0 {
		delete(m.boxes, userID)
		return []model.Notification{}, nil
	}

	kept := make([]model.Notification, len(remaining))
	copy(kept, remaining)
	m.boxes[userID] = kept

	out := make([]model.Notification, len(kept))
	copy(out, kept)
	return out, nil
}

// Len returns the number of entries held for a user
func (m *Memory) Len(userID model.UserID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.boxes[userID])
}
