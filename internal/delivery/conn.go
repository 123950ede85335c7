// Package delivery routes events to users over live connections, falling
// back to the mailbox when no connection can take them.
package delivery

import (
	"errors"
	"sync"

	"github.com/mcoot/spinroom/internal/model"
)

var (
	ErrNoRegistry   = errors.New("live registry not initialised")
	ErrNoConnection = errors.New("no live connection for user")
	ErrBufferFull   = errors.New("connection send buffer full")
	ErrConnClosed   = errors.New("connection closed")
)

// Conn is one live connection to a client, over any transport
type Conn interface {
	ID() string
	// Send queues an envelope without blocking
	Send(env model.Envelope) error
}

// Queue is a bounded outgoing buffer shared by the transports. The
// transport's write loop drains C until it is closed.
type Queue struct {
	mu     sync.Mutex
	ch     chan model.Envelope
	closed bool
}

// NewQueue creates a queue holding up to size envelopes
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan model.Envelope, size)}
}

// Push queues an envelope, failing rather than blocking when full
func (q *Queue) Push(env model.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrConnClosed
	}
	select {
	case q.ch <- env:
		return nil
	default:
		return ErrBufferFull
	}
}

// C returns the channel the write loop reads from
func (q *Queue) C() <-chan model.Envelope {
	return q.ch
}

// Close stops accepting envelopes. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
