package delivery

import (
	"sync"

	"github.com/mcoot/spinroom/internal/model"
)

type fakeConn struct {
	id string

	mu   sync.Mutex
	got  []model.Envelope
	fail error
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(env model.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.got = append(c.got, env)
	return nil
}

func (c *fakeConn) received() []model.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Envelope, len(c.got))
	copy(out, c.got)
	return out
}

func (c *fakeConn) setFail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}
