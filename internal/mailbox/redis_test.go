package mailbox

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/spinroom/internal/dependencies/mocks"
	"github.com/mcoot/spinroom/internal/model"
)

type RedisSuite struct {
	suite.Suite
	mini    *miniredis.Miniredis
	client  *redis.Client
	clock   *mocks.MockClock
	mailbox *Redis
	ctx     context.Context
}

func TestRedisSuite(t *testing.T) {
	suite.Run(t, new(RedisSuite))
}

func (s *RedisSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{
		Addr: s.mini.Addr(),
	})
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.mailbox = NewRedis(s.client, s.clock, DefaultRedisConfig())
	s.ctx = context.Background()
}

func (s *RedisSuite) TearDownTest() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.mini != nil {
		s.mini.Close()
	}
}

func (s *RedisSuite) TestEnqueueThenDrainFromZero() {
	n, err := s.mailbox.Enqueue(s.ctx, "user-1", resetEvent("room-1"))
	s.Require().NoError(err)
	s.Equal(s.clock.Now().UnixMilli(), n.Timestamp)

	notes, err := s.mailbox.DrainSince(s.ctx, "user-1", 0)
	s.Require().NoError(err)
	s.Require().Len(notes, 1)
	s.Equal(model.EventGameReset, notes[0].Type)
	s.Equal(n.Timestamp, notes[0].Timestamp)
	ev, err := model.DecodeEvent(notes[0].Envelope())
	s.Require().NoError(err)
	s.Equal(model.RoomID("room-1"), ev.(*model.GameResetPayload).RoomID)
}

func (s *RedisSuite) TestDrainPastReturnedTimestampIsEmpty() {
	_, _ = s.mailbox.Enqueue(s.ctx, "user-1", resetEvent("room-1"))

	first, _ := s.mailbox.DrainSince(s.ctx, "user-1", 0)
	s.Require().Len(first, 1)

	second, err := s.mailbox.DrainSince(s.ctx, "user-1", first[0].Timestamp)
	s.Require().NoError(err)
	s.Empty(second)
}

func (s *RedisSuite) TestIdenticalPayloadsAreKeptSeparately() {
	a, _ := s.mailbox.Enqueue(s.ctx, "user-1", resetEvent("room-1"))
	b, _ := s.mailbox.Enqueue(s.ctx, "user-1", resetEvent("room-1"))

	s.Equal(a.Timestamp+1, b.Timestamp)

	notes, _ := s.mailbox.DrainSince(s.ctx, "user-1", 0)
	s.Len(notes, 2)
}

func (s *RedisSuite) TestDrainKeepsNewerEntries() {
	a, _ := s.mailbox.Enqueue(s.ctx, "user-1", resetEvent("room-a"))
	s.clock.Advance(time.Second)
	b, _ := s.mailbox.Enqueue(s.ctx, "user-1", resetEvent("room-b"))

	notes, err := s.mailbox.DrainSince(s.ctx, "user-1", a.Timestamp)
	s.Require().NoError(err)
	s.Require().Len(notes, 1)
	s.Equal(b.Timestamp, notes[0].Timestamp)

	count, _ := s.client.ZCard(s.ctx, mailboxKey("user-1")).Result()
	s.Equal(int64(1), count)
}

func (s *RedisSuite) TestMailboxExpires() {
	_, _ = s.mailbox.Enqueue(s.ctx, "user-1", resetEvent("room-1"))

	s.Equal(time.Hour, s.mini.TTL(mailboxKey("user-1")))

	s.mini.FastForward(2 * time.Hour)
	notes, err := s.mailbox.DrainSince(s.ctx, "user-1", 0)
	s.Require().NoError(err)
	s.Empty(notes)
}
