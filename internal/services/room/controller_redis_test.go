package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/spinroom/internal/dependencies/mocks"
	"github.com/mcoot/spinroom/internal/model"
	redisstorage "github.com/mcoot/spinroom/internal/storage/redis"
	"github.com/mcoot/spinroom/internal/testutil"
)

// RedisControllerSuite runs the racing paths over Redis, where updates go
// through WATCH/MULTI and retry instead of sharing a process lock
type RedisControllerSuite struct {
	suite.Suite
	storage    *redisstorage.Storage
	random     *mocks.MockRandom
	controller *Controller
	ctx        context.Context

	alice *model.User
	bob   *model.User
}

func TestRedisControllerSuite(t *testing.T) {
	suite.Run(t, new(RedisControllerSuite))
}

func (s *RedisControllerSuite) SetupTest() {
	mini := miniredis.RunT(s.T())
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	s.storage = redisstorage.NewWithClient(client, redisstorage.DefaultConfig())

	clk := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.random = mocks.NewMockRandom()
	s.controller = NewController(s.storage, mocks.NewRecordingNotifier(), clk, s.random, testutil.NopLogger())
	s.ctx = context.Background()

	s.alice = s.createUser("u-alice", "alice@example.com", "Alice")
	s.bob = s.createUser("u-bob", "bob@example.com", "Bob")
}

func (s *RedisControllerSuite) TearDownTest() {
	_ = s.storage.Close()
}

func (s *RedisControllerSuite) createUser(id, email, name string) *model.User {
	u := &model.User{
		ID:      model.UserID(id),
		Email:   email,
		Name:    name,
		Credits: model.DefaultCredits,
	}
	s.Require().NoError(s.storage.CreateUser(s.ctx, u))
	return u
}

func (s *RedisControllerSuite) credits(u *model.User) int64 {
	current, err := s.storage.GetUser(s.ctx, u.ID)
	s.Require().NoError(err)
	return current.Credits
}

func (s *RedisControllerSuite) TestConcurrentRoundsResolveAndSettleOnce() {
	s.random.QueueString("redis0001")
	room, err := s.controller.CreateRoom(s.ctx, s.alice, 0)
	s.Require().NoError(err)
	_, err = s.controller.InviteByUserID(s.ctx, s.alice, room.ID, s.bob.ID)
	s.Require().NoError(err)

	const rounds = 20
	for round := 1; round <= rounds; round++ {
		// Every draw favours the creator, however often a mutation reruns
		for range 16 {
			s.random.QueueFloat64(0.9)
		}

		results := make([]*model.SpinResolution, 2)
		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i, user := range []*model.User{s.alice, s.bob} {
			wg.Add(1)
			go func(i int, user *model.User) {
				defer wg.Done()
				_, results[i], errs[i] = s.controller.MarkReady(s.ctx, user, room.ID)
			}(i, user)
		}
		wg.Wait()

		s.Require().NoError(errs[0], "round %d", round)
		s.Require().NoError(errs[1], "round %d", round)
		resolved := 0
		for _, r := range results {
			if r != nil {
				resolved++
			}
		}
		s.Require().Equal(1, resolved, "round %d", round)

		settlements := make([]*Settlement, 2)
		for i, user := range []*model.User{s.alice, s.bob} {
			wg.Add(1)
			go func(i int, user *model.User) {
				defer wg.Done()
				_, settlements[i], errs[i] = s.controller.Settle(s.ctx, user, room.ID)
			}(i, user)
		}
		wg.Wait()

		s.Require().NoError(errs[0], "round %d", round)
		s.Require().NoError(errs[1], "round %d", round)
		s.NotEqual(settlements[0].AlreadySettled, settlements[1].AlreadySettled,
			"round %d settled by exactly one caller", round)
		s.Equal(model.DefaultCredits+int64(round)*100, s.credits(s.alice))
		s.Equal(model.DefaultCredits-int64(round)*100, s.credits(s.bob))

		_, err = s.controller.ResetRound(s.ctx, s.alice, room.ID)
		s.Require().NoError(err)
	}
}
