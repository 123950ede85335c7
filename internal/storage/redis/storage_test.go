package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/spinroom/internal/model"
	"github.com/mcoot/spinroom/internal/storage"
)

type StorageSuite struct {
	suite.Suite
	mini    *miniredis.Miniredis
	storage *Storage
	ctx     context.Context
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())

	client := redis.NewClient(&redis.Options{
		Addr: s.mini.Addr(),
	})

	cfg := DefaultConfig()
	cfg.RoomTTL = time.Hour

	s.storage = NewWithClient(client, cfg)
	s.ctx = context.Background()
}

func (s *StorageSuite) TearDownTest() {
	if s.storage != nil {
		_ = s.storage.Close()
	}
	if s.mini != nil {
		s.mini.Close()
	}
}

func (s *StorageSuite) newRoom(id model.RoomID) *model.Room {
	return &model.Room{
		ID:          id,
		CreatorID:   "user-1",
		CreatorName: "Alice",
		Status:      model.RoomStatusWaiting,
		EntryFee:    model.DefaultEntryFee,
	}
}

// User tests

func (s *StorageSuite) TestCreateAndGetUser() {
	user := &model.User{ID: "user-1", Email: "Alice@Example.com", Name: "Alice", Credits: 5000}

	err := s.storage.CreateUser(s.ctx, user)
	s.Require().NoError(err)

	retrieved, err := s.storage.GetUser(s.ctx, "user-1")
	s.Require().NoError(err)
	s.Equal("alice@example.com", retrieved.Email)
	s.Equal(int64(5000), retrieved.Credits)
}

func (s *StorageSuite) TestGetUserNotFound() {
	_, err := s.storage.GetUser(s.ctx, "nonexistent")
	s.ErrorIs(err, model.ErrUserNotFound)
}

func (s *StorageSuite) TestGetUserByEmail() {
	_ = s.storage.CreateUser(s.ctx, &model.User{ID: "user-1", Email: "alice@example.com"})

	retrieved, err := s.storage.GetUserByEmail(s.ctx, "ALICE@EXAMPLE.COM")
	s.Require().NoError(err)
	s.Equal(model.UserID("user-1"), retrieved.ID)

	_, err = s.storage.GetUserByEmail(s.ctx, "bob@example.com")
	s.ErrorIs(err, model.ErrUserNotFound)
}

func (s *StorageSuite) TestCreateUserDuplicateEmail() {
	_ = s.storage.CreateUser(s.ctx, &model.User{ID: "user-1", Email: "alice@example.com"})

	err := s.storage.CreateUser(s.ctx, &model.User{ID: "user-2", Email: "alice@example.com"})
	s.ErrorIs(err, model.ErrEmailTaken)
}

func (s *StorageSuite) TestUpdateUserKeepsIdentity() {
	_ = s.storage.CreateUser(s.ctx, &model.User{ID: "user-1", Email: "alice@example.com", Credits: 100})

	updated, err := s.storage.UpdateUser(s.ctx, "user-1", func(u *model.User) error {
		u.Credits += 200
		u.Email = "mallory@example.com"
		return nil
	})
	s.Require().NoError(err)
	s.Equal(int64(300), updated.Credits)
	s.Equal("alice@example.com", updated.Email)
}

func (s *StorageSuite) TestUpdateUserNotFound() {
	_, err := s.storage.UpdateUser(s.ctx, "nonexistent", func(u *model.User) error { return nil })
	s.ErrorIs(err, model.ErrUserNotFound)
}

// Room tests

func (s *StorageSuite) TestCreateAndGetRoom() {
	err := s.storage.CreateRoom(s.ctx, s.newRoom("room-1"))
	s.Require().NoError(err)

	retrieved, err := s.storage.GetRoom(s.ctx, "room-1")
	s.Require().NoError(err)
	s.Equal("Alice", retrieved.CreatorName)
}

func (s *StorageSuite) TestCreateRoomSetsTTL() {
	_ = s.storage.CreateRoom(s.ctx, s.newRoom("room-1"))

	ttl := s.mini.TTL(roomKey("room-1"))
	s.Equal(time.Hour, ttl)
}

func (s *StorageSuite) TestCreateRoomDuplicate() {
	_ = s.storage.CreateRoom(s.ctx, s.newRoom("room-1"))

	err := s.storage.CreateRoom(s.ctx, s.newRoom("room-1"))
	s.ErrorIs(err, model.ErrConflict)
}

func (s *StorageSuite) TestGetRoomNotFound() {
	_, err := s.storage.GetRoom(s.ctx, "nonexistent")
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *StorageSuite) TestRoomExists() {
	_ = s.storage.CreateRoom(s.ctx, s.newRoom("room-1"))

	exists, err := s.storage.RoomExists(s.ctx, "room-1")
	s.Require().NoError(err)
	s.True(exists)

	exists, err = s.storage.RoomExists(s.ctx, "room-2")
	s.Require().NoError(err)
	s.False(exists)
}

func (s *StorageSuite) TestListRoomsSkipsExpired() {
	_ = s.storage.CreateRoom(s.ctx, s.newRoom("room-1"))
	_ = s.storage.CreateRoom(s.ctx, s.newRoom("room-2"))

	s.mini.FastForward(2 * time.Hour)
	_ = s.storage.CreateRoom(s.ctx, s.newRoom("room-3"))

	rooms, err := s.storage.ListRooms(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(rooms, 1)
	s.Equal(model.RoomID("room-3"), rooms[0].ID)

	members, _ := s.mini.Members(roomsIndexKey())
	s.Equal([]string{"room-3"}, members)
}

func (s *StorageSuite) TestListRoomsEmpty() {
	rooms, err := s.storage.ListRooms(s.ctx)
	s.Require().NoError(err)
	s.Empty(rooms)
}

func (s *StorageSuite) TestUpdateRoom() {
	_ = s.storage.CreateRoom(s.ctx, s.newRoom("room-1"))

	updated, err := s.storage.UpdateRoom(s.ctx, "room-1", func(r *model.Room) error {
		r.Status = model.RoomStatusReady
		r.Opponent = &model.Participant{UserID: "user-2", Name: "Bob"}
		return nil
	})
	s.Require().NoError(err)
	s.Equal(int64(1), updated.Version)

	retrieved, _ := s.storage.GetRoom(s.ctx, "room-1")
	s.Equal(model.RoomStatusReady, retrieved.Status)
	s.Require().NotNil(retrieved.Opponent)
	s.Equal(model.UserID("user-2"), retrieved.Opponent.UserID)
}

func (s *StorageSuite) TestUpdateRoomErrorLeavesRoomUntouched() {
	_ = s.storage.CreateRoom(s.ctx, s.newRoom("room-1"))
	boom := errors.New("boom")

	_, err := s.storage.UpdateRoom(s.ctx, "room-1", func(r *model.Room) error {
		r.Status = model.RoomStatusCompleted
		return boom
	})
	s.ErrorIs(err, boom)

	retrieved, _ := s.storage.GetRoom(s.ctx, "room-1")
	s.Equal(model.RoomStatusWaiting, retrieved.Status)
}

func (s *StorageSuite) TestUpdateRoomSkip() {
	_ = s.storage.CreateRoom(s.ctx, s.newRoom("room-1"))

	updated, err := s.storage.UpdateRoom(s.ctx, "room-1", func(r *model.Room) error {
		r.Status = model.RoomStatusCompleted
		return storage.ErrSkipUpdate
	})
	s.Require().NoError(err)
	s.Equal(model.RoomStatusWaiting, updated.Status)
	s.Equal(int64(0), updated.Version)
}

func (s *StorageSuite) TestUpdateRoomNotFound() {
	_, err := s.storage.UpdateRoom(s.ctx, "nonexistent", func(r *model.Room) error { return nil })
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *StorageSuite) TestConcurrentUpdatesNeverLoseWrites() {
	_ = s.storage.CreateRoom(s.ctx, s.newRoom("room-1"))

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.storage.UpdateRoom(s.ctx, "room-1", func(r *model.Room) error {
				r.Round++
				return nil
			})
			if err == nil {
				succeeded.Add(1)
			} else {
				s.ErrorIs(err, model.ErrConflict)
			}
		}()
	}
	wg.Wait()

	retrieved, err := s.storage.GetRoom(s.ctx, "room-1")
	s.Require().NoError(err)
	s.Positive(succeeded.Load())
	s.Equal(int(succeeded.Load()), retrieved.Round)
	s.Equal(succeeded.Load(), retrieved.Version)
}

func (s *StorageSuite) TestUserLedgerRoundTrips() {
	_ = s.storage.CreateUser(s.ctx, &model.User{ID: "user-1", Email: "alice@example.com", Credits: 100})
	_, err := s.storage.UpdateUser(s.ctx, "user-1", func(u *model.User) error {
		u.Apply("room-1#0", -40)
		return nil
	})
	s.Require().NoError(err)

	retrieved, err := s.storage.GetUser(s.ctx, "user-1")
	s.Require().NoError(err)
	s.Equal(int64(60), retrieved.Credits)
	delta, ok := retrieved.Applied("room-1#0")
	s.True(ok)
	s.Equal(int64(-40), delta)
}

// Token revocation tests

func (s *StorageSuite) TestRevokeToken() {
	expires := time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC)

	revoked, err := s.storage.IsTokenRevoked(s.ctx, "jti-1")
	s.Require().NoError(err)
	s.False(revoked)

	s.Require().NoError(s.storage.RevokeToken(s.ctx, "jti-1", expires))

	revoked, err = s.storage.IsTokenRevoked(s.ctx, "jti-1")
	s.Require().NoError(err)
	s.True(revoked)
}

func (s *StorageSuite) TestPruneRevokedTokensDropsExpiredOnly() {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.Require().NoError(s.storage.RevokeToken(s.ctx, "old", base.Add(time.Minute)))
	s.Require().NoError(s.storage.RevokeToken(s.ctx, "new", base.Add(time.Hour)))

	pruned, err := s.storage.PruneRevokedTokens(s.ctx, base.Add(30*time.Minute))
	s.Require().NoError(err)
	s.Equal(1, pruned)

	old, _ := s.storage.IsTokenRevoked(s.ctx, "old")
	s.False(old)
	fresh, _ := s.storage.IsTokenRevoked(s.ctx, "new")
	s.True(fresh)
}
