package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/spinroom/internal/dependencies/mocks"
	"github.com/mcoot/spinroom/internal/model"
	"github.com/mcoot/spinroom/internal/storage"
	"github.com/mcoot/spinroom/internal/storage/memory"
	"github.com/mcoot/spinroom/internal/testutil"
)

type ControllerSuite struct {
	suite.Suite
	storage    *memory.Storage
	notifier   *mocks.RecordingNotifier
	clock      *mocks.MockClock
	random     *mocks.MockRandom
	controller *Controller
	ctx        context.Context

	alice *model.User
	bob   *model.User
	carol *model.User
	rooms int
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) SetupTest() {
	s.storage = memory.New()
	s.notifier = mocks.NewRecordingNotifier()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.random = mocks.NewMockRandom()
	s.controller = NewController(s.storage, s.notifier, s.clock, s.random, testutil.NopLogger())
	s.ctx = context.Background()
	s.rooms = 0

	s.alice = s.createUser("u-alice", "alice@example.com", "Alice")
	s.bob = s.createUser("u-bob", "bob@example.com", "Bob")
	s.carol = s.createUser("u-carol", "carol@example.com", "Carol")
}

func (s *ControllerSuite) createUser(id, email, name string) *model.User {
	u := &model.User{
		ID:        model.UserID(id),
		Email:     email,
		Name:      name,
		Credits:   model.DefaultCredits,
		CreatedAt: s.clock.Now(),
	}
	s.Require().NoError(s.storage.CreateUser(s.ctx, u))
	return u
}

func (s *ControllerSuite) setCredits(u *model.User, credits int64) *model.User {
	updated, err := s.storage.UpdateUser(s.ctx, u.ID, func(u *model.User) error {
		u.Credits = credits
		return nil
	})
	s.Require().NoError(err)
	return updated
}

func (s *ControllerSuite) credits(u *model.User) int64 {
	current, err := s.storage.GetUser(s.ctx, u.ID)
	s.Require().NoError(err)
	return current.Credits
}

func (s *ControllerSuite) createRoom(creator *model.User) *model.Room {
	s.rooms++
	s.random.QueueString(fmt.Sprintf("room%05d", s.rooms))
	room, err := s.controller.CreateRoom(s.ctx, creator, 0)
	s.Require().NoError(err)
	return room
}

func (s *ControllerSuite) pairedRoom() *model.Room {
	room := s.createRoom(s.alice)
	room, err := s.controller.InviteByUserID(s.ctx, s.alice, room.ID, s.bob.ID)
	s.Require().NoError(err)
	s.notifier.Reset()
	return room
}

func (s *ControllerSuite) completedRoom(u float64) *model.Room {
	room := s.pairedRoom()
	s.random.QueueFloat64(u, 0.5)
	_, _, err := s.controller.MarkReady(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)
	room, res, err := s.controller.MarkReady(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)
	s.Require().NotNil(res)
	s.notifier.Reset()
	return room
}

// CreateRoom tests

func (s *ControllerSuite) TestCreateRoomSucceeds() {
	s.random.QueueString("abc123xyz")

	room, err := s.controller.CreateRoom(s.ctx, s.alice, 0)
	s.Require().NoError(err)

	s.Equal(model.RoomID("ROOM_1704110400000_abc123xyz"), room.ID)
	s.Equal(model.RoomStatusWaiting, room.Status)
	s.Equal(s.alice.ID, room.CreatorID)
	s.Equal("Alice", room.CreatorName)
	s.Equal(model.DefaultEntryFee, room.EntryFee)
	s.Nil(room.Opponent)
	s.True(room.IsOpen())
}

func (s *ControllerSuite) TestCreateRoomBroadcastsCreation() {
	room := s.createRoom(s.alice)

	broadcasts := s.notifier.Broadcasts()
	s.Require().Len(broadcasts, 1)
	created, ok := broadcasts[0].(model.RoomCreatedPayload)
	s.Require().True(ok)
	s.Equal(room.ID, created.RoomID)
	s.Equal(s.alice.ID, created.CreatorID)
	s.Equal(model.RoomStatusWaiting, created.Status)
}

func (s *ControllerSuite) TestCreateRoomWithCustomFee() {
	s.random.QueueString("fee000001")

	room, err := s.controller.CreateRoom(s.ctx, s.alice, 250)
	s.Require().NoError(err)
	s.Equal(int64(250), room.EntryFee)
}

func (s *ControllerSuite) TestCreateRoomRejectsInvalidFee() {
	_, err := s.controller.CreateRoom(s.ctx, s.alice, -5)
	s.ErrorIs(err, model.ErrValidation)

	_, err = s.controller.CreateRoom(s.ctx, s.alice, model.MaxEntryFee+1)
	s.ErrorIs(err, model.ErrValidation)
}

func (s *ControllerSuite) TestCreateRoomRequiresCreditsForFee() {
	poor := s.setCredits(s.alice, 50)

	_, err := s.controller.CreateRoom(s.ctx, poor, 0)
	s.ErrorIs(err, model.ErrValidation)

	s.random.QueueString("cheap0000")
	room, err := s.controller.CreateRoom(s.ctx, poor, 50)
	s.Require().NoError(err)
	s.Equal(int64(50), room.EntryFee)
}

func (s *ControllerSuite) TestCreateRoomRegeneratesCollidingID() {
	s.random.QueueString("dupe00000", "dupe00000", "fresh0000")

	first, err := s.controller.CreateRoom(s.ctx, s.alice, 0)
	s.Require().NoError(err)
	second, err := s.controller.CreateRoom(s.ctx, s.bob, 0)
	s.Require().NoError(err)

	s.NotEqual(first.ID, second.ID)
	s.Equal(model.RoomID("ROOM_1704110400000_fresh0000"), second.ID)
}

func (s *ControllerSuite) TestCreateRoomGivesUpAfterRepeatedCollisions() {
	s.random.QueueString("same00000")
	_, err := s.controller.CreateRoom(s.ctx, s.alice, 0)
	s.Require().NoError(err)

	// Exhausted queue keeps producing the same id
	for i := 0; i < maxIDAttempts; i++ {
		s.random.QueueString("same00000")
	}
	_, err = s.controller.CreateRoom(s.ctx, s.bob, 0)
	s.ErrorIs(err, model.ErrConflict)
}

// ListOpenRooms tests

func (s *ControllerSuite) TestListOpenRoomsExcludesPairedAndAbandoned() {
	open := s.createRoom(s.alice)
	s.clock.Advance(time.Second)
	newer := s.createRoom(s.carol)
	paired := s.createRoom(s.bob)
	_, err := s.controller.InviteByUserID(s.ctx, s.bob, paired.ID, s.carol.ID)
	s.Require().NoError(err)
	left := s.createRoom(s.bob)
	_, err = s.controller.LeaveRoom(s.ctx, s.bob, left.ID)
	s.Require().NoError(err)

	rooms, err := s.controller.ListOpenRooms(s.ctx)
	s.Require().NoError(err)

	s.Require().Len(rooms, 2)
	s.Equal(newer.ID, rooms[0].ID)
	s.Equal(open.ID, rooms[1].ID)
}

// GetRoom tests

func (s *ControllerSuite) TestGetRoomForbiddenForOutsiders() {
	room := s.pairedRoom()

	_, err := s.controller.GetRoom(s.ctx, s.carol, room.ID)
	s.ErrorIs(err, model.ErrForbidden)

	got, err := s.controller.GetRoom(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)
	s.Equal(room.ID, got.ID)
}

func (s *ControllerSuite) TestGetRoomNotFound() {
	_, err := s.controller.GetRoom(s.ctx, s.alice, "ROOM_missing")
	s.ErrorIs(err, model.ErrRoomNotFound)
}

// InviteByUserID tests

func (s *ControllerSuite) TestInviteByUserIDPairsImmediately() {
	room := s.createRoom(s.alice)
	s.notifier.Reset()

	room, err := s.controller.InviteByUserID(s.ctx, s.alice, room.ID, s.bob.ID)
	s.Require().NoError(err)

	s.Equal(model.RoomStatusReady, room.Status)
	s.Require().NotNil(room.Opponent)
	s.Equal(s.bob.ID, room.Opponent.UserID)
	s.Equal(room.EntryFee, room.OpponentEntryFee)
	s.True(room.Paired())

	invited := s.notifier.ForUser(s.bob.ID, model.EventUserInvited)
	s.Require().Len(invited, 1)
	s.Equal(s.alice.ID, invited[0].(model.UserInvitedPayload).Creator.UserID)

	joined := s.notifier.ForUser(s.alice.ID, model.EventUserJoinedRoom)
	s.Require().Len(joined, 1)
	s.Equal(s.bob.ID, joined[0].(model.UserJoinedRoomPayload).JoinedUser.UserID)

	s.Len(s.notifier.ForRoom(room.ID), 1)
}

func (s *ControllerSuite) TestInviteByUserIDRequiresCreator() {
	room := s.createRoom(s.alice)

	_, err := s.controller.InviteByUserID(s.ctx, s.bob, room.ID, s.carol.ID)
	s.ErrorIs(err, model.ErrForbidden)
}

func (s *ControllerSuite) TestInviteByUserIDRejectsSelf() {
	room := s.createRoom(s.alice)

	_, err := s.controller.InviteByUserID(s.ctx, s.alice, room.ID, s.alice.ID)
	s.ErrorIs(err, model.ErrValidation)
}

func (s *ControllerSuite) TestInviteByUserIDUnknownUser() {
	room := s.createRoom(s.alice)

	_, err := s.controller.InviteByUserID(s.ctx, s.alice, room.ID, "u-nobody")
	s.ErrorIs(err, model.ErrUserNotFound)
}

func (s *ControllerSuite) TestInviteByUserIDFailsWhenPaired() {
	room := s.pairedRoom()

	_, err := s.controller.InviteByUserID(s.ctx, s.alice, room.ID, s.carol.ID)
	s.ErrorIs(err, model.ErrInvalidState)
}

// InviteByEmail tests

func (s *ControllerSuite) TestInviteRequiresOpponentCredits() {
	s.setCredits(s.bob, 50)
	room := s.createRoom(s.alice)

	_, err := s.controller.InviteByUserID(s.ctx, s.alice, room.ID, s.bob.ID)
	s.ErrorIs(err, model.ErrValidation)
	_, err = s.controller.InviteByEmail(s.ctx, s.alice, room.ID, "bob@example.com")
	s.ErrorIs(err, model.ErrValidation)

	room, err = s.controller.GetRoom(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)
	s.True(room.IsOpen())
}

func (s *ControllerSuite) TestInviteByEmailRecordsPendingInvite() {
	room := s.createRoom(s.alice)
	s.notifier.Reset()

	room, err := s.controller.InviteByEmail(s.ctx, s.alice, room.ID, "  BOB@Example.com ")
	s.Require().NoError(err)

	s.Equal(model.RoomStatusWaiting, room.Status)
	s.Equal("bob@example.com", room.InvitedEmail)
	s.True(room.HasPendingInvite())
	s.False(room.Paired())
	s.True(room.IsInvitee(s.bob.ID))

	s.Len(s.notifier.ForUser(s.bob.ID, model.EventUserInvited), 1)
	s.Empty(s.notifier.ForUser(s.alice.ID, model.EventUserJoinedRoom))
}

func (s *ControllerSuite) TestInviteByEmailRejectsMalformedEmail() {
	room := s.createRoom(s.alice)

	_, err := s.controller.InviteByEmail(s.ctx, s.alice, room.ID, "not-an-email")
	s.ErrorIs(err, model.ErrValidation)
}

func (s *ControllerSuite) TestInviteByEmailUnknownUser() {
	room := s.createRoom(s.alice)

	_, err := s.controller.InviteByEmail(s.ctx, s.alice, room.ID, "ghost@example.com")
	s.ErrorIs(err, model.ErrUserNotFound)
}

// AcceptInvite tests

func (s *ControllerSuite) TestAcceptInvitePairsRoom() {
	room := s.createRoom(s.alice)
	_, err := s.controller.InviteByEmail(s.ctx, s.alice, room.ID, "bob@example.com")
	s.Require().NoError(err)
	s.notifier.Reset()

	room, err = s.controller.AcceptInvite(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)

	s.Equal(model.RoomStatusReady, room.Status)
	s.Empty(room.InvitedEmail)
	s.True(room.IsOpponent(s.bob.ID))

	s.Len(s.notifier.ForUser(s.alice.ID, model.EventUserJoinedRoom), 1)
	s.Len(s.notifier.ForUser(s.bob.ID, model.EventUserJoinedRoom), 1)
}

func (s *ControllerSuite) TestAcceptInviteByOtherUserIsForbiddenAndLeavesRoomUnchanged() {
	room := s.createRoom(s.alice)
	before, err := s.controller.InviteByEmail(s.ctx, s.alice, room.ID, "bob@example.com")
	s.Require().NoError(err)

	_, err = s.controller.AcceptInvite(s.ctx, s.carol, room.ID)
	s.ErrorIs(err, model.ErrForbidden)

	after, err := s.storage.GetRoom(s.ctx, room.ID)
	s.Require().NoError(err)
	s.Equal(before, after)
}

func (s *ControllerSuite) TestAcceptInviteRequiresCredits() {
	room := s.createRoom(s.alice)
	_, err := s.controller.InviteByEmail(s.ctx, s.alice, room.ID, "bob@example.com")
	s.Require().NoError(err)
	poor := s.setCredits(s.bob, 10)

	_, err = s.controller.AcceptInvite(s.ctx, poor, room.ID)
	s.ErrorIs(err, model.ErrValidation)

	room, err = s.controller.GetRoom(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)
	s.True(room.HasPendingInvite())
	s.Equal(model.RoomStatusWaiting, room.Status)
}

func (s *ControllerSuite) TestAcceptInviteWithoutInviteIsInvalid() {
	room := s.createRoom(s.alice)

	_, err := s.controller.AcceptInvite(s.ctx, s.bob, room.ID)
	s.ErrorIs(err, model.ErrInvalidState)
}

// MarkReady tests

func (s *ControllerSuite) TestMarkReadyFirstParticipantWaits() {
	room := s.pairedRoom()

	room, res, err := s.controller.MarkReady(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)

	s.Nil(res)
	s.Equal(model.RoomStatusSpinning, room.Status)
	s.True(room.CreatorStarted)
	s.False(room.OpponentStarted)

	ready := s.notifier.ForUser(s.bob.ID, model.EventUserSpinReady)
	s.Require().Len(ready, 1)
	s.Equal(s.alice.ID, ready[0].(model.UserSpinReadyPayload).ReadyUserID)
	s.Empty(s.notifier.ForUser(s.alice.ID))
}

func (s *ControllerSuite) TestMarkReadyIsIdempotent() {
	room := s.pairedRoom()

	first, _, err := s.controller.MarkReady(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)
	s.notifier.Reset()

	second, res, err := s.controller.MarkReady(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)

	s.Nil(res)
	s.Equal(first.Version, second.Version)
	s.Empty(s.notifier.ForUser(s.bob.ID))
	s.Empty(s.notifier.ForRoom(room.ID))
}

func (s *ControllerSuite) TestMarkReadyCreatorWins() {
	room := s.pairedRoom()
	s.random.QueueFloat64(0.75, 0.25)

	_, _, err := s.controller.MarkReady(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)
	room, res, err := s.controller.MarkReady(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)

	s.Require().NotNil(res)
	s.Equal(s.alice.ID, res.Winner)
	s.Equal("Alice", res.WinnerName)
	s.InDelta(45.0, res.FinalRotation, 1e-9)
	s.Equal(s.clock.Now().Add(model.SpinLeadTime).UnixMilli(), res.SpinStartTime)
	s.Equal(model.RoomStatusCompleted, room.Status)
	s.Equal(s.alice.ID, room.Winner)
}

func (s *ControllerSuite) TestMarkReadyOpponentWins() {
	room := s.pairedRoom()
	s.random.QueueFloat64(0.5, 0.5)

	_, _, err := s.controller.MarkReady(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)
	_, res, err := s.controller.MarkReady(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)

	s.Require().NotNil(res)
	s.Equal(s.bob.ID, res.Winner)
	s.InDelta(270.0, res.FinalRotation, 1e-9)
}

func (s *ControllerSuite) TestMarkReadyRotationStaysInWinnersHalf() {
	cases := []struct {
		u, sub float64
	}{
		{0.99, 0}, {0.51, 0.999}, {0.5, 0}, {0.01, 0.999}, {0, 0.3},
	}
	for _, tc := range cases {
		room := s.completedRoom(0)
		_, err := s.controller.ResetRound(s.ctx, s.alice, room.ID)
		s.Require().NoError(err)
		s.random.Reset()
		s.random.QueueFloat64(tc.u, tc.sub)

		_, _, err = s.controller.MarkReady(s.ctx, s.alice, room.ID)
		s.Require().NoError(err)
		_, res, err := s.controller.MarkReady(s.ctx, s.bob, room.ID)
		s.Require().NoError(err)
		s.Require().NotNil(res)

		if res.Winner == s.alice.ID {
			s.GreaterOrEqual(res.FinalRotation, 0.0)
			s.Less(res.FinalRotation, 180.0)
		} else {
			s.GreaterOrEqual(res.FinalRotation, 180.0)
			s.Less(res.FinalRotation, 360.0)
		}
	}
}

func (s *ControllerSuite) TestMarkReadySendsIdenticalOutcomeToBoth() {
	room := s.pairedRoom()
	s.random.QueueFloat64(0.8, 0.1)

	_, _, err := s.controller.MarkReady(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)
	_, _, err = s.controller.MarkReady(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)

	aliceEvents := s.notifier.ForUser(s.alice.ID, model.EventSpinBothReady)
	bobEvents := s.notifier.ForUser(s.bob.ID, model.EventSpinBothReady)
	s.Require().Len(aliceEvents, 1)
	s.Require().Len(bobEvents, 1)
	s.Equal(aliceEvents[0], bobEvents[0])
}

func (s *ControllerSuite) TestMarkReadyOnCompletedRoomIsInvalid() {
	room := s.completedRoom(0.9)

	_, _, err := s.controller.MarkReady(s.ctx, s.alice, room.ID)
	s.ErrorIs(err, model.ErrInvalidState)

	after, err := s.storage.GetRoom(s.ctx, room.ID)
	s.Require().NoError(err)
	s.Equal(room, after)
}

func (s *ControllerSuite) TestMarkReadyRequiresParticipant() {
	room := s.pairedRoom()

	_, _, err := s.controller.MarkReady(s.ctx, s.carol, room.ID)
	s.ErrorIs(err, model.ErrForbidden)
}

func (s *ControllerSuite) TestMarkReadyWithoutOpponentIsInvalid() {
	room := s.createRoom(s.alice)

	_, _, err := s.controller.MarkReady(s.ctx, s.alice, room.ID)
	s.ErrorIs(err, model.ErrInvalidState)
}

func (s *ControllerSuite) TestMarkReadyPendingInviteeIsForbidden() {
	room := s.createRoom(s.alice)
	_, err := s.controller.InviteByEmail(s.ctx, s.alice, room.ID, "bob@example.com")
	s.Require().NoError(err)

	_, _, err = s.controller.MarkReady(s.ctx, s.bob, room.ID)
	s.ErrorIs(err, model.ErrForbidden)
}

func (s *ControllerSuite) TestMarkReadyConcurrentResolvesOnce() {
	room := s.pairedRoom()
	s.random.QueueFloat64(0.9, 0.5)

	var wg sync.WaitGroup
	results := make([]*model.SpinResolution, 2)
	errs := make([]error, 2)
	for i, user := range []*model.User{s.alice, s.bob} {
		wg.Add(1)
		go func(i int, user *model.User) {
			defer wg.Done()
			_, results[i], errs[i] = s.controller.MarkReady(s.ctx, user, room.ID)
		}(i, user)
	}
	wg.Wait()

	s.NoError(errs[0])
	s.NoError(errs[1])
	resolved := 0
	for _, r := range results {
		if r != nil {
			resolved++
		}
	}
	s.Equal(1, resolved)
	s.Len(s.notifier.ForUser(s.alice.ID, model.EventSpinBothReady), 1)
	s.Len(s.notifier.ForUser(s.bob.ID, model.EventSpinBothReady), 1)
}

// ResetRound tests

func (s *ControllerSuite) TestResetRoundClearsOutcome() {
	room := s.completedRoom(0.9)

	room, err := s.controller.ResetRound(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)

	s.Equal(model.RoomStatusWaiting, room.Status)
	s.False(room.CreatorStarted)
	s.False(room.OpponentStarted)
	s.Empty(room.Winner)
	s.Zero(room.FinalRotation)
	s.Zero(room.SpinStartTime)
	s.Equal(1, room.Round)
	s.True(room.Paired())

	s.Len(s.notifier.ForUser(s.alice.ID, model.EventGameReset), 1)
	s.Len(s.notifier.ForUser(s.bob.ID, model.EventGameReset), 1)
}

func (s *ControllerSuite) TestResetRoundAllowsAnotherSpin() {
	room := s.completedRoom(0.9)
	_, err := s.controller.ResetRound(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)
	s.random.QueueFloat64(0.1, 0.5)

	_, _, err = s.controller.MarkReady(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)
	_, res, err := s.controller.MarkReady(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)

	s.Require().NotNil(res)
	s.Equal(s.bob.ID, res.Winner)
}

func (s *ControllerSuite) TestResetRoundRequiresParticipant() {
	room := s.completedRoom(0.9)

	_, err := s.controller.ResetRound(s.ctx, s.carol, room.ID)
	s.ErrorIs(err, model.ErrForbidden)
}

// LeaveRoom tests

func (s *ControllerSuite) TestLeaveRoomAbandonsAndNotifiesOther() {
	room := s.pairedRoom()

	room, err := s.controller.LeaveRoom(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)

	s.True(room.Abandoned)
	s.Equal(s.bob.ID, room.AbandonedBy)
	left := s.notifier.ForUser(s.alice.ID, model.EventUserLeftRoom)
	s.Require().Len(left, 1)
	s.Equal(s.bob.ID, left[0].(model.UserLeftRoomPayload).UserID)

	_, _, err = s.controller.MarkReady(s.ctx, s.alice, room.ID)
	s.ErrorIs(err, model.ErrInvalidState)
}

func (s *ControllerSuite) TestLeaveRoomTwiceNotifiesOnce() {
	room := s.pairedRoom()

	_, err := s.controller.LeaveRoom(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)
	_, err = s.controller.LeaveRoom(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)

	s.Len(s.notifier.ForUser(s.alice.ID, model.EventUserLeftRoom), 1)
	s.Len(s.notifier.ForRoom(room.ID), 1)
}

func (s *ControllerSuite) TestLeaveRoomByInviteeDeclines() {
	room := s.createRoom(s.alice)
	_, err := s.controller.InviteByEmail(s.ctx, s.alice, room.ID, "bob@example.com")
	s.Require().NoError(err)

	room, err = s.controller.LeaveRoom(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)

	s.False(room.Abandoned)
	s.Nil(room.Opponent)
	s.True(room.IsOpen())
}

// Settle tests

func (s *ControllerSuite) TestSettlePaysWinnerOnce() {
	room := s.completedRoom(0.9)

	_, result, err := s.controller.Settle(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)

	s.Equal(s.alice.ID, result.Winner)
	s.Equal(int64(200), result.PrizePool)
	s.False(result.AlreadySettled)
	s.Equal(model.DefaultCredits+100, result.WinnerCredits)

	bob, err := s.storage.GetUser(s.ctx, s.bob.ID)
	s.Require().NoError(err)
	s.Equal(model.DefaultCredits-100, bob.Credits)

	_, again, err := s.controller.Settle(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)
	s.True(again.AlreadySettled)
	s.Equal(model.DefaultCredits+100, again.WinnerCredits)
}

func (s *ControllerSuite) TestSettleBeforeResolutionIsInvalid() {
	room := s.pairedRoom()

	_, _, err := s.controller.Settle(s.ctx, s.alice, room.ID)
	s.ErrorIs(err, model.ErrInvalidState)
}

func (s *ControllerSuite) TestSettleRequiresParticipant() {
	room := s.completedRoom(0.9)

	_, _, err := s.controller.Settle(s.ctx, s.carol, room.ID)
	s.ErrorIs(err, model.ErrForbidden)
}

func (s *ControllerSuite) TestSettleConcurrentPaysOnce() {
	room := s.completedRoom(0.1)

	var wg sync.WaitGroup
	for _, user := range []*model.User{s.alice, s.bob, s.alice, s.bob} {
		wg.Add(1)
		go func(user *model.User) {
			defer wg.Done()
			_, _, _ = s.controller.Settle(s.ctx, user, room.ID)
		}(user)
	}
	wg.Wait()

	bob, err := s.storage.GetUser(s.ctx, s.bob.ID)
	s.Require().NoError(err)
	s.Equal(model.DefaultCredits+100, bob.Credits)
}

func (s *ControllerSuite) TestSettleCollectsOnlyWhatLoserHas() {
	room := s.completedRoom(0.9)
	s.setCredits(s.bob, 30)
	before := s.credits(s.alice) + s.credits(s.bob)

	_, result, err := s.controller.Settle(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)

	s.Equal(int64(130), result.PrizePool)
	s.Equal(model.DefaultCredits+30, result.WinnerCredits)
	s.Zero(s.credits(s.bob))
	s.Equal(before, s.credits(s.alice)+s.credits(s.bob))

	_, again, err := s.controller.Settle(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)
	s.True(again.AlreadySettled)
	s.Equal(int64(130), again.PrizePool)
}

func (s *ControllerSuite) TestSettleRetriesAfterFailedDebit() {
	room := s.completedRoom(0.9)
	flaky := newFailingStorage(s.storage, 1)
	controller := NewController(flaky, s.notifier, s.clock, s.random, testutil.NopLogger())

	_, _, err := controller.Settle(s.ctx, s.bob, room.ID)
	s.ErrorIs(err, errStoreUnavailable)

	stored, err := s.storage.GetRoom(s.ctx, room.ID)
	s.Require().NoError(err)
	s.False(stored.Settled)
	s.Equal(model.DefaultCredits, s.credits(s.alice))
	s.Equal(model.DefaultCredits, s.credits(s.bob))

	_, result, err := controller.Settle(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)
	s.False(result.AlreadySettled)
	s.Equal(model.DefaultCredits+100, result.WinnerCredits)
	s.Equal(model.DefaultCredits-100, s.credits(s.bob))
}

func (s *ControllerSuite) TestSettleResumesAfterFailedCredit() {
	room := s.completedRoom(0.9)
	// The loser is debited, then crediting the winner fails
	flaky := newFailingStorage(s.storage, 2)
	controller := NewController(flaky, s.notifier, s.clock, s.random, testutil.NopLogger())

	_, _, err := controller.Settle(s.ctx, s.alice, room.ID)
	s.ErrorIs(err, errStoreUnavailable)
	s.Equal(model.DefaultCredits, s.credits(s.alice))
	s.Equal(model.DefaultCredits-100, s.credits(s.bob))

	_, result, err := controller.Settle(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)
	s.False(result.AlreadySettled)
	s.Equal(int64(200), result.PrizePool)
	s.Equal(model.DefaultCredits+100, s.credits(s.alice))
	s.Equal(model.DefaultCredits-100, s.credits(s.bob))

	_, again, err := controller.Settle(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)
	s.True(again.AlreadySettled)
	s.Equal(model.DefaultCredits+100, s.credits(s.alice))
	s.Equal(model.DefaultCredits-100, s.credits(s.bob))
}

func (s *ControllerSuite) TestSettleEachRoundSeparately() {
	room := s.completedRoom(0.9)
	_, _, err := s.controller.Settle(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)

	_, err = s.controller.ResetRound(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)
	s.random.QueueFloat64(0.1, 0.5)
	_, _, err = s.controller.MarkReady(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)
	_, res, err := s.controller.MarkReady(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)
	s.Require().NotNil(res)
	s.Equal(s.bob.ID, res.Winner)

	_, result, err := s.controller.Settle(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)
	s.False(result.AlreadySettled)
	s.Equal(model.DefaultCredits, s.credits(s.alice))
	s.Equal(model.DefaultCredits, s.credits(s.bob))
}

// Full round

func (s *ControllerSuite) TestFullRoundScenario() {
	room := s.createRoom(s.alice)
	_, err := s.controller.InviteByEmail(s.ctx, s.alice, room.ID, "bob@example.com")
	s.Require().NoError(err)
	_, err = s.controller.AcceptInvite(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)

	s.random.QueueFloat64(0.2, 0.6)
	_, _, err = s.controller.MarkReady(s.ctx, s.bob, room.ID)
	s.Require().NoError(err)
	s.clock.Advance(2 * time.Second)
	_, res, err := s.controller.MarkReady(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)
	s.Require().NotNil(res)
	s.Equal(s.bob.ID, res.Winner)
	s.InDelta(288.0, res.FinalRotation, 1e-9)

	_, settlement, err := s.controller.Settle(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)
	s.Equal(model.DefaultCredits+100, settlement.WinnerCredits)

	room, err = s.controller.ResetRound(s.ctx, s.alice, room.ID)
	s.Require().NoError(err)
	s.Equal(model.RoomStatusWaiting, room.Status)
	s.False(room.Settled)

	updates := s.notifier.ForRoom(room.ID)
	s.Require().NotEmpty(updates)
	last := updates[len(updates)-1].(model.RoomUpdatedPayload)
	s.Equal(1, last.Room.Round)
}

var errStoreUnavailable = errors.New("store unavailable")

// failingStorage fails the listed UpdateUser calls, counting from 1
type failingStorage struct {
	storage.Storage

	mu     sync.Mutex
	calls  int
	failOn map[int]bool
}

func newFailingStorage(inner storage.Storage, failOn ...int) *failingStorage {
	f := &failingStorage{Storage: inner, failOn: make(map[int]bool)}
	for _, n := range failOn {
		f.failOn[n] = true
	}
	return f
}

func (f *failingStorage) UpdateUser(ctx context.Context, id model.UserID, fn storage.UserMutation) (*model.User, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failOn[f.calls]
	f.mu.Unlock()
	if fail {
		return nil, errStoreUnavailable
	}
	return f.Storage.UpdateUser(ctx, id, fn)
}
