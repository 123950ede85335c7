package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/mcoot/spinroom/internal/dependencies/clock"
	"github.com/mcoot/spinroom/internal/dependencies/random"
	"github.com/mcoot/spinroom/internal/model"
	"github.com/mcoot/spinroom/internal/storage"
)

const (
	// RoomIDSuffixLength is the length of the random part of a room id
	RoomIDSuffixLength = 9
	// RoomIDAlphabet is the characters used in the random part of a room id
	RoomIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

	maxIDAttempts = 10
)

var validate = validator.New()

// Notifier hands events to the delivery subsystem without waiting on it
type Notifier interface {
	NotifyUser(ctx context.Context, userID model.UserID, ev model.Event)
	NotifyRoom(ctx context.Context, roomID model.RoomID, ev model.Event)
	Broadcast(ctx context.Context, ev model.Event)
}

// Settlement is the outcome of paying out a resolved round
type Settlement struct {
	PrizePool      int64
	Winner         model.UserID
	WinnerCredits  int64
	AlreadySettled bool
}

// Controller manages the room state machine
type Controller struct {
	storage  storage.Storage
	notifier Notifier
	clock    clock.Clock
	random   random.Random
	logger   *slog.Logger
}

// NewController creates a new room Controller
func NewController(
	storage storage.Storage,
	notifier Notifier,
	clock clock.Clock,
	random random.Random,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		storage:  storage,
		notifier: notifier,
		clock:    clock,
		random:   random,
		logger:   logger.With(slog.String("component", "room")),
	}
}

// CreateRoom creates a waiting room owned by the actor. A zero fee means
// the default.
func (c *Controller) CreateRoom(ctx context.Context, actor *model.User, entryFee int64) (*model.Room, error) {
	if entryFee == 0 {
		entryFee = model.DefaultEntryFee
	}
	if entryFee < 0 || entryFee > model.MaxEntryFee {
		return nil, fmt.Errorf("%w: entry fee must be between 1 and %d", model.ErrValidation, model.MaxEntryFee)
	}
	if err := canAfford(actor, entryFee); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	room := &model.Room{
		CreatorID:    actor.ID,
		CreatorName:  actor.Name,
		CreatorEmail: actor.Email,
		Status:       model.RoomStatusWaiting,
		EntryFee:     entryFee,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Generate unique room id
	created := false
	for attempt := 0; attempt < maxIDAttempts && !created; attempt++ {
		room.ID = model.RoomID(fmt.Sprintf("ROOM_%d_%s",
			now.UnixMilli(), c.random.String(RoomIDSuffixLength, RoomIDAlphabet)))
		exists, err := c.storage.RoomExists(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		err = c.storage.CreateRoom(ctx, room)
		switch {
		case err == nil:
			created = true
		case !errors.Is(err, model.ErrConflict):
			return nil, err
		}
	}
	if !created {
		return nil, fmt.Errorf("generate room id: %w", model.ErrConflict)
	}

	c.logger.Info("room created",
		slog.String("room_id", string(room.ID)),
		slog.String("creator_id", string(actor.ID)),
		slog.Int64("entry_fee", entryFee))

	c.notifier.Broadcast(ctx, model.RoomCreatedPayload{
		RoomID:       room.ID,
		CreatorID:    room.CreatorID,
		CreatorName:  room.CreatorName,
		CreatorEmail: room.CreatorEmail,
		Status:       room.Status,
		Timestamp:    now.UnixMilli(),
	})

	return room, nil
}

// GetRoom returns a room the actor may see
func (c *Controller) GetRoom(ctx context.Context, actor *model.User, roomID model.RoomID) (*model.Room, error) {
	room, err := c.storage.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.CanView(actor.ID) {
		return nil, fmt.Errorf("%w: not a member of this room", model.ErrForbidden)
	}
	return room, nil
}

// ListOpenRooms returns rooms still waiting for an opponent, newest first
func (c *Controller) ListOpenRooms(ctx context.Context) ([]*model.Room, error) {
	rooms, err := c.storage.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	open := lo.Filter(rooms, func(r *model.Room, _ int) bool {
		return r.IsOpen()
	})
	sort.Slice(open, func(i, j int) bool {
		return open[i].CreatedAt.After(open[j].CreatedAt)
	})
	return open, nil
}

// InviteByUserID attaches the target as the opponent straight away
func (c *Controller) InviteByUserID(ctx context.Context, actor *model.User, roomID model.RoomID, targetID model.UserID) (*model.Room, error) {
	if targetID == "" {
		return nil, fmt.Errorf("%w: target user id is required", model.ErrValidation)
	}
	if targetID == actor.ID {
		return nil, fmt.Errorf("%w: cannot invite yourself", model.ErrValidation)
	}
	if err := c.checkCanInvite(ctx, actor, roomID); err != nil {
		return nil, err
	}

	target, err := c.storage.GetUser(ctx, targetID)
	if err != nil {
		return nil, err
	}

	room, err := c.storage.UpdateRoom(ctx, roomID, func(r *model.Room) error {
		if err := canInvite(r, actor); err != nil {
			return err
		}
		if err := canAfford(target, r.EntryFee); err != nil {
			return err
		}
		opponent := target.Participant()
		r.Opponent = &opponent
		r.OpponentEntryFee = r.EntryFee
		r.Status = model.RoomStatusReady
		r.UpdatedAt = c.clock.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("opponent invited",
		slog.String("room_id", string(room.ID)),
		slog.String("user_id", string(target.ID)))

	c.notifier.NotifyUser(ctx, target.ID, model.UserInvitedPayload{
		RoomID:      room.ID,
		InvitedUser: target.Participant(),
		Creator:     room.Creator(),
	})
	c.notifier.NotifyUser(ctx, room.CreatorID, model.UserJoinedRoomPayload{
		RoomID:     room.ID,
		JoinedUser: target.Participant(),
		Room:       room.Snapshot(),
		Timestamp:  clock.NowMillis(c.clock),
	})
	c.publishUpdate(ctx, room)

	return room, nil
}

// InviteByEmail records an invite that the target must accept
func (c *Controller) InviteByEmail(ctx context.Context, actor *model.User, roomID model.RoomID, email string) (*model.Room, error) {
	email = model.NormalizeEmail(email)
	if err := validate.Var(email, "required,email"); err != nil {
		return nil, fmt.Errorf("%w: a valid email is required", model.ErrValidation)
	}
	if email == model.NormalizeEmail(actor.Email) {
		return nil, fmt.Errorf("%w: cannot invite yourself", model.ErrValidation)
	}
	if err := c.checkCanInvite(ctx, actor, roomID); err != nil {
		return nil, err
	}

	target, err := c.storage.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	room, err := c.storage.UpdateRoom(ctx, roomID, func(r *model.Room) error {
		if err := canInvite(r, actor); err != nil {
			return err
		}
		if err := canAfford(target, r.EntryFee); err != nil {
			return err
		}
		opponent := target.Participant()
		r.Opponent = &opponent
		r.InvitedEmail = email
		r.OpponentEntryFee = r.EntryFee
		r.UpdatedAt = c.clock.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("email invite sent",
		slog.String("room_id", string(room.ID)),
		slog.String("user_id", string(target.ID)))

	c.notifier.NotifyUser(ctx, target.ID, model.UserInvitedPayload{
		RoomID:      room.ID,
		InvitedUser: target.Participant(),
		Creator:     room.Creator(),
	})
	c.publishUpdate(ctx, room)

	return room, nil
}

// AcceptInvite pairs the invited user with the creator
func (c *Controller) AcceptInvite(ctx context.Context, actor *model.User, roomID model.RoomID) (*model.Room, error) {
	room, err := c.storage.UpdateRoom(ctx, roomID, func(r *model.Room) error {
		if r.Abandoned {
			return fmt.Errorf("%w: room was abandoned", model.ErrInvalidState)
		}
		if !r.HasPendingInvite() {
			return fmt.Errorf("%w: no outstanding invite", model.ErrInvalidState)
		}
		if !r.IsInvitee(actor.ID) || model.NormalizeEmail(actor.Email) != r.InvitedEmail {
			return fmt.Errorf("%w: invite belongs to another user", model.ErrForbidden)
		}
		if err := canAfford(actor, r.OpponentEntryFee); err != nil {
			return err
		}
		opponent := actor.Participant()
		r.Opponent = &opponent
		r.InvitedEmail = ""
		r.Status = model.RoomStatusReady
		r.UpdatedAt = c.clock.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("invite accepted",
		slog.String("room_id", string(room.ID)),
		slog.String("user_id", string(actor.ID)))

	joined := model.UserJoinedRoomPayload{
		RoomID:     room.ID,
		JoinedUser: actor.Participant(),
		Room:       room.Snapshot(),
		Timestamp:  clock.NowMillis(c.clock),
	}
	c.notifier.NotifyUser(ctx, room.CreatorID, joined)
	c.notifier.NotifyUser(ctx, actor.ID, joined)
	c.publishUpdate(ctx, room)

	return room, nil
}

// MarkReady records that the actor started. When the opponent already
// started the round is resolved in the same atomic update and the
// resolution is returned; otherwise the resolution is nil.
func (c *Controller) MarkReady(ctx context.Context, actor *model.User, roomID model.RoomID) (*model.Room, *model.SpinResolution, error) {
	var resolved, waiting bool

	room, err := c.storage.UpdateRoom(ctx, roomID, func(r *model.Room) error {
		// Runs again if another update wins the race
		resolved, waiting = false, false

		if r.Abandoned {
			return fmt.Errorf("%w: room was abandoned", model.ErrInvalidState)
		}
		isCreator := r.IsCreator(actor.ID)
		if !isCreator && !r.IsOpponent(actor.ID) {
			return fmt.Errorf("%w: not a participant", model.ErrForbidden)
		}
		if !r.Paired() {
			return fmt.Errorf("%w: waiting for an opponent to join", model.ErrInvalidState)
		}
		if r.Status == model.RoomStatusCompleted {
			return fmt.Errorf("%w: round already resolved, reset to play again", model.ErrInvalidState)
		}

		mine, theirs := &r.CreatorStarted, &r.OpponentStarted
		if !isCreator {
			mine, theirs = theirs, mine
		}
		if *mine {
			return storage.ErrSkipUpdate
		}

		now := c.clock.Now()
		*mine = true
		if *theirs {
			c.resolve(r)
			resolved = true
		} else {
			r.Status = model.RoomStatusSpinning
			waiting = true
		}
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	switch {
	case resolved:
		resolution := room.Resolution()
		c.logger.Info("spin resolved",
			slog.String("room_id", string(room.ID)),
			slog.String("winner", string(resolution.Winner)),
			slog.Float64("final_rotation", resolution.FinalRotation),
			slog.Int("round", room.Round))

		// One value for both players so they animate to the same angle
		payload := model.SpinBothReadyPayload{
			RoomID:        room.ID,
			Winner:        resolution.Winner,
			WinnerName:    resolution.WinnerName,
			FinalRotation: resolution.FinalRotation,
			SpinStartTime: resolution.SpinStartTime,
			Timestamp:     clock.NowMillis(c.clock),
		}
		for _, id := range room.ParticipantIDs() {
			c.notifier.NotifyUser(ctx, id, payload)
		}
		c.publishUpdate(ctx, room)
		return room, resolution, nil

	case waiting:
		if other, ok := room.Other(actor.ID); ok {
			c.notifier.NotifyUser(ctx, other.UserID, model.UserSpinReadyPayload{
				RoomID:        room.ID,
				ReadyUserID:   actor.ID,
				ReadyUserName: room.NameOf(actor.ID),
				Room:          room.Snapshot(),
				SpinStartTime: clock.NowMillis(c.clock),
			})
		}
		c.publishUpdate(ctx, room)
	}

	return room, nil, nil
}

// resolve picks the winner and the shared animation target. The creator
// owns [0,180) of the dial and the opponent [180,360).
func (c *Controller) resolve(r *model.Room) {
	creatorWins := c.random.Float64() > 0.5
	rotation := c.random.Float64() * 180

	r.Winner = r.CreatorID
	if !creatorWins {
		r.Winner = r.Opponent.UserID
		rotation += 180
	}
	r.FinalRotation = rotation
	r.SpinStartTime = c.clock.Now().Add(model.SpinLeadTime).UnixMilli()
	r.Status = model.RoomStatusCompleted
}

// ResetRound clears the round so both participants can spin again
func (c *Controller) ResetRound(ctx context.Context, actor *model.User, roomID model.RoomID) (*model.Room, error) {
	room, err := c.storage.UpdateRoom(ctx, roomID, func(r *model.Room) error {
		if r.Abandoned {
			return fmt.Errorf("%w: room was abandoned", model.ErrInvalidState)
		}
		if !r.IsParticipant(actor.ID) {
			return fmt.Errorf("%w: not a participant", model.ErrForbidden)
		}
		r.CreatorStarted = false
		r.OpponentStarted = false
		r.Winner = ""
		r.FinalRotation = 0
		r.SpinStartTime = 0
		r.Settled = false
		r.Status = model.RoomStatusWaiting
		r.Round++
		r.UpdatedAt = c.clock.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("round reset",
		slog.String("room_id", string(room.ID)),
		slog.String("user_id", string(actor.ID)),
		slog.Int("round", room.Round))

	payload := model.GameResetPayload{
		RoomID: room.ID,
		Room:   room.Snapshot(),
	}
	for _, id := range room.ParticipantIDs() {
		c.notifier.NotifyUser(ctx, id, payload)
	}
	c.publishUpdate(ctx, room)

	return room, nil
}

// LeaveRoom abandons the room. An invitee leaving declines the invite
// instead, reopening the room.
func (c *Controller) LeaveRoom(ctx context.Context, actor *model.User, roomID model.RoomID) (*model.Room, error) {
	var other *model.Participant
	changed := false

	room, err := c.storage.UpdateRoom(ctx, roomID, func(r *model.Room) error {
		other, changed = nil, false

		if !r.CanView(actor.ID) {
			return fmt.Errorf("%w: not a member of this room", model.ErrForbidden)
		}
		if r.Abandoned {
			return storage.ErrSkipUpdate
		}
		if p, ok := r.Other(actor.ID); ok {
			other = &p
		}
		if r.IsInvitee(actor.ID) {
			r.Opponent = nil
			r.InvitedEmail = ""
			r.OpponentEntryFee = 0
		} else {
			r.Abandoned = true
			r.AbandonedBy = actor.ID
		}
		r.UpdatedAt = c.clock.Now()
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return room, nil
	}

	c.logger.Info("user left room",
		slog.String("room_id", string(room.ID)),
		slog.String("user_id", string(actor.ID)),
		slog.Bool("abandoned", room.Abandoned))

	if other != nil {
		c.notifier.NotifyUser(ctx, other.UserID, model.UserLeftRoomPayload{
			RoomID: room.ID,
			UserID: actor.ID,
			Room:   room.Snapshot(),
		})
	}
	c.publishUpdate(ctx, room)

	return room, nil
}

// Settle pays the prize pool to the round's winner. Each participant pays
// their own entry fee. Settling twice pays once.
//
// Each credit movement is recorded in the user's ledger under the round's
// settlement key, so a settlement that failed part way can be retried
// without paying anyone twice. The room is only marked settled once both
// sides have been applied.
func (c *Controller) Settle(ctx context.Context, actor *model.User, roomID model.RoomID) (*model.Room, *Settlement, error) {
	room, err := c.storage.GetRoom(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	if err := canSettle(room, actor); err != nil {
		return nil, nil, err
	}

	if room.Settled {
		return c.settlement(ctx, room, true)
	}

	collected, err := c.payOut(ctx, room)
	if err != nil {
		return nil, nil, err
	}

	paid := room
	settledNow, moved := false, false
	room, err = c.storage.UpdateRoom(ctx, roomID, func(r *model.Room) error {
		settledNow, moved = false, false

		// A reset between payout and here starts a new round; the paid
		// round's ledger entries stand on their own
		if r.SettlementKey() != paid.SettlementKey() {
			moved = true
			return storage.ErrSkipUpdate
		}
		if r.Settled {
			return storage.ErrSkipUpdate
		}
		r.Settled = true
		r.UpdatedAt = c.clock.Now()
		settledNow = true
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if moved {
		return c.settlement(ctx, paid, false)
	}

	if settledNow {
		c.logger.Info("round settled",
			slog.String("room_id", string(room.ID)),
			slog.String("winner", string(room.Winner)),
			slog.Int64("prize_pool", room.PrizePool()),
			slog.Int64("collected", collected))
	}
	return c.settlement(ctx, room, !settledNow)
}

func (c *Controller) settlement(ctx context.Context, room *model.Room, already bool) (*model.Room, *Settlement, error) {
	winner, err := c.storage.GetUser(ctx, room.Winner)
	if err != nil {
		return nil, nil, err
	}
	// The winner's ledger entry is what they actually gained this round
	gained, _ := winner.Applied(room.SettlementKey())
	return room, &Settlement{
		PrizePool:      winnerFee(room) + gained,
		Winner:         room.Winner,
		WinnerCredits:  winner.Credits,
		AlreadySettled: already,
	}, nil
}

func winnerFee(room *model.Room) int64 {
	if room.Winner == room.CreatorID {
		return room.EntryFee
	}
	return room.OpponentEntryFee
}

// payOut moves the loser's fee to the winner. The loser is debited first,
// at most down to zero, and the winner gains exactly what was collected.
// Both steps are idempotent per settlement key.
func (c *Controller) payOut(ctx context.Context, room *model.Room) (int64, error) {
	key := room.SettlementKey()
	loserID, loserFee := room.CreatorID, room.EntryFee
	if room.Winner == room.CreatorID {
		loserID, loserFee = room.Opponent.UserID, room.OpponentEntryFee
	}

	now := c.clock.Now()
	loser, err := c.storage.UpdateUser(ctx, loserID, func(u *model.User) error {
		if !u.Apply(key, -min(loserFee, max(0, u.Credits))) {
			return storage.ErrSkipUpdate
		}
		u.UpdatedAt = now
		return nil
	})
	if err != nil {
		c.logger.Error("failed to debit loser",
			slog.String("room_id", string(room.ID)),
			slog.String("error", err.Error()))
		return 0, err
	}
	debited, _ := loser.Applied(key)
	collected := -debited

	if _, err := c.storage.UpdateUser(ctx, room.Winner, func(u *model.User) error {
		if !u.Apply(key, collected) {
			return storage.ErrSkipUpdate
		}
		u.UpdatedAt = now
		return nil
	}); err != nil {
		c.logger.Error("failed to credit winner",
			slog.String("room_id", string(room.ID)),
			slog.String("error", err.Error()))
		return 0, err
	}

	if collected < loserFee {
		c.logger.Warn("loser could not cover entry fee",
			slog.String("room_id", string(room.ID)),
			slog.String("user_id", string(loserID)),
			slog.Int64("entry_fee", loserFee),
			slog.Int64("collected", collected))
	}
	return collected, nil
}

func canSettle(r *model.Room, actor *model.User) error {
	if !r.IsParticipant(actor.ID) {
		return fmt.Errorf("%w: not a participant", model.ErrForbidden)
	}
	if r.Winner == "" {
		return fmt.Errorf("%w: no winner determined yet", model.ErrInvalidState)
	}
	return nil
}

func canAfford(u *model.User, fee int64) error {
	if u.Credits < fee {
		return fmt.Errorf("%w: %s has %d credits, entry fee is %d", model.ErrValidation, u.Name, u.Credits, fee)
	}
	return nil
}

func (c *Controller) checkCanInvite(ctx context.Context, actor *model.User, roomID model.RoomID) error {
	room, err := c.storage.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	return canInvite(room, actor)
}

func canInvite(r *model.Room, actor *model.User) error {
	if !r.IsCreator(actor.ID) {
		return fmt.Errorf("%w: only the creator can invite", model.ErrForbidden)
	}
	if r.Abandoned {
		return fmt.Errorf("%w: room was abandoned", model.ErrInvalidState)
	}
	if r.Opponent != nil {
		return fmt.Errorf("%w: room already has an opponent", model.ErrInvalidState)
	}
	return nil
}

func (c *Controller) publishUpdate(ctx context.Context, room *model.Room) {
	c.notifier.NotifyRoom(ctx, room.ID, model.RoomUpdatedPayload{
		RoomID: room.ID,
		Room:   room.Snapshot(),
	})
}

// Interface for dependency injection
type ControllerInterface interface {
	CreateRoom(ctx context.Context, actor *model.User, entryFee int64) (*model.Room, error)
	GetRoom(ctx context.Context, actor *model.User, roomID model.RoomID) (*model.Room, error)
	ListOpenRooms(ctx context.Context) ([]*model.Room, error)
	InviteByUserID(ctx context.Context, actor *model.User, roomID model.RoomID, targetID model.UserID) (*model.Room, error)
	InviteByEmail(ctx context.Context, actor *model.User, roomID model.RoomID, email string) (*model.Room, error)
	AcceptInvite(ctx context.Context, actor *model.User, roomID model.RoomID) (*model.Room, error)
	MarkReady(ctx context.Context, actor *model.User, roomID model.RoomID) (*model.Room, *model.SpinResolution, error)
	ResetRound(ctx context.Context, actor *model.User, roomID model.RoomID) (*model.Room, error)
	LeaveRoom(ctx context.Context, actor *model.User, roomID model.RoomID) (*model.Room, error)
	Settle(ctx context.Context, actor *model.User, roomID model.RoomID) (*model.Room, *Settlement, error)
}

var _ ControllerInterface = (*Controller)(nil)
