package model

import (
	"fmt"
	"time"
)

// RoomID uniquely identifies a room
type RoomID string

// RoomStatus represents where a room is in its round lifecycle
type RoomStatus string

const (
	RoomStatusWaiting   RoomStatus = "waiting"   // Fewer than two participants, or a fresh round
	RoomStatusReady     RoomStatus = "ready"     // Two participants attached, neither started
	RoomStatusSpinning  RoomStatus = "spinning"  // One participant started
	RoomStatusCompleted RoomStatus = "completed" // Winner resolved
)

const (
	// DefaultEntryFee is used when a room is created without an explicit fee
	DefaultEntryFee int64 = 100
	// MaxEntryFee bounds the fee a creator may ask for
	MaxEntryFee int64 = 1_000_000
	// SpinLeadTime is how far in the future synchronized spins start
	SpinLeadTime = 500 * time.Millisecond
	// SpinDuration is how long clients animate the wheel
	SpinDuration = 5 * time.Second
)

// Participant is the public identity of a room member
type Participant struct {
	UserID UserID `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// Room is a two-participant spin session
type Room struct {
	ID           RoomID
	CreatorID    UserID
	CreatorName  string
	CreatorEmail string

	// Opponent is set on a direct invite, or on an email invite before it
	// is accepted (InvitedEmail is non-empty until then)
	Opponent     *Participant
	InvitedEmail string

	CreatorStarted  bool
	OpponentStarted bool

	Winner        UserID
	FinalRotation float64
	SpinStartTime int64 // unix ms

	Status           RoomStatus
	EntryFee         int64
	OpponentEntryFee int64
	Settled          bool

	Abandoned   bool
	AbandonedBy UserID

	Round     int
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SpinResolution is the outcome computed once both participants are ready
type SpinResolution struct {
	Winner        UserID
	WinnerName    string
	FinalRotation float64
	SpinStartTime int64
}

// Clone returns a deep copy of the room
func (r *Room) Clone() *Room {
	c := *r
	if r.Opponent != nil {
		opp := *r.Opponent
		c.Opponent = &opp
	}
	return &c
}

// IsCreator reports whether the user created the room
func (r *Room) IsCreator(id UserID) bool {
	return r.CreatorID == id
}

// HasPendingInvite reports whether an email invite is waiting for acceptance
func (r *Room) HasPendingInvite() bool {
	return r.InvitedEmail != ""
}

// Paired reports whether a second participant is attached and accepted
func (r *Room) Paired() bool {
	return r.Opponent != nil && !r.HasPendingInvite()
}

// IsOpponent reports whether the user is the attached, accepted opponent
func (r *Room) IsOpponent(id UserID) bool {
	return r.Paired() && r.Opponent.UserID == id
}

// IsParticipant reports whether the user takes part in the room's rounds
func (r *Room) IsParticipant(id UserID) bool {
	return r.IsCreator(id) || r.IsOpponent(id)
}

// IsInvitee reports whether the user holds the room's outstanding invite
func (r *Room) IsInvitee(id UserID) bool {
	return r.HasPendingInvite() && r.Opponent != nil && r.Opponent.UserID == id
}

// CanView reports whether the user may read the room
func (r *Room) CanView(id UserID) bool {
	return r.IsParticipant(id) || r.IsInvitee(id)
}

// Creator returns the creator's public identity
func (r *Room) Creator() Participant {
	return Participant{
		UserID: r.CreatorID,
		Name:   r.CreatorName,
		Email:  r.CreatorEmail,
	}
}

// Other returns the participant opposite the given user, if any
func (r *Room) Other(id UserID) (Participant, bool) {
	switch {
	case r.IsCreator(id) && r.Opponent != nil:
		return *r.Opponent, true
	case r.Opponent != nil && r.Opponent.UserID == id:
		return r.Creator(), true
	}
	return Participant{}, false
}

// ParticipantIDs returns the ids that should receive round events
func (r *Room) ParticipantIDs() []UserID {
	ids := []UserID{r.CreatorID}
	if r.Paired() {
		ids = append(ids, r.Opponent.UserID)
	}
	return ids
}

// NameOf returns the display name of a participant
func (r *Room) NameOf(id UserID) string {
	if r.IsCreator(id) {
		return r.CreatorName
	}
	if r.Opponent != nil && r.Opponent.UserID == id {
		return r.Opponent.Name
	}
	return ""
}

// PrizePool is the total credited to the winner of a round
func (r *Room) PrizePool() int64 {
	return r.EntryFee + r.OpponentEntryFee
}

// SettlementKey identifies the current round's payout in user ledgers
func (r *Room) SettlementKey() string {
	return fmt.Sprintf("%s#%d", r.ID, r.Round)
}

// IsOpen reports whether the room can still be joined
func (r *Room) IsOpen() bool {
	return r.Status == RoomStatusWaiting && r.Opponent == nil && !r.Abandoned
}

// Resolution returns the spin outcome, or nil if the round is unresolved
func (r *Room) Resolution() *SpinResolution {
	if r.Winner == "" {
		return nil
	}
	return &SpinResolution{
		Winner:        r.Winner,
		WinnerName:    r.NameOf(r.Winner),
		FinalRotation: r.FinalRotation,
		SpinStartTime: r.SpinStartTime,
	}
}
