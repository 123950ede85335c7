package response

import (
	"time"

	"github.com/samber/lo"

	"github.com/mcoot/spinroom/internal/model"
	"github.com/mcoot/spinroom/internal/services/auth"
	"github.com/mcoot/spinroom/internal/services/room"
)

// User is the authenticated user's own view of their account
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Credits   int64     `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
}

// UserFromModel converts a model.User
func UserFromModel(u *model.User) User {
	return User{
		ID:        string(u.ID),
		Email:     u.Email,
		Name:      u.Name,
		Credits:   u.Credits,
		CreatedAt: u.CreatedAt,
	}
}

// PublicUser is what other users may see of an account
type PublicUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// PublicUserFromModel converts a model.User
func PublicUserFromModel(u *model.User) PublicUser {
	return PublicUser{
		ID:    string(u.ID),
		Email: u.Email,
		Name:  u.Name,
	}
}

// AuthResponse is the response for register and login
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// AuthResponseFromSession creates an AuthResponse from a session
func AuthResponseFromSession(s *auth.Session) AuthResponse {
	return AuthResponse{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		User:      UserFromModel(s.User),
	}
}

// Participant is a room member
type Participant struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

func participantFromModel(p model.Participant) Participant {
	return Participant{
		UserID: string(p.UserID),
		Name:   p.Name,
		Email:  p.Email,
	}
}

// Room represents a room in API responses
type Room struct {
	ID               string       `json:"id"`
	Status           string       `json:"status"`
	Creator          Participant  `json:"creator"`
	Opponent         *Participant `json:"opponent,omitempty"`
	InvitedEmail     string       `json:"invited_email,omitempty"`
	CreatorStarted   bool         `json:"creator_started"`
	OpponentStarted  bool         `json:"opponent_started"`
	Winner           string       `json:"winner,omitempty"`
	FinalRotation    float64      `json:"final_rotation,omitempty"`
	SpinStartTime    int64        `json:"spin_start_time,omitempty"`
	EntryFee         int64        `json:"entry_fee"`
	OpponentEntryFee int64        `json:"opponent_entry_fee,omitempty"`
	PrizePool        int64        `json:"prize_pool"`
	Settled          bool         `json:"settled"`
	Abandoned        bool         `json:"abandoned"`
	Round            int          `json:"round"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// RoomFromModel converts a model.Room
func RoomFromModel(r *model.Room) Room {
	resp := Room{
		ID:               string(r.ID),
		Status:           string(r.Status),
		Creator:          participantFromModel(r.Creator()),
		InvitedEmail:     r.InvitedEmail,
		CreatorStarted:   r.CreatorStarted,
		OpponentStarted:  r.OpponentStarted,
		Winner:           string(r.Winner),
		FinalRotation:    r.FinalRotation,
		SpinStartTime:    r.SpinStartTime,
		EntryFee:         r.EntryFee,
		OpponentEntryFee: r.OpponentEntryFee,
		PrizePool:        r.PrizePool(),
		Settled:          r.Settled,
		Abandoned:        r.Abandoned,
		Round:            r.Round,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.Opponent != nil {
		p := participantFromModel(*r.Opponent)
		resp.Opponent = &p
	}
	return resp
}

// RoomsFromModel converts a room list
func RoomsFromModel(rooms []*model.Room) []Room {
	return lo.Map(rooms, func(r *model.Room, _ int) Room {
		return RoomFromModel(r)
	})
}

// Resolution is the outcome of a round
type Resolution struct {
	Winner        string  `json:"winner"`
	WinnerName    string  `json:"winner_name"`
	FinalRotation float64 `json:"final_rotation"`
	SpinStartTime int64   `json:"spin_start_time"`
}

// ReadyResponse is returned by MarkReady
type ReadyResponse struct {
	Room       Room        `json:"room"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

// ReadyResponseFromModel builds a ReadyResponse; res is nil until both
// participants have started
func ReadyResponseFromModel(r *model.Room, res *model.SpinResolution) ReadyResponse {
	resp := ReadyResponse{Room: RoomFromModel(r)}
	if res != nil {
		resp.Resolution = &Resolution{
			Winner:        string(res.Winner),
			WinnerName:    res.WinnerName,
			FinalRotation: res.FinalRotation,
			SpinStartTime: res.SpinStartTime,
		}
	}
	return resp
}

// SettleResponse is returned by Settle
type SettleResponse struct {
	Room           Room   `json:"room"`
	PrizePool      int64  `json:"prize_pool"`
	Winner         string `json:"winner"`
	WinnerCredits  int64  `json:"winner_credits"`
	AlreadySettled bool   `json:"already_settled"`
}

// SettleResponseFromModel builds a SettleResponse
func SettleResponseFromModel(r *model.Room, s *room.Settlement) SettleResponse {
	return SettleResponse{
		Room:           RoomFromModel(r),
		PrizePool:      s.PrizePool,
		Winner:         string(s.Winner),
		WinnerCredits:  s.WinnerCredits,
		AlreadySettled: s.AlreadySettled,
	}
}

// NotificationsResponse is returned by the polling endpoint
type NotificationsResponse struct {
	Notifications []model.Notification `json:"notifications"`
	Cursor        int64                `json:"cursor"`
}

// HealthResponse reports liveness and live channel usage
type HealthResponse struct {
	Status           string `json:"status"`
	ConnectedUsers   int    `json:"connected_users"`
	ConnectedSockets int    `json:"connected_sockets"`
	Rooms            int    `json:"rooms"`
}
