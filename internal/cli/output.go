package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mcoot/spinroom/internal/api/response"
	"github.com/mcoot/spinroom/internal/model"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
	errW   io.Writer
}

// NewOutput creates a new Output formatter
func NewOutput(format string, w, errW io.Writer) *Output {
	return &Output{format: format, w: w, errW: errW}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		_, _ = fmt.Fprintln(o.errW, string(data))
	} else {
		_, _ = fmt.Fprintf(o.errW, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		_, _ = fmt.Fprintln(o.w, string(data))
	} else {
		_, _ = fmt.Fprintln(o.w, msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(o.w, format, args...)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case response.User:
		o.printUser(v)
	case response.PublicUser:
		o.printPublicUser(v)
	case response.AuthResponse:
		o.printAuth(v)
	case response.Room:
		o.printRoom(v)
	case []response.Room:
		o.printRooms(v)
	case response.ReadyResponse:
		o.printReady(v)
	case response.SettleResponse:
		o.printSettle(v)
	case response.NotificationsResponse:
		o.printNotifications(v)
	case response.HealthResponse:
		o.printHealth(v)
	case model.Event:
		o.printEvent(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

func (o *Output) printUser(u response.User) {
	o.printf("User: %s <%s> (%s)\n", u.Name, u.Email, u.ID)
	o.printf("Credits: %d\n", u.Credits)
}

func (o *Output) printPublicUser(u response.PublicUser) {
	o.printf("User: %s <%s> (%s)\n", u.Name, u.Email, u.ID)
}

func (o *Output) printAuth(a response.AuthResponse) {
	o.printUser(a.User)
	o.printf("Token expires: %s\n", a.ExpiresAt.Format(time.RFC3339))
}

func (o *Output) printRoom(r response.Room) {
	o.printf("Room: %s\n", r.ID)
	o.printf("Status: %s\n", r.Status)
	o.printf("Round: %d\n", r.Round)
	o.printf("Creator: %s (%s)", r.Creator.Name, r.Creator.UserID)
	if r.CreatorStarted {
		o.printf(" [started]")
	}
	o.printf("\n")
	if r.Opponent != nil {
		o.printf("Opponent: %s (%s)", r.Opponent.Name, r.Opponent.UserID)
		if r.OpponentStarted {
			o.printf(" [started]")
		}
		o.printf("\n")
	}
	if r.InvitedEmail != "" {
		o.printf("Invite pending: %s\n", r.InvitedEmail)
	}
	o.printf("Entry fee: %d\n", r.EntryFee)
	o.printf("Prize pool: %d\n", r.PrizePool)
	if r.Winner != "" {
		o.printf("Winner: %s (rotation %.1f)\n", r.Winner, r.FinalRotation)
		if r.Settled {
			o.printf("Settled: yes\n")
		}
	}
	if r.Abandoned {
		o.printf("Abandoned: yes\n")
	}
}

func (o *Output) printRooms(rooms []response.Room) {
	if len(rooms) == 0 {
		o.printf("No open rooms\n")
		return
	}
	o.printf("Open rooms (%d):\n", len(rooms))
	for _, r := range rooms {
		o.printf("  - %s by %s, fee %d\n", r.ID, r.Creator.Name, r.EntryFee)
	}
}

func (o *Output) printReady(r response.ReadyResponse) {
	o.printRoom(r.Room)
	if r.Resolution == nil {
		o.printf("Waiting for opponent\n")
		return
	}
	o.printf("Spin starts at: %s\n", time.UnixMilli(r.Resolution.SpinStartTime).Format(time.RFC3339Nano))
	o.printf("Result: %s wins\n", r.Resolution.WinnerName)
}

func (o *Output) printSettle(s response.SettleResponse) {
	if s.AlreadySettled {
		o.printf("Room %s was already settled\n", s.Room.ID)
		return
	}
	o.printf("Paid %d to %s (balance %d)\n", s.PrizePool, s.Winner, s.WinnerCredits)
}

func (o *Output) printNotifications(n response.NotificationsResponse) {
	if len(n.Notifications) == 0 {
		o.printf("No notifications\n")
	}
	for _, note := range n.Notifications {
		o.printf("[%d] %s %s\n", note.Timestamp, note.Type, string(note.Data))
	}
	o.printf("Cursor: %d\n", n.Cursor)
}

func (o *Output) printHealth(h response.HealthResponse) {
	o.printf("Status: %s\n", h.Status)
	o.printf("Connected users: %d (%d sockets)\n", h.ConnectedUsers, h.ConnectedSockets)
	o.printf("Room channels: %d\n", h.Rooms)
}

func (o *Output) printEvent(ev model.Event) {
	switch e := ev.(type) {
	case *model.UserInvitedPayload:
		o.printf("%s invited you to room %s\n", e.Creator.Name, e.RoomID)
	case *model.UserJoinedRoomPayload:
		o.printf("%s joined room %s\n", e.JoinedUser.Name, e.RoomID)
	case *model.UserSpinReadyPayload:
		o.printf("%s is ready in room %s\n", e.ReadyUserName, e.RoomID)
	case *model.SpinBothReadyPayload:
		o.printf("Room %s: %s wins (rotation %.1f)\n", e.RoomID, e.WinnerName, e.FinalRotation)
	case *model.GameResetPayload:
		o.printf("Room %s reset to round %d\n", e.RoomID, e.Room.Round)
	case *model.UserLeftRoomPayload:
		o.printf("%s left room %s\n", e.UserID, e.RoomID)
	case *model.RoomCreatedPayload:
		o.printf("%s opened room %s\n", e.CreatorName, e.RoomID)
	case *model.RoomUpdatedPayload:
		o.printf("Room %s is %s\n", e.RoomID, e.Room.Status)
	default:
		o.printf("%s\n", ev.EventType())
	}
}
