package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mcoot/spinroom/internal/model"
)

// MaxUpdateRetries bounds optimistic update attempts before giving up with
// model.ErrConflict
const MaxUpdateRetries = 10

// ErrSkipUpdate may be returned by a mutation to leave the record untouched.
// The update then succeeds and returns the stored record unchanged.
var ErrSkipUpdate = errors.New("skip update")

// RoomMutation mutates a private copy of a room inside an atomic update
type RoomMutation func(room *model.Room) error

// UserMutation mutates a private copy of a user inside an atomic update
type UserMutation func(user *model.User) error

// Storage defines the interface for data persistence. Returned records are
// copies owned by the caller.
type Storage interface {
	// User operations
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id model.UserID) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateUser(ctx context.Context, id model.UserID, fn UserMutation) (*model.User, error)

	// Room operations
	CreateRoom(ctx context.Context, room *model.Room) error
	GetRoom(ctx context.Context, id model.RoomID) (*model.Room, error)
	RoomExists(ctx context.Context, id model.RoomID) (bool, error)
	ListRooms(ctx context.Context) ([]*model.Room, error)

	// UpdateRoom applies fn as a single compare-and-swap on the room. fn may
	// run more than once if a concurrent update wins the race.
	UpdateRoom(ctx context.Context, id model.RoomID, fn RoomMutation) (*model.Room, error)

	// Token revocation. An entry only needs to outlive the token it names;
	// PruneRevokedTokens drops entries that expired at or before now.
	RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
	PruneRevokedTokens(ctx context.Context, now time.Time) (int, error)
}
