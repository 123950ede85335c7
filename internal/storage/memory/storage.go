package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mcoot/spinroom/internal/model"
	"github.com/mcoot/spinroom/internal/storage"
)

// Storage is an in-memory implementation of the storage interface
type Storage struct {
	mu sync.RWMutex

	users      map[model.UserID]*model.User
	emailIndex map[string]model.UserID
	rooms      map[model.RoomID]*model.Room
	revoked    map[string]time.Time
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		users:      make(map[model.UserID]*model.User),
		emailIndex: make(map[string]model.UserID),
		rooms:      make(map[model.RoomID]*model.Room),
		revoked:    make(map[string]time.Time),
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// User operations

func (s *Storage) CreateUser(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := model.NormalizeEmail(user.Email)
	if _, ok := s.emailIndex[email]; ok {
		return model.ErrEmailTaken
	}
	u := user.Clone()
	u.Email = email
	s.users[u.ID] = u
	s.emailIndex[email] = u.ID
	return nil
}

func (s *Storage) GetUser(ctx context.Context, id model.UserID) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	return user.Clone(), nil
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emailIndex[model.NormalizeEmail(email)]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	user, ok := s.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	return user.Clone(), nil
}

func (s *Storage) UpdateUser(ctx context.Context, id model.UserID, fn storage.UserMutation) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	u := user.Clone()
	if err := fn(u); err != nil {
		if errors.Is(err, storage.ErrSkipUpdate) {
			return user.Clone(), nil
		}
		return nil, err
	}
	// Identity fields are immutable
	u.ID = user.ID
	u.Email = user.Email
	s.users[id] = u
	return u.Clone(), nil
}

// Room operations

func (s *Storage) CreateRoom(ctx context.Context, room *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; ok {
		return model.ErrConflict
	}
	s.rooms[room.ID] = room.Clone()
	return nil
}

func (s *Storage) GetRoom(ctx context.Context, id model.RoomID) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, model.ErrRoomNotFound
	}
	return room.Clone(), nil
}

func (s *Storage) RoomExists(ctx context.Context, id model.RoomID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[id]
	return ok, nil
}

func (s *Storage) ListRooms(ctx context.Context) ([]*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]*model.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room.Clone())
	}
	return rooms, nil
}

// UpdateRoom holds the write lock for the whole read-modify-write, so the
// version can never move underneath fn
func (s *Storage) UpdateRoom(ctx context.Context, id model.RoomID, fn storage.RoomMutation) (*model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rooms[id]
	if !ok {
		return nil, model.ErrRoomNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, storage.ErrSkipUpdate) {
			return current.Clone(), nil
		}
		return nil, err
	}
	next.ID = current.ID
	next.Version = current.Version + 1
	s.rooms[id] = next
	return next.Clone(), nil
}

// Token revocation

func (s *Storage) RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[tokenID] = expiresAt
	return nil
}

func (s *Storage) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revoked[tokenID]
	return ok, nil
}

func (s *Storage) PruneRevokedTokens(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for id, expires := range s.revoked {
		if !expires.After(now) {
			delete(s.revoked, id)
			pruned++
		}
	}
	return pruned, nil
}
