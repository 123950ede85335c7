package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/spinroom/internal/model"
	"github.com/mcoot/spinroom/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Storage{
		client: client,
		cfg:    cfg,
	}, nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Client exposes the underlying connection so other Redis-backed components
// can share the pool
func (s *Storage) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// User operations

func (s *Storage) CreateUser(ctx context.Context, user *model.User) error {
	u := *user
	u.Email = model.NormalizeEmail(u.Email)

	data, err := json.Marshal(&u)
	if err != nil {
		return err
	}

	// Claim the email first so two registrations cannot share it
	claimed, err := s.client.SetNX(ctx, emailIndexKey(u.Email), string(u.ID), 0).Result()
	if err != nil {
		return err
	}
	if !claimed {
		return model.ErrEmailTaken
	}

	return s.client.Set(ctx, userKey(u.ID), data, 0).Err()
}

func (s *Storage) GetUser(ctx context.Context, id model.UserID) (*model.User, error) {
	return getJSON[model.User](ctx, s.client, userKey(id), model.ErrUserNotFound)
}

func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	userID, err := s.client.Get(ctx, emailIndexKey(model.NormalizeEmail(email))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrUserNotFound
		}
		return nil, err
	}
	return s.GetUser(ctx, model.UserID(userID))
}

func (s *Storage) UpdateUser(ctx context.Context, id model.UserID, fn storage.UserMutation) (*model.User, error) {
	return updateJSON(ctx, s.client, userKey(id), 0, model.ErrUserNotFound, func(u *model.User) error {
		email := u.Email
		if err := fn(u); err != nil {
			return err
		}
		u.ID = id
		u.Email = email
		return nil
	})
}

// Room operations

func (s *Storage) CreateRoom(ctx context.Context, room *model.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}

	created, err := s.client.SetNX(ctx, roomKey(room.ID), data, s.cfg.RoomTTL).Result()
	if err != nil {
		return err
	}
	if !created {
		return model.ErrConflict
	}

	return s.client.SAdd(ctx, roomsIndexKey(), string(room.ID)).Err()
}

func (s *Storage) GetRoom(ctx context.Context, id model.RoomID) (*model.Room, error) {
	return getJSON[model.Room](ctx, s.client, roomKey(id), model.ErrRoomNotFound)
}

func (s *Storage) RoomExists(ctx context.Context, id model.RoomID) (bool, error) {
	n, err := s.client.Exists(ctx, roomKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Storage) ListRooms(ctx context.Context) ([]*model.Room, error) {
	ids, err := s.client.SMembers(ctx, roomsIndexKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*model.Room{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = roomKey(model.RoomID(id))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	rooms := make([]*model.Room, 0, len(values))
	var expired []any
	for i, v := range values {
		if v == nil {
			expired = append(expired, ids[i])
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		var room model.Room
		if err := json.Unmarshal([]byte(str), &room); err != nil {
			return nil, err
		}
		rooms = append(rooms, &room)
	}

	// Drop index entries whose room has expired
	if len(expired) > 0 {
		if err := s.client.SRem(ctx, roomsIndexKey(), expired...).Err(); err != nil {
			return nil, err
		}
	}

	return rooms, nil
}

// UpdateRoom runs fn inside a WATCH/MULTI transaction on the room key and
// retries when another writer commits first
func (s *Storage) UpdateRoom(ctx context.Context, id model.RoomID, fn storage.RoomMutation) (*model.Room, error) {
	return updateJSON(ctx, s.client, roomKey(id), s.cfg.RoomTTL, model.ErrRoomNotFound, func(r *model.Room) error {
		version := r.Version
		if err := fn(r); err != nil {
			return err
		}
		r.ID = id
		r.Version = version + 1
		return nil
	})
}

// Helpers

func getJSON[T any](ctx context.Context, client *redis.Client, key string, notFound error) (*T, error) {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound
		}
		return nil, err
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func updateJSON[T any](
	ctx context.Context,
	client *redis.Client,
	key string,
	ttl time.Duration,
	notFound error,
	mutate func(*T) error,
) (*T, error) {
	var result *T

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return notFound
			}
			return err
		}

		var next T
		if err := json.Unmarshal(data, &next); err != nil {
			return err
		}

		if err := mutate(&next); err != nil {
			if !errors.Is(err, storage.ErrSkipUpdate) {
				return err
			}
			var unchanged T
			if err := json.Unmarshal(data, &unchanged); err != nil {
				return err
			}
			result = &unchanged
			return nil
		}

		out, err := json.Marshal(&next)
		if err != nil {
			return err
		}

		// EXEC fails with TxFailedErr if the key changed since WATCH
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = &next
		return nil
	}

	for i := 0; i < storage.MaxUpdateRetries; i++ {
		err := client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, model.ErrConflict
}

// Token revocation

func (s *Storage) RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	return s.client.ZAdd(ctx, revokedTokensKey(), redis.Z{
		Score:  float64(expiresAt.UnixMilli()),
		Member: tokenID,
	}).Err()
}

func (s *Storage) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := s.client.ZScore(ctx, revokedTokensKey(), tokenID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Storage) PruneRevokedTokens(ctx context.Context, now time.Time) (int, error) {
	pruned, err := s.client.ZRemRangeByScore(ctx, revokedTokensKey(),
		"-inf", strconv.FormatInt(now.UnixMilli(), 10)).Result()
	return int(pruned), err
}
