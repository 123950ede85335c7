package redis

import (
	"fmt"

	"github.com/mcoot/spinroom/internal/model"
)

// Key prefix for all spinroom data
const keyPrefix = "spinroom"

// userKey returns the Redis key for a User
func userKey(id model.UserID) string {
	return fmt.Sprintf("%s:user:%s", keyPrefix, id)
}

// emailIndexKey returns the Redis key for the email -> user_id index
func emailIndexKey(email string) string {
	return fmt.Sprintf("%s:idx:email:%s", keyPrefix, email)
}

// roomKey returns the Redis key for a Room
func roomKey(id model.RoomID) string {
	return fmt.Sprintf("%s:room:%s", keyPrefix, id)
}

// roomsIndexKey returns the Redis key for the SET of all room ids
func roomsIndexKey() string {
	return fmt.Sprintf("%s:idx:rooms", keyPrefix)
}

// revokedTokensKey returns the Redis key for the ZSET of revoked token ids,
// scored by expiry in unix ms
func revokedTokensKey() string {
	return fmt.Sprintf("%s:revoked", keyPrefix)
}
