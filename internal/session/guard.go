package session

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mcoot/spinroom/internal/model"
)

// DefaultRoundGuardSize bounds how many rounds a guard remembers
const DefaultRoundGuardSize = 256

type roundKey struct {
	roomID        model.RoomID
	spinStartTime int64
}

// RoundGuard runs a side effect at most once per round, however many times
// the round's events arrive
type RoundGuard struct {
	seen *lru.Cache[roundKey, struct{}]
}

// NewRoundGuard creates a guard remembering up to size rounds
func NewRoundGuard(size int) (*RoundGuard, error) {
	cache, err := lru.New[roundKey, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &RoundGuard{seen: cache}, nil
}

// Once runs fn unless it already ran for this round and reports whether it ran
func (g *RoundGuard) Once(roomID model.RoomID, spinStartTime int64, fn func()) bool {
	if seen, _ := g.seen.ContainsOrAdd(roundKey{roomID, spinStartTime}, struct{}{}); seen {
		return false
	}
	fn()
	return true
}
