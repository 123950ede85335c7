package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mcoot/spinroom/internal/dependencies/clock"
	"github.com/mcoot/spinroom/internal/model"
)

const keyPrefix = "spinroom"

// enqueueScript assigns max(now, last+1) as the entry's score so timestamps
// stay strictly increasing across replicas.
// KEYS[1] mailbox zset, KEYS[2] last timestamp
// ARGV[1] now ms, ARGV[2] member, ARGV[3] ttl ms
var enqueueScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local last = tonumber(redis.call('GET', KEYS[2]) or '0')
local ts = now
if ts <= last then
	ts = last + 1
end
redis.call('SET', KEYS[2], ts, 'PX', ARGV[3])
redis.call('ZADD', KEYS[1], ts, ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return ts
`)

// RedisConfig holds settings for the Redis mailbox
type RedisConfig struct {
	// TTL bounds how long an unpolled mailbox is kept
	TTL time.Duration
}

// DefaultRedisConfig returns the default Redis mailbox settings
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		TTL: time.Hour,
	}
}

// Redis is a mailbox shared by every server replica
type Redis struct {
	client *redis.Client
	clock  clock.Clock
	cfg    RedisConfig
}

// NewRedis creates a mailbox on an existing client
func NewRedis(client *redis.Client, clk clock.Clock, cfg RedisConfig) *Redis {
	return &Redis{
		client: client,
		clock:  clk,
		cfg:    cfg,
	}
}

var _ Mailbox = (*Redis)(nil)

// entry is the stored member. Nonce keeps identical payloads distinct.
type entry struct {
	Type  model.EventType `json:"type"`
	Data  json.RawMessage `json:"data"`
	Nonce string          `json:"nonce"`
}

func mailboxKey(userID model.UserID) string {
	return fmt.Sprintf("%s:mailbox:%s", keyPrefix, userID)
}

func lastTimestampKey(userID model.UserID) string {
	return fmt.Sprintf("%s:mailbox:%s:last", keyPrefix, userID)
}

func (r *Redis) Enqueue(ctx context.Context, userID model.UserID, ev model.Event) (model.Notification, error) {
	env, err := model.NewEnvelope(ev)
	if err != nil {
		return model.Notification{}, err
	}

	member, err := json.Marshal(entry{Type: env.Type, Data: env.Data, Nonce: uuid.NewString()})
	if err != nil {
		return model.Notification{}, err
	}

	ts, err := enqueueScript.Run(ctx, r.client,
		[]string{mailboxKey(userID), lastTimestampKey(userID)},
		clock.NowMillis(r.clock), string(member), r.cfg.TTL.Milliseconds(),
	).Int64()
	if err != nil {
		return model.Notification{}, fmt.Errorf("enqueue for %s: %w", userID, err)
	}

	return model.Notification{
		Type:      env.Type,
		Data:      env.Data,
		Timestamp: ts,
	}, nil
}

func (r *Redis) DrainSince(ctx context.Context, userID model.UserID, since int64) ([]model.Notification, error) {
	key := mailboxKey(userID)
	bound := strconv.FormatInt(since, 10)

	var pending *redis.ZSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", bound)
		pending = pipe.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
			Min: "(" + bound,
			Max: "+inf",
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain for %s: %w", userID, err)
	}

	out := make([]model.Notification, 0, len(pending.Val()))
	for _, z := range pending.Val() {
		raw, ok := z.Member.(string)
		if !ok {
			continue
		}
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode mailbox entry: %w", err)
		}
		out = append(out, model.Notification{
			Type:      e.Type,
			Data:      e.Data,
			Timestamp: int64(z.Score),
		})
	}
	return out, nil
}
