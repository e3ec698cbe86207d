package violation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the Redis key prefix for violation sequences:
//
//	Key:    violations:<group>:<user>:<type>
//	Type:   sorted set, member = unique id, score = unix milliseconds
//	TTL:    the window, refreshed on every append
const KeyPrefix = "violations:"

// RedisStore keeps each sequence in a sorted set so several bot instances
// share one view of a user's history.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a store using the provided Redis client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(k Key) string {
	return KeyPrefix + k.String()
}

// cutoff is the highest score that falls outside the window.
func cutoff(now time.Time, window time.Duration) string {
	return strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
}

// Append prunes, adds and counts inside one MULTI so concurrent appends from
// other instances are serialized by Redis.
func (s *RedisStore) Append(ctx context.Context, key Key, at time.Time, window time.Duration) (int, error) {
	rk := redisKey(key)

	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, rk, "-inf", cutoff(at, window))
		pipe.ZAdd(ctx, rk, redis.Z{Score: float64(at.UnixMilli()), Member: uuid.NewString()})
		card = pipe.ZCard(ctx, rk)
		pipe.PExpire(ctx, rk, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis append %s: %w", rk, err)
	}
	return int(card.Val()), nil
}

func (s *RedisStore) Count(ctx context.Context, key Key, now time.Time, window time.Duration) (int, error) {
	rk := redisKey(key)

	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, rk, "-inf", cutoff(now, window))
		card = pipe.ZCard(ctx, rk)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis count %s: %w", rk, err)
	}
	return int(card.Val()), nil
}

func (s *RedisStore) Clear(ctx context.Context, groupID, userID string) error {
	keys := make([]string, 0, len(ContentTypes))
	for _, ct := range ContentTypes {
		keys = append(keys, redisKey(Key{GroupID: groupID, UserID: userID, Type: ct}))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis clear %s:%s: %w", groupID, userID, err)
	}
	return nil
}
