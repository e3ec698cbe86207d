package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KeyPrefix namespaces cooldown entries in Redis:
//
//	Key:   cooldown:<userID>
//	Value: last interaction, unix milliseconds
//	TTL:   the cooldown window
//
// The TTL only keeps the keyspace small; CanSend still compares timestamps so
// a key that outlives its window never blocks.
const KeyPrefix = "cooldown:"

// RedisCooldown is a Guard shared by every bot instance using the same Redis.
// On Redis errors it fails open so an outage does not silence the bot.
type RedisCooldown struct {
	client redis.Cmdable
	window time.Duration
	clock  func() time.Time
	logger *zap.Logger
}

// NewRedisCooldown creates a RedisCooldown backed by client.
func NewRedisCooldown(client redis.Cmdable, window time.Duration, clock func() time.Time, logger *zap.Logger) *RedisCooldown {
	if window <= 0 {
		window = DefaultCooldown
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCooldown{client: client, window: window, clock: clock, logger: logger}
}

// last returns the stored interaction time, or ok=false when there is none or
// Redis could not be read.
func (r *RedisCooldown) last(ctx context.Context, userID string) (time.Time, bool) {
	key := KeyPrefix + userID
	raw, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false
	}
	if err != nil {
		r.logger.Warn("redis GET failed, failing open", zap.String("key", key), zap.Error(err))
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		r.logger.Warn("corrupt cooldown entry", zap.String("key", key), zap.String("value", raw))
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (r *RedisCooldown) CanSend(ctx context.Context, userID string) bool {
	last, ok := r.last(ctx, userID)
	if !ok {
		return true
	}
	return r.clock().Sub(last) >= r.window
}

func (r *RedisCooldown) Remaining(ctx context.Context, userID string) time.Duration {
	last, ok := r.last(ctx, userID)
	if !ok {
		return 0
	}
	return ceilSeconds(r.window - r.clock().Sub(last))
}

func (r *RedisCooldown) Record(ctx context.Context, userID string) {
	key := KeyPrefix + userID
	now := r.clock().UnixMilli()
	if err := r.client.Set(ctx, key, now, r.window).Err(); err != nil {
		r.logger.Warn("redis SET failed, cooldown not recorded", zap.String("key", key), zap.Error(err))
	}
}
