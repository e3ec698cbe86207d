// Package ratelimit enforces a minimum interval between a user's private
// interactions with the bot. Two backends are provided: an in-process map for
// single-instance deployments and a Redis key-per-user store shared between
// instances.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultCooldown is the interval the bot enforces between private messages.
const DefaultCooldown = 10 * time.Second

// Guard decides whether a user may interact again.
type Guard interface {
	// CanSend is true when the user has no recorded interaction or the
	// cooldown has fully elapsed since the last one.
	CanSend(ctx context.Context, userID string) bool
	// Remaining is the unelapsed cooldown rounded up to whole seconds.
	Remaining(ctx context.Context, userID string) time.Duration
	// Record stamps the user's last interaction with the current time.
	Record(ctx context.Context, userID string)
}

// Cooldown is the in-memory Guard. Entries are last-write-wins and never
// expire on their own; an entry older than the cooldown simply stops
// blocking.
type Cooldown struct {
	window time.Duration
	clock  func() time.Time

	mu   sync.RWMutex
	last map[string]time.Time
}

// NewCooldown returns an in-memory guard. A nil clock uses time.Now.
func NewCooldown(window time.Duration, clock func() time.Time) *Cooldown {
	if window <= 0 {
		window = DefaultCooldown
	}
	if clock == nil {
		clock = time.Now
	}
	return &Cooldown{
		window: window,
		clock:  clock,
		last:   make(map[string]time.Time),
	}
}

func (c *Cooldown) CanSend(_ context.Context, userID string) bool {
	c.mu.RLock()
	last, ok := c.last[userID]
	c.mu.RUnlock()
	if !ok {
		return true
	}
	return c.clock().Sub(last) >= c.window
}

func (c *Cooldown) Remaining(_ context.Context, userID string) time.Duration {
	c.mu.RLock()
	last, ok := c.last[userID]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	return ceilSeconds(c.window - c.clock().Sub(last))
}

func (c *Cooldown) Record(_ context.Context, userID string) {
	now := c.clock()
	c.mu.Lock()
	c.last[userID] = now
	c.mu.Unlock()
}

// ceilSeconds rounds d up to a whole number of seconds, flooring at zero.
func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	secs := (d + time.Second - 1) / time.Second
	return secs * time.Second
}
