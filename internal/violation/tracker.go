// Package violation counts policy violations per (group, user, content type)
// over a trailing window and signals when a user should be removed from a
// group.
//
// Each key holds the timestamps of its violations. Entries older than the
// window are discarded on every read and write, so there is no background
// sweeper:
//
//	NORMAL --Record (count < threshold)--> NORMAL
//	NORMAL --Record (count >= threshold)--> ESCALATED
//	ESCALATED --caller kicks, then Reset--> NORMAL
package violation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultWindow is how far back violations are remembered.
	DefaultWindow = 24 * time.Hour

	DefaultTextThreshold  = 3
	DefaultImageThreshold = 1
)

// ContentType separates text and image violations; each has its own
// sequence and threshold.
type ContentType string

const (
	Text  ContentType = "text"
	Image ContentType = "image"
)

// ContentTypes lists every content type, in the order Reset clears them.
var ContentTypes = []ContentType{Text, Image}

// Key identifies one violation sequence.
type Key struct {
	GroupID string
	UserID  string
	Type    ContentType
}

func (k Key) String() string {
	return k.GroupID + ":" + k.UserID + ":" + string(k.Type)
}

// Store persists violation timestamps. Implementations prune entries at or
// beyond the window before counting.
type Store interface {
	// Append adds at to the sequence and returns the pruned length.
	Append(ctx context.Context, key Key, at time.Time, window time.Duration) (int, error)
	// Count prunes the sequence relative to now and returns its length.
	Count(ctx context.Context, key Key, now time.Time, window time.Duration) (int, error)
	// Clear removes every sequence of the (group, user) pair.
	Clear(ctx context.Context, groupID, userID string) error
}

// Config tunes the tracker. Zero values select the defaults.
type Config struct {
	Window         time.Duration
	TextThreshold  int
	ImageThreshold int
	Clock          func() time.Time
	Logger         *zap.Logger
}

// Tracker applies thresholds on top of a Store.
type Tracker struct {
	store      Store
	window     time.Duration
	thresholds map[ContentType]int
	clock      func() time.Time
	logger     *zap.Logger
}

// NewTracker creates a tracker over store.
func NewTracker(store Store, cfg Config) *Tracker {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.TextThreshold <= 0 {
		cfg.TextThreshold = DefaultTextThreshold
	}
	if cfg.ImageThreshold <= 0 {
		cfg.ImageThreshold = DefaultImageThreshold
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Tracker{
		store:  store,
		window: cfg.Window,
		thresholds: map[ContentType]int{
			Text:  cfg.TextThreshold,
			Image: cfg.ImageThreshold,
		},
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
}

// Record appends a violation and reports whether the user has reached the
// threshold for ct. On a store error no escalation is signalled.
func (t *Tracker) Record(ctx context.Context, groupID, userID string, ct ContentType) (bool, error) {
	key := Key{GroupID: groupID, UserID: userID, Type: ct}
	count, err := t.store.Append(ctx, key, t.clock(), t.window)
	if err != nil {
		t.logger.Warn("violation record failed", zap.Stringer("key", key), zap.Error(err))
		return false, fmt.Errorf("violation: record: %w", err)
	}

	threshold := t.Threshold(ct)
	escalate := count >= threshold
	t.logger.Debug("violation recorded",
		zap.Stringer("key", key),
		zap.Int("count", count),
		zap.Int("threshold", threshold),
		zap.Bool("escalate", escalate))
	return escalate, nil
}

// Count returns the number of violations of ct still inside the window.
func (t *Tracker) Count(ctx context.Context, groupID, userID string, ct ContentType) (int, error) {
	key := Key{GroupID: groupID, UserID: userID, Type: ct}
	n, err := t.store.Count(ctx, key, t.clock(), t.window)
	if err != nil {
		return 0, fmt.Errorf("violation: count: %w", err)
	}
	return n, nil
}

// Reset forgets every violation of the user in the group, text and image
// alike.
func (t *Tracker) Reset(ctx context.Context, groupID, userID string) error {
	if err := t.store.Clear(ctx, groupID, userID); err != nil {
		return fmt.Errorf("violation: reset: %w", err)
	}
	return nil
}

// Threshold returns the escalation threshold for ct. Unknown content types
// use the text threshold.
func (t *Tracker) Threshold(ct ContentType) int {
	if n, ok := t.thresholds[ct]; ok {
		return n
	}
	return t.thresholds[Text]
}
