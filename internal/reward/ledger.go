// Package reward hands out one-time codes from a finite pool, at most one per
// user per local calendar day.
//
// The ledger holds no copy of the pool. Every operation goes to the Store,
// which serializes writers across processes, so a CLI restock and several
// bot replicas can share one pool.
package reward

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrInvalidCode is returned by Restock for an empty code.
	ErrInvalidCode = errors.New("reward: invalid code")
	// ErrDuplicateCode is returned by Restock for a code that is already in
	// the pool or was issued today.
	ErrDuplicateCode = errors.New("reward: duplicate code")
)

// Status is the outcome of a claim.
type Status int

const (
	StatusIssued Status = iota + 1
	StatusAlreadyClaimed
	StatusPoolExhausted
)

func (s Status) String() string {
	switch s {
	case StatusIssued:
		return "issued"
	case StatusAlreadyClaimed:
		return "already_claimed"
	case StatusPoolExhausted:
		return "pool_exhausted"
	default:
		return "unknown"
	}
}

// Claim is the result of Ledger.Claim. Code is set for StatusIssued and
// StatusAlreadyClaimed.
type Claim struct {
	Status Status
	Code   string
}

// UsageRecord notes that a code was issued to a user.
type UsageRecord struct {
	UserID   string `json:"userId"`
	Code     string `json:"code"`
	IssuedAt int64  `json:"issuedAtEpochMs"`
}

// Config carries the ledger's collaborators. Zero values pick local time,
// time.Now and a no-op logger.
type Config struct {
	Location *time.Location
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Ledger is safe for concurrent use.
type Ledger struct {
	store  Store
	loc    *time.Location
	clock  func() time.Time
	logger *zap.Logger

	mu       sync.Mutex
	purgedAt time.Time // start of the last day purged
}

// NewLedger checks that store is readable and returns a ledger over it.
func NewLedger(ctx context.Context, store Store, cfg Config) (*Ledger, error) {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	st, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("reward: load: %w", err)
	}

	l := &Ledger{
		store:  store,
		loc:    cfg.Location,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
	l.logger.Info("reward ledger opened",
		zap.Int("pool", len(st.Pool)),
		zap.Int("usage", len(st.Usage)))
	return l, nil
}

// day is the local calendar day containing now. The end is the next local
// midnight rather than now: a record stamped by a replica whose clock runs
// slightly ahead still counts as today.
func (l *Ledger) day(now time.Time) Day {
	local := now.In(l.loc)
	y, m, d := local.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, l.loc)
	return Day{Start: start, End: start.AddDate(0, 0, 1)}
}

// purge drops usage records from previous days, once per day. Stale records
// are ignored by every day check, so a failed purge is only logged.
func (l *Ledger) purge(ctx context.Context, day Day) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.purgedAt.Equal(day.Start) {
		return
	}
	if err := l.store.Purge(ctx, day.Start); err != nil {
		l.logger.Warn("usage purge not persisted", zap.Error(err))
		return
	}
	l.purgedAt = day.Start
}

func (l *Ledger) issued(ctx context.Context, userID string, day Day) (UsageRecord, bool, error) {
	st, err := l.store.Load(ctx)
	if err != nil {
		return UsageRecord{}, false, fmt.Errorf("reward: load: %w", err)
	}
	for _, rec := range st.Usage {
		if rec.UserID == userID && day.Contains(rec.IssuedAt) {
			return rec, true, nil
		}
	}
	return UsageRecord{}, false, nil
}

// CanClaim reports whether the user has not yet received a code today.
func (l *Ledger) CanClaim(ctx context.Context, userID string) (bool, error) {
	day := l.day(l.clock())
	l.purge(ctx, day)
	_, claimed, err := l.issued(ctx, userID, day)
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

// IssuedToday returns the code the user received today, if any.
func (l *Ledger) IssuedToday(ctx context.Context, userID string) (string, bool, error) {
	rec, ok, err := l.issued(ctx, userID, l.day(l.clock()))
	return rec.Code, ok, err
}

// Claim issues the head of the pool to the user. A user who already claimed
// today gets StatusAlreadyClaimed with the same code; an empty pool yields
// StatusPoolExhausted. The error is non-nil only when the store failed, in
// which case nothing changed.
func (l *Ledger) Claim(ctx context.Context, userID string) (Claim, error) {
	now := l.clock()
	day := l.day(now)
	l.purge(ctx, day)

	c, err := l.store.Claim(ctx, userID, day, now)
	if err != nil {
		l.logger.Error("code issue not persisted",
			zap.String("user_id", userID), zap.Error(err))
		return Claim{}, fmt.Errorf("reward: claim: %w", err)
	}
	if c.Status == StatusIssued {
		l.logger.Info("code issued",
			zap.String("user_id", userID),
			zap.String("code", c.Code))
	}
	return c, nil
}

// Restock appends code to the tail of the pool.
func (l *Ledger) Restock(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrInvalidCode
	}
	day := l.day(l.clock())
	l.purge(ctx, day)

	err := l.store.Restock(ctx, code, day)
	if err != nil && !errors.Is(err, ErrDuplicateCode) {
		return fmt.Errorf("reward: restock: %w", err)
	}
	return err
}

// Remaining is the number of codes left in the pool.
func (l *Ledger) Remaining(ctx context.Context) (int, error) {
	pool, err := l.Pool(ctx)
	return len(pool), err
}

// Pool returns the pool in issue order.
func (l *Ledger) Pool(ctx context.Context) ([]string, error) {
	st, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("reward: load: %w", err)
	}
	return st.Pool, nil
}
