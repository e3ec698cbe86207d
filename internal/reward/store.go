package reward

import (
	"context"
	"time"
)

// State is the full ledger content: the pool in issue order and the usage
// records in issue order.
type State struct {
	Pool  []string
	Usage []UsageRecord
}

// Day is one local calendar day, [Start, End).
type Day struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether a usage timestamp falls inside the day.
func (d Day) Contains(issuedAtMs int64) bool {
	return issuedAtMs >= d.Start.UnixMilli() && issuedAtMs < d.End.UnixMilli()
}

// Store is the source of truth for the pool and the usage records. Every
// method is atomic against other callers of the same backing files or
// database, including other processes.
type Store interface {
	// Load returns a snapshot of the whole state.
	Load(ctx context.Context) (State, error)
	// Claim hands the pool head to userID, stamped at now, unless the user
	// already holds a record inside day. The usage record is durable no
	// later than the pool change.
	Claim(ctx context.Context, userID string, day Day, now time.Time) (Claim, error)
	// Restock appends code to the pool tail. A code already pooled or
	// issued inside day fails with ErrDuplicateCode.
	Restock(ctx context.Context, code string, day Day) error
	// Purge deletes usage records issued before cutoff.
	Purge(ctx context.Context, cutoff time.Time) error
}

// claimFrom applies a claim to an in-memory state. issued is true when st
// changed and must be written back.
func claimFrom(st *State, userID string, day Day, now time.Time) (c Claim, issued bool) {
	for _, r := range st.Usage {
		if r.UserID == userID && day.Contains(r.IssuedAt) {
			return Claim{Status: StatusAlreadyClaimed, Code: r.Code}, false
		}
	}
	if len(st.Pool) == 0 {
		return Claim{Status: StatusPoolExhausted}, false
	}
	rec := UsageRecord{UserID: userID, Code: st.Pool[0], IssuedAt: now.UnixMilli()}
	st.Pool = append([]string(nil), st.Pool[1:]...)
	st.Usage = append(append([]UsageRecord(nil), st.Usage...), rec)
	return Claim{Status: StatusIssued, Code: rec.Code}, true
}
