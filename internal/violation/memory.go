package violation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sequences in a map guarded by one mutex. Every operation
// is a single short critical section, so concurrent events for the same key
// cannot lose updates.
type MemoryStore struct {
	mu   sync.Mutex
	seqs map[Key][]time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seqs: make(map[Key][]time.Time)}
}

func (s *MemoryStore) Append(_ context.Context, key Key, at time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := prune(s.seqs[key], at, window)
	seq = append(seq, at)
	s.seqs[key] = seq
	return len(seq), nil
}

func (s *MemoryStore) Count(_ context.Context, key Key, now time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.seqs[key]
	if !ok {
		return 0, nil
	}
	seq = prune(seq, now, window)
	if len(seq) == 0 {
		delete(s.seqs, key)
		return 0, nil
	}
	s.seqs[key] = seq
	return len(seq), nil
}

func (s *MemoryStore) Clear(_ context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ct := range ContentTypes {
		delete(s.seqs, Key{GroupID: groupID, UserID: userID, Type: ct})
	}
	return nil
}

// prune drops the leading entries that are window or more older than now.
// Sequences are appended in time order, so the survivors are a suffix.
func prune(seq []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(seq) && now.Sub(seq[i]) >= window {
		i++
	}
	if i == 0 {
		return seq
	}
	return append(seq[:0:0], seq[i:]...)
}
