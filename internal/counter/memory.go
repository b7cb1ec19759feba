package counter

import (
	"context"
	"sync"

	"github.com/DukeRupert/dentaistudy/internal/domain"
)

// MemoryStore keeps counters in process. State is lost on restart and not
// shared between instances, which is acceptable for an advisory limit.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]domain.QuotaCounter

	// Err, when set, is returned from every call.
	Err error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]domain.QuotaCounter)}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key, day string) (domain.QuotaCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return domain.QuotaCounter{}, s.Err
	}
	return s.load(key).ForDay(day), nil
}

// ConsumeUpTo implements Store.
func (s *MemoryStore) ConsumeUpTo(ctx context.Context, key, day string, limit int) (domain.QuotaCounter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return domain.QuotaCounter{}, false, s.Err
	}
	c := s.load(key).ForDay(day)
	if c.Used >= limit {
		return c, false, nil
	}
	c.Used++
	s.rows[key] = c
	return c, true, nil
}

// Set overwrites a row. Used by tests to seed yesterday's usage.
func (s *MemoryStore) Set(c domain.QuotaCounter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[c.SubjectID] = c
}

func (s *MemoryStore) load(key string) domain.QuotaCounter {
	c, ok := s.rows[key]
	if !ok {
		return domain.QuotaCounter{SubjectID: key}
	}
	return c
}

var _ Store = (*MemoryStore)(nil)
