package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests.
//
// Attribute bags are round-tripped through JSON on every read and write so
// values come back with the same types a database-backed store produces
// (numbers as float64).
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*User
	now   func() time.Time

	// Failure injection for tests. When set, the matching call returns the error.
	GetErr   error
	WriteErr error

	// AppWrites and UserWrites count successful metadata replacements.
	AppWrites  int
	UserWrites int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*User),
		now:   time.Now,
	}
}

// Put inserts or replaces a user.
func (s *MemoryStore) Put(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	u.AppMetadata = roundTrip(u.AppMetadata)
	u.UserMetadata = roundTrip(u.UserMetadata)
	s.users[u.ID] = &u
}

// GetUser implements Store.
func (s *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.GetErr != nil {
		return nil, s.GetErr
	}
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("get user %s: %w", id, ErrUserNotFound)
	}

	out := *u
	out.AppMetadata = roundTrip(u.AppMetadata)
	out.UserMetadata = roundTrip(u.UserMetadata)
	return &out, nil
}

// ReplaceAppMetadata implements Store.
func (s *MemoryStore) ReplaceAppMetadata(ctx context.Context, id string, attrs map[string]any) error {
	return s.replace(id, func(u *User) {
		u.AppMetadata = roundTrip(attrs)
		s.AppWrites++
	})
}

// MergeUserMetadata implements Store.
func (s *MemoryStore) MergeUserMetadata(ctx context.Context, id string, attrs map[string]any) error {
	return s.replace(id, func(u *User) {
		for k, v := range roundTrip(attrs) {
			u.UserMetadata[k] = v
		}
		s.UserWrites++
	})
}

// ConsumeDailyCounter implements Store.
func (s *MemoryStore) ConsumeDailyCounter(ctx context.Context, id, day string, limit int) (int, bool, error) {
	var (
		used int
		ok   bool
	)
	err := s.replace(id, func(u *User) {
		used = dailyCount(u.UserMetadata, day)
		if used >= limit {
			return
		}
		used++
		ok = true
		u.UserMetadata[AttrAIDate] = day
		u.UserMetadata[AttrAICount] = float64(used)
		s.UserWrites++
	})
	if err != nil {
		return 0, false, err
	}
	return used, ok, nil
}

// DeleteUser implements Store.
func (s *MemoryStore) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.WriteErr != nil {
		return s.WriteErr
	}
	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("delete user %s: %w", id, ErrUserNotFound)
	}
	delete(s.users, id)
	return nil
}

func (s *MemoryStore) replace(id string, apply func(u *User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.WriteErr != nil {
		return s.WriteErr
	}
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("update user %s: %w", id, ErrUserNotFound)
	}
	apply(u)
	u.UpdatedAt = s.now()
	return nil
}

func roundTrip(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	b, err := json.Marshal(in)
	if err != nil {
		return cloneAttrs(in)
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return cloneAttrs(in)
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
