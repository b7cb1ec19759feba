// Package identity adapts the user record owned by the identity provider.
//
// A user carries two free-form attribute bags. App metadata is server-owned
// and holds the entitlement. User metadata holds profile fields and the AI
// usage counter. Writes replace one bag as a whole, so callers must read
// immediately before writing and merge.
package identity

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrUserNotFound is returned when no user exists with the given id.
var ErrUserNotFound = errors.New("user not found")

// User metadata keys of the daily AI counter.
const (
	AttrAIDate  = "ai_date"
	AttrAICount = "ai_count"
)

// User is the subject record as exposed by the identity provider.
type User struct {
	ID           string
	Email        string
	AppMetadata  map[string]any
	UserMetadata map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store reads and writes user records.
//
// Implementations return errors wrapping domain.ErrTransient for failures
// that are safe to retry (connection loss, timeouts).
type Store interface {
	// GetUser returns the user with the given id or ErrUserNotFound.
	GetUser(ctx context.Context, id string) (*User, error)

	// ReplaceAppMetadata overwrites the app metadata bag.
	ReplaceAppMetadata(ctx context.Context, id string, attrs map[string]any) error

	// MergeUserMetadata sets the given keys in the user metadata bag and
	// leaves every other key untouched.
	MergeUserMetadata(ctx context.Context, id string, attrs map[string]any) error

	// ConsumeDailyCounter increments the AI counter for day in one atomic
	// step, but only while the count for day is below limit. A counter
	// stored for another day counts as zero. It returns the count after
	// the call and whether it was incremented.
	ConsumeDailyCounter(ctx context.Context, id, day string, limit int) (used int, ok bool, err error)

	// DeleteUser removes the user and both bags.
	DeleteUser(ctx context.Context, id string) error
}

// cloneAttrs makes a shallow copy so callers can merge without aliasing.
func cloneAttrs(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// dailyCount returns the counter stored in meta if it belongs to day.
func dailyCount(meta map[string]any, day string) int {
	if d, _ := meta[AttrAIDate].(string); d != day {
		return 0
	}
	switch v := meta[AttrAICount].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
