package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/dentaistudy/internal/domain"
	"github.com/DukeRupert/dentaistudy/internal/identity"
)

// EntitlementStore reads and writes the entitlement attributes on a user
// record. The identity store replaces a whole attribute bag per write, so a
// save always merges into the bag returned by the Load that preceded it.
type EntitlementStore struct {
	users identity.Store
}

// NewEntitlementStore creates an EntitlementStore.
func NewEntitlementStore(users identity.Store) *EntitlementStore {
	return &EntitlementStore{users: users}
}

// EntitlementSnapshot is one read of a user's app metadata.
type EntitlementSnapshot struct {
	UserID      string
	Entitlement domain.Entitlement
	attrs       map[string]any
}

// Load reads the current entitlement. Missing attributes read as free.
func (s *EntitlementStore) Load(ctx context.Context, userID string) (*EntitlementSnapshot, error) {
	const op = "EntitlementStore.Load"

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, storeError(err, op)
	}
	return &EntitlementSnapshot{
		UserID:      userID,
		Entitlement: domain.EntitlementFromAttributes(user.AppMetadata),
		attrs:       user.AppMetadata,
	}, nil
}

// Save writes ent over the snapshot's attributes, keeping every key it does
// not own.
func (s *EntitlementStore) Save(ctx context.Context, snap *EntitlementSnapshot, ent domain.Entitlement) error {
	const op = "EntitlementStore.Save"

	if err := s.users.ReplaceAppMetadata(ctx, snap.UserID, ent.MergeInto(snap.attrs)); err != nil {
		return storeError(err, op)
	}
	return nil
}

// Tier returns the user's current tier.
func (s *EntitlementStore) Tier(ctx context.Context, userID string) (domain.Tier, error) {
	snap, err := s.Load(ctx, userID)
	if err != nil {
		return "", err
	}
	return snap.Entitlement.Tier, nil
}

// storeError classifies an identity store failure. Not-found keeps its
// sentinel; deadline and connection failures become EUNAVAILABLE.
func storeError(err error, op string) error {
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		return domain.Wrap(err, domain.ENOTFOUND, op, "User not found")
	case domain.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		return domain.Unavailable(err, op, "Account store is unavailable")
	default:
		return domain.Internal(err, op, "Account store failure")
	}
}

// attrInt reads a numeric attribute. Values that went through JSON come back
// as float64; older writers stored strings.
func attrInt(attrs map[string]any, key string) int {
	switch v := attrs[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case interface{ Int64() (int64, error) }:
		n, _ := v.Int64()
		return int(n)
	case string:
		var n int
		if _, err := fmt.Sscan(v, &n); err == nil {
			return n
		}
	}
	return 0
}

func attrString(attrs map[string]any, key string) string {
	s, _ := attrs[key].(string)
	return s
}

// eventTime picks the provider timestamp, falling back to the signed
// delivery timestamp (unix seconds).
func eventTime(ev domain.CanonicalEvent, headerTimestamp string) time.Time {
	if !ev.Timestamp.IsZero() {
		return ev.Timestamp
	}
	var secs int64
	if _, err := fmt.Sscan(headerTimestamp, &secs); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}
