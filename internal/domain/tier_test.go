package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTier(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Tier
	}{
		{name: "empty", in: "", want: TierFree},
		{name: "free", in: "free", want: TierFree},
		{name: "monthly", in: "pro_monthly", want: TierProMonthly},
		{name: "yearly", in: "pro_yearly", want: TierProYearly},
		{name: "legacy pro", in: "pro", want: TierProMonthly},
		{name: "mixed case and spaces", in: "  PRO_Yearly ", want: TierProYearly},
		{name: "unknown", in: "enterprise", want: TierFree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTier(tt.in))
		})
	}
}

func TestTier_IsPro(t *testing.T) {
	assert.False(t, TierFree.IsPro())
	assert.True(t, TierProMonthly.IsPro())
	assert.True(t, TierProYearly.IsPro())
	assert.False(t, Tier("pro").IsPro(), "raw legacy value must go through ParseTier")
}

func TestEntitlementFromAttributes_Defaults(t *testing.T) {
	ent := EntitlementFromAttributes(nil)
	assert.Equal(t, TierFree, ent.Tier)
	assert.True(t, ent.LastEventAt.IsZero())
	assert.Empty(t, ent.LastEventID)
}

func TestEntitlement_MergeInto_PreservesUnrelatedKeys(t *testing.T) {
	stored := map[string]any{
		"avatar_url":         "https://cdn.example/a.jpg",
		"role":               "student",
		AttrCustomerID:       "cus_123",
		AttrSubscriptionTier: "free",
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ent := Entitlement{
		Tier:          TierProYearly,
		Source:        "dodo",
		LastEventID:   "msg_1",
		LastEventType: "subscription.active",
		LastEventAt:   now.Add(-time.Minute),
		UpdatedAt:     now,
		ProductID:     "prod_yearly",
	}

	merged := ent.MergeInto(stored)

	assert.Equal(t, "https://cdn.example/a.jpg", merged["avatar_url"])
	assert.Equal(t, "student", merged["role"])
	assert.Equal(t, "cus_123", merged[AttrCustomerID], "empty customer id must not erase stored one")
	assert.Equal(t, "pro_yearly", merged[AttrSubscriptionTier])
	assert.Equal(t, "free", stored[AttrSubscriptionTier], "input map must not be mutated")

	roundTrip := EntitlementFromAttributes(merged)
	require.Equal(t, TierProYearly, roundTrip.Tier)
	assert.Equal(t, "msg_1", roundTrip.LastEventID)
	assert.True(t, roundTrip.UpdatedAt.Equal(now))
	assert.True(t, roundTrip.LastEventAt.Equal(now.Add(-time.Minute)))
}
