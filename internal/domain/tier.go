// Package domain contains core business types and interfaces.
//
// This file defines subscription tiers and the rules for reading them from
// stored attributes.
package domain

import "strings"

// Tier represents the subscription level of a user.
type Tier string

const (
	TierFree       Tier = "free"
	TierProMonthly Tier = "pro_monthly"
	TierProYearly  Tier = "pro_yearly"
)

// legacyTierPro is the value written by earlier versions of the product
// before monthly and yearly plans were told apart.
const legacyTierPro = "pro"

// ParseTier converts a stored attribute value to a Tier.
// Empty and unknown values are treated as free.
func ParseTier(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(TierProMonthly), legacyTierPro:
		return TierProMonthly
	case string(TierProYearly):
		return TierProYearly
	default:
		return TierFree
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierProMonthly, TierProYearly:
		return true
	default:
		return false
	}
}

// IsPro returns true for either paid plan.
func (t Tier) IsPro() bool {
	return t == TierProMonthly || t == TierProYearly
}

func (t Tier) String() string {
	return string(t)
}
