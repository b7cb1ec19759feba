package domain

import (
	"fmt"
	"time"
)

// Attribute keys persisted in the server-owned metadata of a user record.
const (
	AttrSubscriptionTier      = "subscription_tier"
	AttrSubscriptionSource    = "subscription_source"
	AttrLastEventID           = "subscription_last_event_id"
	AttrLastEventType         = "subscription_last_event_type"
	AttrLastEventAt           = "subscription_last_event_at"
	AttrSubscriptionUpdatedAt = "subscription_updated_at"
	AttrProductID             = "subscription_product_id"
	AttrSubscriptionID        = "subscription_id"
	AttrPaymentID             = "payment_id"
	AttrCustomerID            = "dodo_customer_id"
)

// Entitlement is the persisted record of a user's tier and where it came from.
//
// It lives inside the user's app metadata and is only ever written by the
// reconciler. Unknown keys next to it belong to other features and must be
// preserved on every write.
type Entitlement struct {
	Tier           Tier
	Source         string
	LastEventID    string
	LastEventType  string
	LastEventAt    time.Time // provider timestamp of the last applied event
	UpdatedAt      time.Time // when we wrote it
	ProductID      string
	SubscriptionID string
	PaymentID      string
	CustomerID     string
}

// EntitlementFromAttributes reads an Entitlement out of an attribute bag.
// A missing or unreadable tier yields TierFree.
func EntitlementFromAttributes(attrs map[string]any) Entitlement {
	return Entitlement{
		Tier:           ParseTier(stringAttr(attrs, AttrSubscriptionTier)),
		Source:         stringAttr(attrs, AttrSubscriptionSource),
		LastEventID:    stringAttr(attrs, AttrLastEventID),
		LastEventType:  stringAttr(attrs, AttrLastEventType),
		LastEventAt:    timeAttr(attrs, AttrLastEventAt),
		UpdatedAt:      timeAttr(attrs, AttrSubscriptionUpdatedAt),
		ProductID:      stringAttr(attrs, AttrProductID),
		SubscriptionID: stringAttr(attrs, AttrSubscriptionID),
		PaymentID:      stringAttr(attrs, AttrPaymentID),
		CustomerID:     stringAttr(attrs, AttrCustomerID),
	}
}

// MergeInto returns a copy of attrs with the entitlement fields overlaid.
// Empty optional fields never erase values that are already stored.
func (e Entitlement) MergeInto(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs)+10)
	for k, v := range attrs {
		out[k] = v
	}

	out[AttrSubscriptionTier] = string(e.Tier)
	out[AttrSubscriptionSource] = e.Source
	out[AttrLastEventID] = e.LastEventID
	out[AttrLastEventType] = e.LastEventType
	out[AttrSubscriptionUpdatedAt] = e.UpdatedAt.UTC().Format(time.RFC3339Nano)
	if !e.LastEventAt.IsZero() {
		out[AttrLastEventAt] = e.LastEventAt.UTC().Format(time.RFC3339Nano)
	}

	setIfPresent(out, AttrProductID, e.ProductID)
	setIfPresent(out, AttrSubscriptionID, e.SubscriptionID)
	setIfPresent(out, AttrPaymentID, e.PaymentID)
	setIfPresent(out, AttrCustomerID, e.CustomerID)

	return out
}

func setIfPresent(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func stringAttr(attrs map[string]any, key string) string {
	v, ok := attrs[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}

func timeAttr(attrs map[string]any, key string) time.Time {
	s := stringAttr(attrs, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
