package domain

import "time"

// PayloadKind identifies which shape of provider object an event carries.
type PayloadKind string

const (
	PayloadKindSubscription PayloadKind = "Subscription"
	PayloadKindPayment      PayloadKind = "Payment"
)

// Statuses that make an event eligible to grant a tier.
const (
	StatusActive    = "active"
	StatusSucceeded = "succeeded"
)

// CanonicalEvent is the single internal form of a verified payment webhook.
//
// PayloadKind and Status decide whether anything changes. EventType is
// informational only; relays are free to rename it.
type CanonicalEvent struct {
	EventID        string // delivery id from the signature headers
	EventType      string
	PayloadKind    PayloadKind
	Status         string
	SubjectUserID  string
	ProductID      string
	SubscriptionID string
	PaymentID      string
	CustomerID     string
	Timestamp      time.Time
}

// =============================================================================
// Reconcile Outcomes
// =============================================================================

// OutcomeKind is the top-level result of reconciling one delivery.
type OutcomeKind string

const (
	OutcomeApplied  OutcomeKind = "applied"
	OutcomeIgnored  OutcomeKind = "ignored"
	OutcomeRejected OutcomeKind = "rejected"
)

// Reasons attached to Ignored and Rejected outcomes.
const (
	ReasonMissingUserID       = "MissingUserId"
	ReasonUnknownProduct      = "UnknownProduct"
	ReasonNotAnUpgradeEvent   = "NotAnUpgradeEvent"
	ReasonUnrecognizedPayload = "UnrecognizedPayload"
	ReasonUnknownUser         = "UnknownUser"
	ReasonStaleEvent          = "StaleEvent"

	ReasonMissingHeaders   = "MissingHeaders"
	ReasonInvalidSignature = "InvalidSignature"
)

// ReconcileOutcome describes what happened to a delivery.
type ReconcileOutcome struct {
	Kind     OutcomeKind
	Reason   string // set for Ignored and Rejected
	UserID   string // set for Applied
	Tier     Tier   // set for Applied
	EventID  string
	Replayed bool // Applied without a write because the event was already applied
}

// Applied builds an outcome for a successful tier write.
func Applied(userID string, tier Tier, eventID string) ReconcileOutcome {
	return ReconcileOutcome{Kind: OutcomeApplied, UserID: userID, Tier: tier, EventID: eventID}
}

// Ignored builds an outcome for a verified event that changes nothing.
func Ignored(reason, eventID string) ReconcileOutcome {
	return ReconcileOutcome{Kind: OutcomeIgnored, Reason: reason, EventID: eventID}
}

// Rejected builds an outcome for a delivery that failed verification.
func Rejected(reason string) ReconcileOutcome {
	return ReconcileOutcome{Kind: OutcomeRejected, Reason: reason}
}
