package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DukeRupert/dentaistudy/internal/domain"
)

// NormalizationError is a soft failure: the delivery was authentic but carries
// nothing we can act on. Reason is one of the domain.Reason* constants.
type NormalizationError struct {
	Reason string
	Detail string
}

func (e *NormalizationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("normalize event: %s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("normalize event: %s", e.Reason)
}

// NormalizationReason returns the reason of a soft failure, or "".
func NormalizationReason(err error) string {
	var ne *NormalizationError
	if errors.As(err, &ne) {
		return ne.Reason
	}
	return ""
}

func unrecognized(detail string) error {
	return &NormalizationError{Reason: domain.ReasonUnrecognizedPayload, Detail: detail}
}

// =============================================================================
// Wire shapes
// =============================================================================

type envelope struct {
	Type       string          `json:"type"`
	BusinessID string          `json:"business_id"`
	Timestamp  string          `json:"timestamp"`
	Data       json.RawMessage `json:"data"`
}

type wireCustomer struct {
	CustomerID string         `json:"customer_id"`
	Email      string         `json:"email"`
	Metadata   map[string]any `json:"metadata"`
}

type wireCartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// wireData is the union of every field either payload shape may carry.
// decodePayload narrows it to one variant.
type wireData struct {
	PayloadType    string         `json:"payload_type"`
	Status         string         `json:"status"`
	ProductID      string         `json:"product_id"`
	ProductCart    []wireCartItem `json:"product_cart"`
	SubscriptionID string         `json:"subscription_id"`
	PaymentID      string         `json:"payment_id"`
	Metadata       map[string]any `json:"metadata"`
	Customer       *wireCustomer  `json:"customer"`
}

// =============================================================================
// Variants
// =============================================================================

// payload is implemented by each known delivery shape.
type payload interface {
	kind() domain.PayloadKind
	fill(ev *domain.CanonicalEvent)
}

// subscriptionPayload carries the product directly on data.product_id.
type subscriptionPayload struct {
	Status         string
	ProductID      string
	SubscriptionID string
	CustomerID     string
	UserID         string
}

func (subscriptionPayload) kind() domain.PayloadKind { return domain.PayloadKindSubscription }

func (p subscriptionPayload) fill(ev *domain.CanonicalEvent) {
	ev.Status = p.Status
	ev.ProductID = p.ProductID
	ev.SubscriptionID = p.SubscriptionID
	ev.CustomerID = p.CustomerID
	ev.SubjectUserID = p.UserID
}

// paymentPayload carries the product on data.product_cart[0].product_id.
// Payments made for a subscription also reference it by id.
type paymentPayload struct {
	Status         string
	ProductID      string
	PaymentID      string
	SubscriptionID string
	CustomerID     string
	UserID         string
}

func (paymentPayload) kind() domain.PayloadKind { return domain.PayloadKindPayment }

func (p paymentPayload) fill(ev *domain.CanonicalEvent) {
	ev.Status = p.Status
	ev.ProductID = p.ProductID
	ev.PaymentID = p.PaymentID
	ev.SubscriptionID = p.SubscriptionID
	ev.CustomerID = p.CustomerID
	ev.SubjectUserID = p.UserID
}

// =============================================================================
// Normalize
// =============================================================================

// Normalize turns a verified delivery body into a CanonicalEvent.
//
// A *NormalizationError is returned for bodies that match no known shape
// (UnrecognizedPayload) and for events without a subject user id
// (MissingUserId). In the latter case the partially filled event is still
// returned for logging.
func Normalize(body []byte) (domain.CanonicalEvent, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&env); err != nil {
		return domain.CanonicalEvent{}, unrecognized("body is not a JSON object")
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return domain.CanonicalEvent{}, unrecognized("missing data")
	}

	var data wireData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return domain.CanonicalEvent{}, unrecognized("data is not an object")
	}

	p, err := decodePayload(data)
	if err != nil {
		return domain.CanonicalEvent{}, err
	}

	ev := domain.CanonicalEvent{
		EventType:   env.Type,
		PayloadKind: p.kind(),
		Timestamp:   parseEventTime(env.Timestamp),
	}
	p.fill(&ev)

	if ev.SubjectUserID == "" {
		return ev, &NormalizationError{Reason: domain.ReasonMissingUserID}
	}
	return ev, nil
}

// decodePayload picks the variant for data. An explicit payload_type wins;
// otherwise the shape is inferred from which product field is present.
func decodePayload(d wireData) (payload, error) {
	kind := strings.ToLower(strings.TrimSpace(d.PayloadType))
	userID := subjectUserID(d)
	status := strings.ToLower(strings.TrimSpace(d.Status))
	customerID := ""
	if d.Customer != nil {
		customerID = d.Customer.CustomerID
	}

	switch {
	case kind == "subscription", kind == "" && d.ProductID != "" && len(d.ProductCart) == 0:
		return subscriptionPayload{
			Status:         status,
			ProductID:      d.ProductID,
			SubscriptionID: d.SubscriptionID,
			CustomerID:     customerID,
			UserID:         userID,
		}, nil

	case kind == "payment", kind == "" && len(d.ProductCart) > 0:
		productID := ""
		if len(d.ProductCart) > 0 {
			productID = d.ProductCart[0].ProductID
		}
		return paymentPayload{
			Status:         status,
			ProductID:      productID,
			PaymentID:      d.PaymentID,
			SubscriptionID: d.SubscriptionID,
			CustomerID:     customerID,
			UserID:         userID,
		}, nil

	case kind != "":
		return nil, unrecognized(fmt.Sprintf("unsupported payload_type %q", d.PayloadType))

	default:
		return nil, unrecognized("no product reference")
	}
}

// userIDKeys are the metadata aliases checkout has written over time.
var userIDKeys = []string{"user_id", "userId"}

func subjectUserID(d wireData) string {
	if id := lookupString(d.Metadata, userIDKeys); id != "" {
		return id
	}
	if d.Customer != nil {
		return lookupString(d.Customer.Metadata, userIDKeys)
	}
	return ""
}

func lookupString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func parseEventTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
