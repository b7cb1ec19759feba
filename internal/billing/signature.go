// Package billing verifies and interprets payment provider webhooks and talks
// to the provider's API.
package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/DukeRupert/dentaistudy/internal/domain"
)

// =============================================================================
// Headers
// =============================================================================

// Header names for the two conventions the provider has used. They carry the
// same three values.
const (
	HeaderWebhookID        = "webhook-id"
	HeaderWebhookTimestamp = "webhook-timestamp"
	HeaderWebhookSignature = "webhook-signature"

	HeaderSvixID        = "svix-id"
	HeaderSvixTimestamp = "svix-timestamp"
	HeaderSvixSignature = "svix-signature"
)

// secretPrefix marks a base64-encoded signing key.
const secretPrefix = "whsec_"

// Headers are the signature inputs taken from a delivery.
type Headers struct {
	ID        string
	Timestamp string
	Signature string
}

// HeadersFromRequest reads the signature headers, preferring the webhook-*
// names and falling back to svix-* for each value independently.
func HeadersFromRequest(h http.Header) Headers {
	pick := func(primary, fallback string) string {
		if v := strings.TrimSpace(h.Get(primary)); v != "" {
			return v
		}
		return strings.TrimSpace(h.Get(fallback))
	}
	return Headers{
		ID:        pick(HeaderWebhookID, HeaderSvixID),
		Timestamp: pick(HeaderWebhookTimestamp, HeaderSvixTimestamp),
		Signature: pick(HeaderWebhookSignature, HeaderSvixSignature),
	}
}

// =============================================================================
// Errors
// =============================================================================

// VerificationError is returned when a delivery cannot be authenticated.
// Kind is domain.ReasonMissingHeaders or domain.ReasonInvalidSignature.
type VerificationError struct {
	Kind string
	Err  error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook verification failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("webhook verification failed (%s)", e.Kind)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

var (
	// ErrMissingHeaders is wrapped when a header is absent or malformed.
	ErrMissingHeaders = errors.New("missing or malformed signature headers")

	// ErrInvalidSignature is wrapped when no signature entry matches.
	ErrInvalidSignature = errors.New("no matching signature")

	// ErrTimestampOutOfRange is wrapped when the delivery is outside the tolerance window.
	ErrTimestampOutOfRange = errors.New("timestamp outside tolerance")
)

// VerificationKind returns the kind of a verification failure, or "" if err is
// not one.
func VerificationKind(err error) string {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ""
}

func missingHeaders(detail string) error {
	return &VerificationError{Kind: domain.ReasonMissingHeaders, Err: fmt.Errorf("%w: %s", ErrMissingHeaders, detail)}
}

func invalidSignature(err error) error {
	return &VerificationError{Kind: domain.ReasonInvalidSignature, Err: err}
}

// =============================================================================
// Verifier
// =============================================================================

// Verifier authenticates deliveries signed with a shared secret.
//
// The signed content is "{id}.{timestamp}.{body}" and the digest is
// base64(HMAC-SHA256). Verification always runs on the raw bytes received.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a Verifier. A tolerance of zero disables the
// timestamp window check.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{
		secret:    DecodeSecret(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// WithClock replaces the time source used for the tolerance check.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify checks the signature of body. It never inspects the body contents.
func (v *Verifier) Verify(body []byte, h Headers) error {
	if h.ID == "" {
		return missingHeaders("id")
	}
	if h.Timestamp == "" {
		return missingHeaders("timestamp")
	}
	if strings.TrimSpace(h.Signature) == "" {
		return missingHeaders("signature")
	}

	ts, err := strconv.ParseInt(h.Timestamp, 10, 64)
	if err != nil {
		return missingHeaders("timestamp is not a unix time")
	}

	if v.tolerance > 0 {
		sent := time.Unix(ts, 0)
		now := v.now()
		if now.Sub(sent) > v.tolerance || sent.Sub(now) > v.tolerance {
			return invalidSignature(ErrTimestampOutOfRange)
		}
	}

	expected := []byte(Sign(v.secret, h.ID, h.Timestamp, body))

	for _, entry := range strings.Fields(h.Signature) {
		candidate := stripVersion(entry)
		if hmac.Equal([]byte(candidate), expected) {
			return nil
		}
	}

	return invalidSignature(ErrInvalidSignature)
}

// Sign returns the base64 digest for the given delivery.
func Sign(secret []byte, id, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(id))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// DecodeSecret turns a configured secret into key bytes. A "whsec_" value is
// base64-decoded; anything that fails to decode is used as-is.
func DecodeSecret(secret string) []byte {
	secret = strings.TrimSpace(secret)
	if !strings.HasPrefix(secret, secretPrefix) {
		return []byte(secret)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
	if err != nil {
		return []byte(secret)
	}
	return decoded
}

func stripVersion(entry string) string {
	for _, prefix := range []string{"v1,", "v1="} {
		if strings.HasPrefix(entry, prefix) {
			return entry[len(prefix):]
		}
	}
	return entry
}
