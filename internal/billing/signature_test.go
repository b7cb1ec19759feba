package billing

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/DukeRupert/dentaistudy/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-webhook-secret"

func signedHeaders(secret []byte, id, ts string, body []byte) Headers {
	return Headers{ID: id, Timestamp: ts, Signature: "v1," + Sign(secret, id, ts, body)}
}

func TestVerifier_ValidSignature(t *testing.T) {
	v := NewVerifier(testSecret, 0)
	body := []byte(`{"type":"subscription.active","data":{}}`)

	err := v.Verify(body, signedHeaders([]byte(testSecret), "msg_1", "1700000000", body))
	assert.NoError(t, err)
}

func TestVerifier_AnySingleByteMutationFails(t *testing.T) {
	v := NewVerifier(testSecret, 0)
	body := []byte(`{"type":"payment.succeeded","data":{"product_cart":[{"product_id":"p1"}]}}`)
	h := signedHeaders([]byte(testSecret), "msg_2", "1700000001", body)

	require.NoError(t, v.Verify(body, h))

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01

		err := v.Verify(mutated, h)
		require.Errorf(t, err, "mutation at byte %d verified", i)
		assert.Equal(t, domain.ReasonInvalidSignature, VerificationKind(err))
	}
}

func TestVerifier_MissingHeaders(t *testing.T) {
	v := NewVerifier(testSecret, 0)
	body := []byte(`{}`)
	valid := signedHeaders([]byte(testSecret), "msg_3", "1700000002", body)

	tests := []struct {
		name string
		h    Headers
	}{
		{name: "no id", h: Headers{Timestamp: valid.Timestamp, Signature: valid.Signature}},
		{name: "no timestamp", h: Headers{ID: valid.ID, Signature: valid.Signature}},
		{name: "no signature", h: Headers{ID: valid.ID, Timestamp: valid.Timestamp}},
		{name: "blank signature", h: Headers{ID: valid.ID, Timestamp: valid.Timestamp, Signature: "   "}},
		{name: "malformed timestamp", h: Headers{ID: valid.ID, Timestamp: "yesterday", Signature: valid.Signature}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(body, tt.h)
			require.Error(t, err)
			assert.Equal(t, domain.ReasonMissingHeaders, VerificationKind(err))
			assert.ErrorIs(t, err, ErrMissingHeaders)
		})
	}
}

func TestVerifier_MultipleSignatureEntries(t *testing.T) {
	v := NewVerifier(testSecret, 0)
	body := []byte(`{"a":1}`)
	good := Sign([]byte(testSecret), "msg_4", "1700000003", body)
	stale := Sign([]byte("rotated-out-secret"), "msg_4", "1700000003", body)

	tests := []struct {
		name      string
		signature string
		wantOK    bool
	}{
		{name: "comma prefix", signature: "v1," + good, wantOK: true},
		{name: "equals prefix", signature: "v1=" + good, wantOK: true},
		{name: "no prefix", signature: good, wantOK: true},
		{name: "second of two", signature: "v1," + stale + " v1," + good, wantOK: true},
		{name: "only stale", signature: "v1," + stale, wantOK: false},
		{name: "other version", signature: "v2," + good, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(body, Headers{ID: "msg_4", Timestamp: "1700000003", Signature: tt.signature})
			if tt.wantOK {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, domain.ReasonInvalidSignature, VerificationKind(err))
			}
		})
	}
}

func TestVerifier_WrongSecret(t *testing.T) {
	v := NewVerifier("another-secret", 0)
	body := []byte(`{}`)

	err := v.Verify(body, signedHeaders([]byte(testSecret), "msg_5", "1700000004", body))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifier_Tolerance(t *testing.T) {
	now := time.Unix(1700000000, 0)
	v := NewVerifier(testSecret, 5*time.Minute).WithClock(func() time.Time { return now })
	body := []byte(`{}`)

	inside := strconv.FormatInt(now.Add(-4*time.Minute).Unix(), 10)
	assert.NoError(t, v.Verify(body, signedHeaders([]byte(testSecret), "msg_6", inside, body)))

	old := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
	err := v.Verify(body, signedHeaders([]byte(testSecret), "msg_6", old, body))
	assert.ErrorIs(t, err, ErrTimestampOutOfRange)
	assert.Equal(t, domain.ReasonInvalidSignature, VerificationKind(err))

	future := strconv.FormatInt(now.Add(10*time.Minute).Unix(), 10)
	assert.Error(t, v.Verify(body, signedHeaders([]byte(testSecret), "msg_6", future, body)))
}

func TestDecodeSecret(t *testing.T) {
	key := []byte{0x01, 0x02, 0xfe, 0xff}
	encoded := "whsec_" + base64.StdEncoding.EncodeToString(key)

	assert.Equal(t, key, DecodeSecret(encoded))
	assert.Equal(t, []byte("plain"), DecodeSecret("plain"))
	assert.Equal(t, []byte("whsec_%%%"), DecodeSecret("whsec_%%%"), "undecodable secret is used raw")
}

func TestVerifier_PrefixedSecret(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	v := NewVerifier("whsec_"+base64.StdEncoding.EncodeToString(key), 0)
	body := []byte(`{"ok":true}`)

	assert.NoError(t, v.Verify(body, signedHeaders(key, "msg_7", "1700000005", body)))
}

func TestHeadersFromRequest(t *testing.T) {
	t.Run("webhook names", func(t *testing.T) {
		h := http.Header{}
		h.Set("webhook-id", "a")
		h.Set("webhook-timestamp", "1")
		h.Set("webhook-signature", "v1,x")
		assert.Equal(t, Headers{ID: "a", Timestamp: "1", Signature: "v1,x"}, HeadersFromRequest(h))
	})

	t.Run("svix names", func(t *testing.T) {
		h := http.Header{}
		h.Set("svix-id", "b")
		h.Set("svix-timestamp", "2")
		h.Set("svix-signature", "v1,y")
		assert.Equal(t, Headers{ID: "b", Timestamp: "2", Signature: "v1,y"}, HeadersFromRequest(h))
	})

	t.Run("webhook names win", func(t *testing.T) {
		h := http.Header{}
		h.Set("webhook-id", "a")
		h.Set("svix-id", "b")
		assert.Equal(t, "a", HeadersFromRequest(h).ID)
	})
}
