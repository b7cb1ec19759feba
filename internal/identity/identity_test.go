package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// MemoryStore Tests
// =============================================================================

func TestMemoryStore_GetUser_NotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetUser(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryStore_ReadsAreCopies(t *testing.T) {
	s := NewMemoryStore()
	s.Put(User{ID: "u1", AppMetadata: map[string]any{"subscription_tier": "free"}})

	u, err := s.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	u.AppMetadata["subscription_tier"] = "pro_yearly"

	again, err := s.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "free", again.AppMetadata["subscription_tier"])
}

func TestMemoryStore_NumbersComeBackAsFloat(t *testing.T) {
	s := NewMemoryStore()
	s.Put(User{ID: "u1"})

	require.NoError(t, s.MergeUserMetadata(context.Background(), "u1", map[string]any{"ai_count": 3}))

	u, err := s.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, float64(3), u.UserMetadata["ai_count"])
	assert.Equal(t, 1, s.UserWrites)
	assert.Equal(t, 0, s.AppWrites)
}

func TestMemoryStore_ReplaceIsWholeBag(t *testing.T) {
	s := NewMemoryStore()
	s.Put(User{ID: "u1", AppMetadata: map[string]any{"a": "1", "b": "2"}})

	require.NoError(t, s.ReplaceAppMetadata(context.Background(), "u1", map[string]any{"a": "3"}))

	u, _ := s.GetUser(context.Background(), "u1")
	assert.Equal(t, map[string]any{"a": "3"}, u.AppMetadata)
}

func TestMemoryStore_MergeKeepsOtherKeys(t *testing.T) {
	s := NewMemoryStore()
	s.Put(User{ID: "u1", UserMetadata: map[string]any{"ai_count": 4, "display_name": "Sam"}})

	require.NoError(t, s.MergeUserMetadata(context.Background(), "u1", map[string]any{"avatar_url": "https://cdn/a.jpg"}))

	u, _ := s.GetUser(context.Background(), "u1")
	assert.Equal(t, map[string]any{
		"ai_count":     float64(4),
		"display_name": "Sam",
		"avatar_url":   "https://cdn/a.jpg",
	}, u.UserMetadata)
}

func TestMemoryStore_ConsumeDailyCounter(t *testing.T) {
	s := NewMemoryStore()
	s.Put(User{ID: "u1", UserMetadata: map[string]any{AttrAIDate: "2026-03-10", AttrAICount: 1, "display_name": "Sam"}})
	ctx := context.Background()

	used, ok, err := s.ConsumeDailyCounter(ctx, "u1", "2026-03-10", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, used)

	used, ok, err = s.ConsumeDailyCounter(ctx, "u1", "2026-03-10", 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, used)

	// a new day starts from zero
	used, ok, err = s.ConsumeDailyCounter(ctx, "u1", "2026-03-11", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, used)

	u, _ := s.GetUser(ctx, "u1")
	assert.Equal(t, "2026-03-11", u.UserMetadata[AttrAIDate])
	assert.Equal(t, float64(1), u.UserMetadata[AttrAICount])
	assert.Equal(t, "Sam", u.UserMetadata["display_name"])

	_, _, err = s.ConsumeDailyCounter(ctx, "missing", "2026-03-11", 2)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMemoryStore_InjectedErrors(t *testing.T) {
	s := NewMemoryStore()
	s.Put(User{ID: "u1"})
	boom := errors.New("boom")

	s.GetErr = boom
	_, err := s.GetUser(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)

	s.GetErr = nil
	s.WriteErr = boom
	assert.ErrorIs(t, s.ReplaceAppMetadata(context.Background(), "u1", nil), boom)
	assert.ErrorIs(t, s.DeleteUser(context.Background(), "u1"), boom)
	_, _, err = s.ConsumeDailyCounter(context.Background(), "u1", "2026-03-10", 5)
	assert.ErrorIs(t, err, boom)
}

func TestMemoryStore_DeleteUser(t *testing.T) {
	s := NewMemoryStore()
	s.Put(User{ID: "u1"})

	require.NoError(t, s.DeleteUser(context.Background(), "u1"))
	_, err := s.GetUser(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, s.DeleteUser(context.Background(), "u1"), ErrUserNotFound)
}

// =============================================================================
// JWTVerifier Tests
// =============================================================================

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := NewJWTVerifier("jwt-secret", "authenticated")
	raw, err := v.Issue("0b7c7f43-5a4a-4a6b-9b43-0e9f1b1c2d3e", "a@example.com", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "0b7c7f43-5a4a-4a6b-9b43-0e9f1b1c2d3e", claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
}

func TestJWTVerifier_Expired(t *testing.T) {
	v := NewJWTVerifier("jwt-secret", "")
	raw, err := v.Issue("u1", "", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	raw, err := NewJWTVerifier("other", "").Issue("u1", "", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTVerifier("jwt-secret", "").Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifier_WrongAudience(t *testing.T) {
	raw, err := NewJWTVerifier("jwt-secret", "anon").Issue("u1", "", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTVerifier("jwt-secret", "authenticated").Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifier_RequiresExpiry(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1"})
	raw, err := token.SignedString([]byte("jwt-secret"))
	require.NoError(t, err)

	_, err = NewJWTVerifier("jwt-secret", "").Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifier_RequiresSubject(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	raw, err := token.SignedString([]byte("jwt-secret"))
	require.NoError(t, err)

	_, err = NewJWTVerifier("jwt-secret", "").Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifier_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewJWTVerifier("jwt-secret", "").Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
