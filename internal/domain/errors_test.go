package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "", ErrorCode(nil))
	assert.Equal(t, EINVALID, ErrorCode(Invalid("op", "bad")))
	assert.Equal(t, EINTERNAL, ErrorCode(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", Unavailable(errors.New("dial"), "op", "store down"))
	assert.Equal(t, EUNAVAILABLE, ErrorCode(wrapped))
}

func TestErrorMessage_HidesInternal(t *testing.T) {
	err := Internal(errors.New("pq: password authentication failed"), "op", "db exploded")
	assert.NotContains(t, ErrorMessage(err), "password")
	assert.Equal(t, "Bad input", ErrorMessage(Invalid("op", "Bad input")))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("boom")))
	assert.True(t, IsTransient(fmt.Errorf("read user: %w", ErrTransient)))
	assert.True(t, IsTransient(Unavailable(nil, "op", "down")))
	assert.False(t, IsTransient(Invalid("op", "nope")))
}
