package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches direct error", func(t *testing.T) {
		err := New(CodeSessionExpired, "session changed")
		assert.True(t, HasCode(err, CodeSessionExpired))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("matches through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("issue: %w", New(CodeSigningRejected, "user declined"))
		assert.True(t, HasCode(err, CodeSigningRejected))
	})

	t.Run("plain errors have no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(cause, CodeProviderError, "provider request failed")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeProviderError, CodeOf(err))
	assert.Equal(t, "provider request failed", MessageOf(err))
	assert.Contains(t, err.Error(), "dial tcp: refused")
}
