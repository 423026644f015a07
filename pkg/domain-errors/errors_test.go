package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("matches outer code", func(t *testing.T) {
		err := New(CodeInvalidInput, "bad hash")
		assert.True(t, HasCode(err, CodeInvalidInput))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("matches code through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("parse event: %w", New(CodeValidation, "missing sender"))
		assert.True(t, HasCode(err, CodeValidation))
	})

	t.Run("matches inner coded cause", func(t *testing.T) {
		inner := New(CodeTimeout, "deadline")
		err := Wrap(inner, CodeUnavailable, "ledger unreachable")
		assert.True(t, Is(err, CodeUnavailable))
		assert.True(t, Is(err, CodeTimeout))
	})

	t.Run("plain errors have no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})
}

func TestWrap(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
	})

	t.Run("keeps cause reachable", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := Wrap(cause, CodeUnavailable, "read nonce")
		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "read nonce: connection reset", err.Error())
		assert.Equal(t, CodeUnavailable, CodeOf(err))
	})
}
