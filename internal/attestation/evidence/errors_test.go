package evidence

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drewstone/edgeware-watcher/internal/attestation/models"
)

func TestNewFetchErrorRetryable(t *testing.T) {
	tests := []struct {
		category  Category
		retryable bool
	}{
		{CategoryTimeout, true},
		{CategoryOutage, true},
		{CategoryRateLimited, true},
		{CategoryNotFound, false},
		{CategoryBadStatus, false},
		{CategoryBadBody, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			err := NewFetchError(tt.category, testRef, "boom", nil)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(fmt.Errorf("wrapped: %w", err)))
		})
	}
}

func TestErrorString(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewFetchError(CategoryOutage, testRef, "request failed", cause)

	assert.Equal(t, "evidence aa5a315d61ae9438b18d [fetch_error/provider_outage]: request failed: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)

	wrong := NewWrongKindError(testRef, "dotfiles")
	assert.Equal(t, `evidence aa5a315d61ae9438b18d [wrong_attestation_kind]: incorrect attestation description: "dotfiles"`, wrong.Error())
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, models.ReasonFetchError, ReasonOf(NewFetchError(CategoryNotFound, testRef, "x", nil)))
	assert.Equal(t, models.ReasonMalformedEvidence, ReasonOf(NewMalformedError(testRef, "x", nil)))
	assert.Equal(t, models.ReasonWrongAttestationKind, ReasonOf(NewWrongKindError(testRef, "x")))
	assert.Equal(t, models.ReasonFetchError, ReasonOf(errors.New("plain")))
	assert.False(t, IsRetryable(errors.New("plain")))
}
