package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAPIVersion(t *testing.T) {
	v, err := ParseAPIVersion("v1")
	require.NoError(t, err)
	assert.Equal(t, APIVersionV1, v)

	_, err = ParseAPIVersion("v0")
	assert.ErrorContains(t, err, "unknown API version")
	_, err = ParseAPIVersion("")
	assert.Error(t, err)
}

func TestAPIVersionIsAtLeast(t *testing.T) {
	assert.True(t, APIVersionV1.IsAtLeast(APIVersionV1))
	assert.True(t, APIVersionV1.IsAtLeast("v0"), "known versions outrank unknown ones")
	assert.False(t, APIVersion("v9").IsAtLeast(APIVersionV1))
	assert.False(t, APIVersion("").IsAtLeast(""))
}

func TestDefaultVersion(t *testing.T) {
	assert.Equal(t, APIVersionV1, DefaultVersion())
	assert.True(t, APIVersion("").IsNil())
}
