package cipher

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sharedKey = "commonwealth-identity-service"

// Produced by `openssl enc -aes-256-cbc -md md5 -S 0102030405060708` with the
// Salted__ header prepended.
const helloVector = "U2FsdGVkX18BAgMEBQYHCN3hKXppSdYVFe58dtgFCd4="

func TestDecrypt_OpenSSLVector(t *testing.T) {
	plain, err := Decrypt(helloVector, sharedKey)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plain))
}

func TestEncryptWithSalt_MatchesOpenSSL(t *testing.T) {
	sealed, err := encryptWithSalt([]byte("hello"), sharedKey, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	assert.Equal(t, helloVector, sealed)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	payload := []byte(`{"identityType":"github","identity":"alice"}`)

	sealed, err := Encrypt(payload, sharedKey)
	require.NoError(t, err)

	again, err := Encrypt(payload, sharedKey)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "fresh salt per seal")

	plain, err := Decrypt(sealed, sharedKey)
	require.NoError(t, err)
	assert.Equal(t, payload, plain)
}

func TestDecrypt_Failures(t *testing.T) {
	t.Run("wrong passphrase", func(t *testing.T) {
		_, err := Decrypt(helloVector, "wrong-key")
		assert.ErrorIs(t, err, ErrBadPadding)
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := Decrypt("%%%not-base64%%%", sharedKey)
		assert.ErrorIs(t, err, ErrMalformedCiphertext)
	})

	t.Run("missing salt header", func(t *testing.T) {
		raw := make([]byte, 32)
		_, err := Decrypt(base64.StdEncoding.EncodeToString(raw), sharedKey)
		assert.ErrorIs(t, err, ErrMalformedCiphertext)
	})

	t.Run("truncated body", func(t *testing.T) {
		raw, _ := base64.StdEncoding.DecodeString(helloVector)
		_, err := Decrypt(base64.StdEncoding.EncodeToString(raw[:len(raw)-3]), sharedKey)
		assert.ErrorIs(t, err, ErrMalformedCiphertext)
	})

	t.Run("empty passphrase", func(t *testing.T) {
		_, err := Decrypt(helloVector, "")
		assert.ErrorIs(t, err, ErrEmptyPassphrase)
		_, err = Encrypt([]byte("x"), "")
		assert.ErrorIs(t, err, ErrEmptyPassphrase)
	})
}

func TestUnpad(t *testing.T) {
	_, err := unpad([]byte{})
	assert.ErrorIs(t, err, ErrBadPadding)

	_, err = unpad(append(make([]byte, 15), 0x00))
	assert.ErrorIs(t, err, ErrBadPadding)

	_, err = unpad(append(make([]byte, 14), 0x01, 0x02))
	assert.ErrorIs(t, err, ErrBadPadding)

	out, err := unpad(append([]byte("abc"), 0x01))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), out)
}
