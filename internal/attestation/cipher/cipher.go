// Package cipher seals and opens proof payloads with the process-wide shared key.
//
// Payloads use the OpenSSL passphrase format that browser clients produce: base64 of
// "Salted__" || salt(8) || AES-256-CBC ciphertext, with key and IV derived from the
// passphrase and salt by EVP_BytesToKey (MD5, one iteration) and PKCS#7 padding.
package cipher

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5" //nolint:gosec // EVP_BytesToKey is defined over MD5; the format is fixed by claimant clients.
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	saltSize = 8
	keySize  = 32
)

var saltHeader = []byte("Salted__")

var (
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
	ErrBadPadding          = errors.New("bad padding")
	ErrEmptyPassphrase     = errors.New("passphrase cannot be empty")
)

// Decrypt opens a sealed payload. A wrong passphrase almost always surfaces as
// ErrBadPadding; callers must still validate the plaintext.
func Decrypt(payload, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	if len(raw) < len(saltHeader)+saltSize+aes.BlockSize || !bytes.HasPrefix(raw, saltHeader) {
		return nil, ErrMalformedCiphertext
	}
	salt := raw[len(saltHeader) : len(saltHeader)+saltSize]
	body := raw[len(saltHeader)+saltSize:]
	if len(body)%aes.BlockSize != 0 {
		return nil, ErrMalformedCiphertext
	}

	key, iv := deriveKeyIV([]byte(passphrase), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)
	return unpad(plain)
}

// Encrypt seals plaintext under passphrase with a fresh random salt.
func Encrypt(plaintext []byte, passphrase string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return encryptWithSalt(plaintext, passphrase, salt)
}

func encryptWithSalt(plaintext []byte, passphrase string, salt []byte) (string, error) {
	if passphrase == "" {
		return "", ErrEmptyPassphrase
	}
	key, iv := deriveKeyIV([]byte(passphrase), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("init aes: %w", err)
	}
	padded := pad(plaintext)
	out := make([]byte, 0, len(saltHeader)+saltSize+len(padded))
	out = append(out, saltHeader...)
	out = append(out, salt...)
	body := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(body, padded)
	out = append(out, body...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// deriveKeyIV is EVP_BytesToKey with MD5 and a single iteration.
func deriveKeyIV(passphrase, salt []byte) (key, iv []byte) {
	var derived, prev []byte
	for len(derived) < keySize+aes.BlockSize {
		h := md5.New() //nolint:gosec
		h.Write(prev)
		h.Write(passphrase)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keySize], derived[keySize : keySize+aes.BlockSize]
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrBadPadding
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, ErrBadPadding
		}
	}
	return b[:len(b)-n], nil
}
