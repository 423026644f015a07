package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

var ErrBadSignature = errors.New("bad signature")

// KeyPair is an ed25519 signing identity.
type KeyPair struct {
	account id.AccountID
	private ed25519.PrivateKey
}

// SigningIdentity derives the verifier's key pair from secret material. A 0x-prefixed
// 32-byte hex string is used as the seed directly; anything else (a mnemonic with its
// derivation path) is reduced to a seed with BLAKE2b-256.
func SigningIdentity(secret string) (*KeyPair, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("signing secret is required")
	}

	var seed []byte
	if strings.HasPrefix(secret, "0x") && len(secret) == 2+2*ed25519.SeedSize {
		raw, err := hex.DecodeString(secret[2:])
		if err != nil {
			return nil, fmt.Errorf("decode seed: %w", err)
		}
		seed = raw
	} else {
		sum := blake2b.Sum256([]byte(secret))
		seed = sum[:]
	}

	private := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{
		account: AccountFromPublicKey(private.Public().(ed25519.PublicKey)),
		private: private,
	}, nil
}

// AccountFromPublicKey renders a public key as an account id.
func AccountFromPublicKey(pub ed25519.PublicKey) id.AccountID {
	return id.AccountID("0x" + hex.EncodeToString(pub))
}

// PublicKeyOf parses an account id produced by AccountFromPublicKey.
func PublicKeyOf(account id.AccountID) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(account.String(), "0x"))
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("account %q is not an ed25519 public key", account)
	}
	return ed25519.PublicKey(raw), nil
}

func (k *KeyPair) Account() id.AccountID {
	return k.account
}

func (k *KeyPair) Sign(call Call, nonce uint64) (SignedCall, error) {
	return SignedCall{
		Call:      call,
		Signer:    k.account,
		Nonce:     nonce,
		Signature: ed25519.Sign(k.private, SigningPayload(call, nonce)),
	}, nil
}

// VerifySignature checks that call was signed by its declared signer.
func VerifySignature(call SignedCall) error {
	pub, err := PublicKeyOf(call.Signer)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, SigningPayload(call.Call, call.Nonce), call.Signature) {
		return ErrBadSignature
	}
	return nil
}

var _ Signer = (*KeyPair)(nil)
