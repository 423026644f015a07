package ledger_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drewstone/edgeware-watcher/internal/ledger"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

const devSeed = "0x9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

func TestSigningIdentityFromSeed(t *testing.T) {
	kp, err := ledger.SigningIdentity(devSeed)
	require.NoError(t, err)
	// RFC 8032 test 1 public key for this seed.
	assert.Equal(t, id.AccountID("0xd75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a"), kp.Account())
}

func TestSigningIdentityFromMnemonicIsDeterministic(t *testing.T) {
	a, err := ledger.SigningIdentity("bottom drive obey lake curtain smoke basket hold race lonely fit walk//Alice")
	require.NoError(t, err)
	b, err := ledger.SigningIdentity("  bottom drive obey lake curtain smoke basket hold race lonely fit walk//Alice\n")
	require.NoError(t, err)
	c, err := ledger.SigningIdentity("bottom drive obey lake curtain smoke basket hold race lonely fit walk//Bob")
	require.NoError(t, err)

	assert.Equal(t, a.Account(), b.Account())
	assert.NotEqual(t, a.Account(), c.Account())
	assert.True(t, strings.HasPrefix(a.Account().String(), "0x"))
	assert.Len(t, a.Account().String(), 66)
}

func TestSigningIdentityRequiresSecret(t *testing.T) {
	_, err := ledger.SigningIdentity("   ")
	assert.Error(t, err)

	_, err = ledger.SigningIdentity("0x" + strings.Repeat("zz", 32))
	assert.Error(t, err)
}

func TestSignAndVerify(t *testing.T) {
	kp, err := ledger.SigningIdentity(devSeed)
	require.NoError(t, err)

	call := ledger.Call{Name: ledger.CallVerifyMany, Hashes: []id.Hash{{1}, {2}}, VerifierIndex: 3}
	signed, err := kp.Sign(call, 7)
	require.NoError(t, err)

	assert.Equal(t, kp.Account(), signed.Signer)
	assert.Equal(t, uint64(7), signed.Nonce)
	require.NoError(t, ledger.VerifySignature(signed))

	t.Run("nonce is covered by the signature", func(t *testing.T) {
		tampered := signed
		tampered.Nonce = 8
		assert.ErrorIs(t, ledger.VerifySignature(tampered), ledger.ErrBadSignature)
	})

	t.Run("call name is covered by the signature", func(t *testing.T) {
		tampered := signed
		tampered.Call.Name = ledger.CallDenyMany
		assert.ErrorIs(t, ledger.VerifySignature(tampered), ledger.ErrBadSignature)
	})

	t.Run("unknown signer", func(t *testing.T) {
		tampered := signed
		tampered.Signer = "alice"
		assert.Error(t, ledger.VerifySignature(tampered))
	})
}

func TestCallEncode(t *testing.T) {
	call := ledger.Call{Name: ledger.CallDenyMany, Hashes: []id.Hash{{0xff}}, VerifierIndex: 1}
	enc := call.Encode()

	// "denyMany" (len 8 -> 0x20) + 8 bytes, compact(1) = 0x04, one hash, u32 index
	require.Len(t, enc, 1+8+1+32+4)
	assert.Equal(t, byte(0x20), enc[0])
	assert.Equal(t, "denyMany", string(enc[1:9]))
	assert.Equal(t, byte(0x04), enc[9])
	assert.Equal(t, byte(0xff), enc[10])
	assert.Equal(t, []byte{1, 0, 0, 0}, enc[len(enc)-4:])
}

func TestCallFor(t *testing.T) {
	assert.Equal(t, ledger.CallVerifyMany, ledger.CallFor(true))
	assert.Equal(t, ledger.CallDenyMany, ledger.CallFor(false))
}

func TestRejectedErrorMatchesSentinel(t *testing.T) {
	err := &ledger.RejectedError{Reason: "bad nonce"}
	assert.ErrorIs(t, err, ledger.ErrRejected)
	assert.Contains(t, err.Error(), "bad nonce")
}
