// Package hasher derives the identity commitment that binds an off-ledger identity to
// its on-ledger claim.
//
// The digest is BLAKE2b-256 over the ledger's Text encoding of each field: a SCALE
// compact length prefix followed by the UTF-8 bytes. The length prefix is what keeps
// ("ab","c") and ("a","bc") apart, and it makes the result equal to the commitment the
// ledger computes for the same pair.
package hasher

import (
	"encoding/binary"
	"math/bits"

	"golang.org/x/crypto/blake2b"

	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

// CanonicalHasher computes identity commitments. The zero value is ready to use.
type CanonicalHasher struct{}

// New returns a CanonicalHasher.
func New() CanonicalHasher {
	return CanonicalHasher{}
}

// Hash returns the commitment for (identityType, identity).
func (CanonicalHasher) Hash(identityType, identity string) id.Hash {
	return Hash(identityType, identity)
}

// Hash returns the commitment for (identityType, identity).
func Hash(identityType, identity string) id.Hash {
	buf := make([]byte, 0, len(identityType)+len(identity)+10)
	buf = AppendText(buf, identityType)
	buf = AppendText(buf, identity)
	return id.Hash(blake2b.Sum256(buf))
}

// AppendText appends the length-prefixed encoding of s to dst.
func AppendText(dst []byte, s string) []byte {
	dst = AppendCompact(dst, uint64(len(s)))
	return append(dst, s...)
}

// EncodeText returns the length-prefixed encoding of s.
func EncodeText(s string) []byte {
	return AppendText(nil, s)
}

// AppendCompact appends the SCALE compact encoding of n to dst.
func AppendCompact(dst []byte, n uint64) []byte {
	switch {
	case n < 1<<6:
		return append(dst, byte(n<<2))
	case n < 1<<14:
		return binary.LittleEndian.AppendUint16(dst, uint16(n<<2)|0b01)
	case n < 1<<30:
		return binary.LittleEndian.AppendUint32(dst, uint32(n<<2)|0b10)
	default:
		size := (bits.Len64(n) + 7) / 8
		if size < 4 {
			size = 4
		}
		dst = append(dst, byte((size-4)<<2)|0b11)
		for i := 0; i < size; i++ {
			dst = append(dst, byte(n>>(8*i)))
		}
		return dst
	}
}
