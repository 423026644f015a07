package domain

import (
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/google/uuid"

	dErrors "github.com/drewstone/edgeware-watcher/pkg/domain-errors"
)

// HashSize is the byte length of ledger hashes (BLAKE2b-256).
const HashSize = 32

const maxReferenceLength = 128

// Hash is a 32-byte ledger hash. Its text form is 0x-prefixed lowercase hex.
type Hash [HashSize]byte

// ParseHash parses a 0x-prefixed (or bare) 64-character hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != HashSize*2 {
		return h, dErrors.New(dErrors.CodeInvalidInput, "hash must be 32 bytes of hex")
	}
	if _, err := hex.Decode(h[:], []byte(raw)); err != nil {
		return h, dErrors.New(dErrors.CodeInvalidInput, "hash must be 32 bytes of hex")
	}
	return h, nil
}

// HashFromBytes copies b into a Hash. b must be exactly HashSize bytes.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, dErrors.New(dErrors.CodeInvalidInput, "hash must be 32 bytes")
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// AccountID identifies a ledger account. The encoding belongs to the ledger, so the
// oracle treats it as an opaque, exact-match string.
type AccountID string

func ParseAccountID(s string) (AccountID, error) {
	if strings.TrimSpace(s) == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "account id cannot be empty")
	}
	return AccountID(s), nil
}

func (a AccountID) String() string {
	return string(a)
}

func (a AccountID) IsNil() bool {
	return a == ""
}

// EvidenceReference points at an externally hosted evidence document (a gist id).
// It is interpolated into a URL path, so separators and whitespace are rejected.
type EvidenceReference string

func ParseEvidenceReference(s string) (EvidenceReference, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "evidence reference cannot be empty")
	}
	if len(s) > maxReferenceLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "evidence reference is too long")
	}
	for _, r := range s {
		if r == '/' || r == '\\' || r == '?' || r == '#' || r == '%' || r == '.' ||
			unicode.IsSpace(r) || !unicode.IsPrint(r) || r > unicode.MaxASCII {
			return "", dErrors.New(dErrors.CodeInvalidInput, "evidence reference contains invalid characters")
		}
	}
	return EvidenceReference(s), nil
}

func (r EvidenceReference) String() string {
	return string(r)
}

// RunID correlates all log lines and audit rows of one pipeline run.
type RunID uuid.UUID

func NewRunID() RunID {
	return RunID(uuid.New())
}

func ParseRunID(s string) (RunID, error) {
	parsed, err := uuid.Parse(s)
	if err != nil || parsed == uuid.Nil {
		return RunID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid run id")
	}
	return RunID(parsed), nil
}

func (r RunID) String() string {
	return uuid.UUID(r).String()
}

func (r RunID) IsNil() bool {
	return uuid.UUID(r) == uuid.Nil
}
