// Package ledger defines what the oracle needs from the identity ledger: account
// nonces, signed call submission and finalization. Implementations live in
// subpackages (memory for tests and dev mode, rpc for a real gateway).
package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/drewstone/edgeware-watcher/internal/attestation/hasher"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

//go:generate mockgen -source=ledger.go -destination=mocks/client_mock.go -package=mocks

// CallName is the identity module dispatchable a settlement invokes.
type CallName string

const (
	CallVerifyMany CallName = "verifyMany"
	CallDenyMany   CallName = "denyMany"
)

// CallFor returns verifyMany when approve is set and denyMany otherwise.
func CallFor(approve bool) CallName {
	if approve {
		return CallVerifyMany
	}
	return CallDenyMany
}

// Call is one batched settlement.
type Call struct {
	Name          CallName  `json:"name"`
	Hashes        []id.Hash `json:"hashes"`
	VerifierIndex uint32    `json:"verifierIndex"`
}

// Encode returns the canonical bytes of the call: the name and the hash list as
// length-prefixed sequences, then the verifier index as a little-endian u32.
func (c Call) Encode() []byte {
	buf := make([]byte, 0, len(c.Name)+len(c.Hashes)*id.HashSize+16)
	buf = hasher.AppendText(buf, string(c.Name))
	buf = hasher.AppendCompact(buf, uint64(len(c.Hashes)))
	for _, h := range c.Hashes {
		buf = append(buf, h[:]...)
	}
	return binary.LittleEndian.AppendUint32(buf, c.VerifierIndex)
}

// SignedCall is a call bound to a signer and nonce.
type SignedCall struct {
	Call      Call         `json:"call"`
	Signer    id.AccountID `json:"signer"`
	Nonce     uint64       `json:"nonce"`
	Signature []byte       `json:"signature"`
}

// SigningPayload is the message a signer signs: the encoded call followed by the
// nonce as a little-endian u64.
func SigningPayload(call Call, nonce uint64) []byte {
	return binary.LittleEndian.AppendUint64(call.Encode(), nonce)
}

// TxHash identifies the signed call.
func (s SignedCall) TxHash() id.Hash {
	buf := SigningPayload(s.Call, s.Nonce)
	buf = append(buf, s.Signature...)
	return id.Hash(blake2b.Sum256(buf))
}

// Status tracks a submitted call. Finalized is the only successful terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusBroadcast Status = "broadcast"
	StatusFinalized Status = "finalized"
	StatusRejected  Status = "rejected"
	// StatusTimedOut means the wait ended before a terminal state was observed. The
	// call may still finalize later.
	StatusTimedOut Status = "timed_out"
)

// IsTerminal reports whether the ledger will not change the status any further.
func (s Status) IsTerminal() bool {
	return s == StatusFinalized || s == StatusRejected
}

// Event is a ledger event emitted while applying a call.
type Event struct {
	Phase   string   `json:"phase"`
	Section string   `json:"section"`
	Method  string   `json:"method"`
	Data    []string `json:"data"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s: %s.%s %v", e.Phase, e.Section, e.Method, e.Data)
}

// Receipt describes a finalized call.
type Receipt struct {
	TxHash      id.Hash `json:"txHash"`
	BlockHash   id.Hash `json:"blockHash"`
	BlockNumber uint64  `json:"blockNumber"`
	Status      Status  `json:"status"`
	Events      []Event `json:"events"`
}

// ErrRejected is returned by Pending.Await when the ledger refused the call.
var ErrRejected = errors.New("transaction rejected")

// RejectedError carries the ledger's reason for refusing a call.
type RejectedError struct {
	TxHash id.Hash
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transaction %s rejected: %s", e.TxHash, e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Client is the ledger capability the settlement submitter depends on.
type Client interface {
	// AccountNonce returns the next nonce the ledger will accept from account.
	AccountNonce(ctx context.Context, account id.AccountID) (uint64, error)
	// Submit broadcasts a signed call. A returned error means it was not accepted
	// for inclusion.
	Submit(ctx context.Context, call SignedCall) (Pending, error)
}

// Pending is a broadcast call awaiting a terminal status.
type Pending interface {
	TxHash() id.Hash
	// Await blocks until the call is finalized or rejected, or ctx ends. A
	// rejection is returned as an error matching ErrRejected.
	Await(ctx context.Context) (*Receipt, error)
}

// Signer signs calls for one account.
type Signer interface {
	Account() id.AccountID
	Sign(call Call, nonce uint64) (SignedCall, error)
}
