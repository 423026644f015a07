// Package memory is an in-process identity ledger. It enforces what a real ledger
// enforces for settlement calls (signature, exact nonce, verifier authority) and
// applies them to identity records, so tests and dev mode can observe the effect.
package memory

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/drewstone/edgeware-watcher/internal/attestation/hasher"
	"github.com/drewstone/edgeware-watcher/internal/attestation/models"
	"github.com/drewstone/edgeware-watcher/internal/ledger"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
	"github.com/drewstone/edgeware-watcher/pkg/platform/sentinel"
)

const defaultIdentityTTL = 7 * 24 * time.Hour

type Ledger struct {
	mu            sync.Mutex
	nonces        map[id.AccountID]uint64
	records       map[id.Hash]*ledger.IdentityRecord
	order         []id.Hash
	verifiers     map[uint32]id.AccountID
	submitted     []ledger.SignedCall
	blockNumber   uint64
	parent        id.Hash
	finalizeDelay time.Duration
	now           func() time.Time
}

type Option func(*Ledger)

// WithVerifier authorizes account to settle calls under index.
func WithVerifier(index uint32, account id.AccountID) Option {
	return func(l *Ledger) {
		l.verifiers[index] = account
	}
}

// WithFinalizationDelay makes Await block for d before reporting finalization.
func WithFinalizationDelay(d time.Duration) Option {
	return func(l *Ledger) {
		l.finalizeDelay = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		nonces:    make(map[id.AccountID]uint64),
		records:   make(map[id.Hash]*ledger.IdentityRecord),
		verifiers: make(map[uint32]id.AccountID),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register creates a registered identity record and returns its hash.
func (l *Ledger) Register(account id.AccountID, identityType, identity string) id.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()

	h := hasher.Hash(identityType, identity)
	if _, ok := l.records[h]; !ok {
		l.order = append(l.order, h)
	}
	l.records[h] = &ledger.IdentityRecord{
		Hash:           h,
		Account:        account,
		IdentityType:   identityType,
		Identity:       identity,
		Stage:          ledger.StageRegistered,
		ExpirationTime: l.now().Add(defaultIdentityTTL),
	}
	return h
}

// Attest attaches an evidence reference to a registered record, making it pending.
func (l *Ledger) Attest(h id.Hash, ref id.EvidenceReference) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[h]
	if !ok {
		return fmt.Errorf("identity %s: %w", h, sentinel.ErrNotFound)
	}
	if rec.Stage != ledger.StageRegistered {
		return fmt.Errorf("identity %s is %s, not registered: %w", h, rec.Stage, sentinel.ErrInvalidState)
	}
	rec.Stage = ledger.StageAttested
	rec.Proof = ref
	return nil
}

// PendingEvents lists attested, unexpired records as identity events, in
// registration order.
func (l *Ledger) PendingEvents() []models.IdentityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var events []models.IdentityEvent
	for _, h := range l.order {
		rec, ok := l.records[h]
		if !ok || rec.Stage != ledger.StageAttested || now.After(rec.ExpirationTime) {
			continue
		}
		events = append(events, models.IdentityEvent{
			IdentityHash: rec.Hash,
			Sender:       rec.Account,
			Attestation:  rec.Proof,
		})
	}
	return events
}

// Record returns a copy of the record for h.
func (l *Ledger) Record(h id.Hash) (ledger.IdentityRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[h]
	if !ok {
		return ledger.IdentityRecord{}, false
	}
	return *rec, true
}

// Submitted returns every accepted signed call, in inclusion order.
func (l *Ledger) Submitted() []ledger.SignedCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.SignedCall(nil), l.submitted...)
}

func (l *Ledger) AccountNonce(ctx context.Context, account id.AccountID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nonces[account], nil
}

// Submit includes call in a new block. Bad signatures and nonces other than the
// signer's next nonce are refused outright; a call from an account that does not
// hold the verifier index is included, consumes the nonce, and is rejected.
func (l *Ledger) Submit(ctx context.Context, call ledger.SignedCall) (ledger.Pending, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ledger.VerifySignature(call); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if want := l.nonces[call.Signer]; call.Nonce != want {
		return nil, fmt.Errorf("submit: stale nonce %d, account %s expects %d: %w", call.Nonce, call.Signer, want, sentinel.ErrConflict)
	}
	l.nonces[call.Signer]++
	l.submitted = append(l.submitted, call)

	txHash := call.TxHash()
	receipt := &ledger.Receipt{
		TxHash:      txHash,
		BlockNumber: l.blockNumber + 1,
		BlockHash:   l.nextBlockHash(txHash),
	}

	var rejectReason string
	if l.verifiers[call.Call.VerifierIndex] != call.Signer {
		rejectReason = fmt.Sprintf("account %s is not verifier %d", call.Signer, call.Call.VerifierIndex)
		receipt.Status = ledger.StatusRejected
		receipt.Events = []ledger.Event{{Phase: "ApplyExtrinsic(0)", Section: "system", Method: "ExtrinsicFailed", Data: []string{rejectReason}}}
	} else {
		receipt.Status = ledger.StatusFinalized
		receipt.Events = append(l.apply(call.Call), ledger.Event{Phase: "ApplyExtrinsic(0)", Section: "system", Method: "ExtrinsicSuccess"})
	}

	return &pending{receipt: receipt, delay: l.finalizeDelay, rejectReason: rejectReason}, nil
}

// apply must be called with l.mu held.
func (l *Ledger) apply(call ledger.Call) []ledger.Event {
	var events []ledger.Event
	index := fmt.Sprintf("%d", call.VerifierIndex)
	for _, h := range call.Hashes {
		rec, ok := l.records[h]
		if !ok || rec.Stage != ledger.StageAttested {
			continue
		}
		switch call.Name {
		case ledger.CallVerifyMany:
			rec.Stage = ledger.StageVerified
			events = append(events, ledger.Event{Phase: "ApplyExtrinsic(0)", Section: "identity", Method: "Verify", Data: []string{h.String(), index}})
		case ledger.CallDenyMany:
			delete(l.records, h)
			events = append(events, ledger.Event{Phase: "ApplyExtrinsic(0)", Section: "identity", Method: "Denied", Data: []string{h.String(), index}})
		}
	}
	return events
}

// nextBlockHash must be called with l.mu held.
func (l *Ledger) nextBlockHash(txHash id.Hash) id.Hash {
	l.blockNumber++
	buf := make([]byte, 0, 2*id.HashSize+8)
	buf = append(buf, l.parent[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, l.blockNumber)
	buf = append(buf, txHash[:]...)
	l.parent = id.Hash(blake2b.Sum256(buf))
	return l.parent
}

type pending struct {
	receipt      *ledger.Receipt
	delay        time.Duration
	rejectReason string
}

func (p *pending) TxHash() id.Hash {
	return p.receipt.TxHash
}

func (p *pending) Await(ctx context.Context) (*ledger.Receipt, error) {
	if p.delay > 0 {
		timer := time.NewTimer(p.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if p.rejectReason != "" {
		return p.receipt, &ledger.RejectedError{TxHash: p.receipt.TxHash, Reason: p.rejectReason}
	}
	return p.receipt, nil
}

var _ ledger.Client = (*Ledger)(nil)
