// Package audit journals what the oracle decided and what it settled, so every
// approve or deny can be traced back to the run, evidence and transaction behind it.
package audit

import (
	"context"
	"time"

	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

// Kind separates per-claim outcomes from per-call settlement records.
type Kind string

const (
	KindOutcome    Kind = "outcome"
	KindSettlement Kind = "settlement"
)

// Event is one journal entry. Outcome events fill the claim fields; settlement
// events fill the call fields.
type Event struct {
	RunID     id.RunID
	Kind      Kind
	Timestamp time.Time

	IdentityHash id.Hash
	Sender       id.AccountID
	Attestation  id.EvidenceReference
	Decision     string
	Reason       string
	Detail       string

	Call      string
	Hashes    []id.Hash
	Nonce     uint64
	Status    string
	TxHash    id.Hash
	BlockHash id.Hash
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByRun(ctx context.Context, runID id.RunID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// BatchStore is a Store that can write several events atomically.
type BatchStore interface {
	Store
	AppendBatch(ctx context.Context, events []Event) error
}
