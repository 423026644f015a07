// Package models holds the value types that flow through the attestation pipeline.
package models

import (
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

// IdentityEvent is a pending on-ledger identity claim. The ledger creates it; the
// pipeline only reads it.
type IdentityEvent struct {
	IdentityHash id.Hash              `json:"identityHash"`
	Sender       id.AccountID         `json:"sender"`
	Attestation  id.EvidenceReference `json:"attestation"`
}

// EvidenceDocument is the externally hosted proof a claimant publishes. Files maps a
// file name to its content; a nil entry means the file was declared without content.
type EvidenceDocument struct {
	Description string
	OwnerLogin  string
	Files       map[string]*string
	// Raw is the unparsed body, kept for diagnostics on malformed documents.
	Raw []byte
}

// ProofFile is the name of the file holding the encrypted payload.
const ProofFile = "proof"

// Proof returns the encrypted proof payload, if the document declares one with content.
func (d *EvidenceDocument) Proof() (string, bool) {
	if d == nil || d.Files == nil {
		return "", false
	}
	content, ok := d.Files[ProofFile]
	if !ok || content == nil {
		return "", false
	}
	return *content, true
}

// DecryptedProof is the claimant's sealed statement after decryption. It is untrusted
// until every invariant holds.
type DecryptedProof struct {
	IdentityType string       `json:"identityType"`
	Identity     string       `json:"identity"`
	Sender       id.AccountID `json:"sender"`
	IdentityHash string       `json:"identityHash"`
}

// Reason classifies why a verification failed. Empty on success.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonFetchError           Reason = "fetch_error"
	ReasonMalformedEvidence    Reason = "malformed_evidence"
	ReasonWrongAttestationKind Reason = "wrong_attestation_kind"
	ReasonDecryptionOrParse    Reason = "decryption_or_parse_error"
	ReasonInvalidIdentityType  Reason = "invalid_identity_type"
	ReasonInvalidIdentity      Reason = "invalid_identity"
	ReasonInvalidSender        Reason = "invalid_sender"
	ReasonInvalidIdentityHash  Reason = "invalid_identity_hash"
)

// Decision is the settlement direction for an outcome.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// VerificationOutcome is produced once per input event and never mutated afterwards.
type VerificationOutcome struct {
	Success      bool
	Event        IdentityEvent
	IdentityHash id.Hash
	Reason       Reason
	Error        string
}

// Decision maps the outcome to its settlement direction.
func (o VerificationOutcome) Decision() Decision {
	if o.Success {
		return DecisionApprove
	}
	return DecisionDeny
}

// Approved builds a successful outcome for event.
func Approved(event IdentityEvent) VerificationOutcome {
	return VerificationOutcome{
		Success:      true,
		Event:        event,
		IdentityHash: event.IdentityHash,
	}
}

// Denied builds a failed outcome for event with the given reason and message.
func Denied(event IdentityEvent, reason Reason, msg string) VerificationOutcome {
	return VerificationOutcome{
		Success:      false,
		Event:        event,
		IdentityHash: event.IdentityHash,
		Reason:       reason,
		Error:        msg,
	}
}

// Partition is the approve/deny split of one batch, in input order.
type Partition struct {
	Approve []id.Hash
	Deny    []id.Hash
}

// Size is the number of hashes across both sides.
func (p Partition) Size() int {
	return len(p.Approve) + len(p.Deny)
}

// Result is everything the aggregator learned about a batch.
type Result struct {
	Outcomes []VerificationOutcome
}

// Partition splits outcomes by decision, preserving outcome order.
func (r Result) Partition() Partition {
	var p Partition
	for _, o := range r.Outcomes {
		if o.Success {
			p.Approve = append(p.Approve, o.IdentityHash)
		} else {
			p.Deny = append(p.Deny, o.IdentityHash)
		}
	}
	return p
}
