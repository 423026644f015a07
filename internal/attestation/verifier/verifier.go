// Package verifier checks a decrypted proof against the on-ledger claim and the
// evidence document it was published in.
//
// Verification is pure: no I/O, no shared mutable state. Every rejection is encoded
// in the returned outcome, so a batch can run many verifications concurrently.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/drewstone/edgeware-watcher/internal/attestation/cipher"
	"github.com/drewstone/edgeware-watcher/internal/attestation/hasher"
	"github.com/drewstone/edgeware-watcher/internal/attestation/models"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

// DefaultIdentityType is the attestation kind this oracle verifies.
const DefaultIdentityType = "github"

// Hasher derives identity commitments.
type Hasher interface {
	Hash(identityType, identity string) id.Hash
}

// Config holds the process-wide verification material.
type Config struct {
	// SharedKey is the passphrase claimants seal their proofs with.
	SharedKey string
	// IdentityType is the only identity type accepted.
	IdentityType string
	// Hasher defaults to the canonical hasher.
	Hasher Hasher
}

type Verifier struct {
	sharedKey    string
	identityType string
	hasher       Hasher
	logger       *slog.Logger
}

type Option func(*Verifier)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

func New(cfg Config, opts ...Option) (*Verifier, error) {
	if cfg.SharedKey == "" {
		return nil, fmt.Errorf("shared key is required")
	}
	if cfg.IdentityType == "" {
		cfg.IdentityType = DefaultIdentityType
	}
	if cfg.Hasher == nil {
		cfg.Hasher = hasher.New()
	}
	v := &Verifier{
		sharedKey:    cfg.SharedKey,
		identityType: cfg.IdentityType,
		hasher:       cfg.Hasher,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// IdentityType returns the configured attestation kind.
func (v *Verifier) IdentityType() string {
	return v.identityType
}

// Verify decides whether doc proves event. doc must already have passed evidence
// validation; a missing proof is still handled as malformed evidence.
func (v *Verifier) Verify(ctx context.Context, event models.IdentityEvent, doc *models.EvidenceDocument) models.VerificationOutcome {
	payload, ok := doc.Proof()
	if !ok {
		return models.Denied(event, models.ReasonMalformedEvidence, "document has no proof file")
	}

	proof, err := v.open(payload)
	if err != nil {
		return models.Denied(event, models.ReasonDecryptionOrParse, err.Error())
	}

	return v.check(ctx, event, doc.OwnerLogin, proof)
}

func (v *Verifier) open(payload string) (*models.DecryptedProof, error) {
	plain, err := cipher.Decrypt(payload, v.sharedKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt proof: %w", err)
	}
	var proof models.DecryptedProof
	if err := json.Unmarshal(plain, &proof); err != nil {
		return nil, fmt.Errorf("parse proof: %w", err)
	}
	return &proof, nil
}

// check applies the invariants in order; the first violation decides the outcome.
//  1. Identity type is the configured kind
//  2. Identity is the document owner, not whatever the payload claims
//  3. Sender is the account that registered the claim
//  4. Identity hash equals the commitment recomputed from the document owner
func (v *Verifier) check(ctx context.Context, event models.IdentityEvent, owner string, proof *models.DecryptedProof) models.VerificationOutcome {
	if proof.IdentityType != v.identityType {
		if proof.IdentityType == string(hasher.EncodeText(v.identityType)) {
			v.logger.WarnContext(ctx, "proof identity type carries a length prefix; claimant encoder likely double-encodes",
				"identity_hash", event.IdentityHash.String(),
				"attestation", event.Attestation.String(),
			)
		}
		return models.Denied(event, models.ReasonInvalidIdentityType,
			fmt.Sprintf("invalid identity type: %q", proof.IdentityType))
	}

	if proof.Identity != owner {
		return models.Denied(event, models.ReasonInvalidIdentity,
			fmt.Sprintf("invalid identity: %s != %s", proof.Identity, owner))
	}

	if proof.Sender != event.Sender {
		return models.Denied(event, models.ReasonInvalidSender,
			fmt.Sprintf("invalid sender: %s != %s", proof.Sender, event.Sender))
	}

	expected := v.hasher.Hash(v.identityType, owner)
	claimed, err := id.ParseHash(proof.IdentityHash)
	if err != nil || claimed != expected {
		return models.Denied(event, models.ReasonInvalidIdentityHash,
			fmt.Sprintf("invalid identity hash: %s != %s", proof.IdentityHash, expected))
	}

	return models.Approved(event)
}
