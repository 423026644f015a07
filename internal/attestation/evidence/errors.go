package evidence

import (
	"errors"
	"fmt"

	"github.com/drewstone/edgeware-watcher/internal/attestation/models"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

// Kind separates retrieval failures from documents that were retrieved but are not
// acceptable evidence. Every kind settles as a deny.
type Kind string

const (
	KindFetch                Kind = "fetch_error"
	KindMalformed            Kind = "malformed_evidence"
	KindWrongAttestationKind Kind = "wrong_attestation_kind"
)

// Category refines fetch failures.
type Category string

const (
	CategoryNone        Category = ""
	CategoryTimeout     Category = "timeout"
	CategoryOutage      Category = "provider_outage"
	CategoryNotFound    Category = "not_found"
	CategoryRateLimited Category = "rate_limited"
	CategoryBadStatus   Category = "bad_status"
	CategoryBadBody     Category = "bad_body"
)

// Error describes why evidence for a reference could not be used.
type Error struct {
	Kind       Kind
	Category   Category
	Reference  id.EvidenceReference
	Message    string
	Raw        []byte // response body for malformed documents
	Underlying error
	Retryable  bool
}

func (e *Error) Error() string {
	label := string(e.Kind)
	if e.Category != CategoryNone {
		label += "/" + string(e.Category)
	}
	if e.Underlying != nil {
		return fmt.Sprintf("evidence %s [%s]: %s: %v", e.Reference, label, e.Message, e.Underlying)
	}
	return fmt.Sprintf("evidence %s [%s]: %s", e.Reference, label, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewFetchError creates a retrieval failure. Timeouts, outages and rate limits are
// worth retrying on a later run.
func NewFetchError(category Category, ref id.EvidenceReference, msg string, underlying error) *Error {
	return &Error{
		Kind:       KindFetch,
		Category:   category,
		Reference:  ref,
		Message:    msg,
		Underlying: underlying,
		Retryable: category == CategoryTimeout ||
			category == CategoryOutage ||
			category == CategoryRateLimited,
	}
}

// NewMalformedError reports a document whose shape is not acceptable. raw is kept for
// diagnostics.
func NewMalformedError(ref id.EvidenceReference, msg string, raw []byte) *Error {
	return &Error{Kind: KindMalformed, Reference: ref, Message: msg, Raw: raw}
}

// NewWrongKindError reports a document that is not an identity attestation.
func NewWrongKindError(ref id.EvidenceReference, description string) *Error {
	return &Error{
		Kind:      KindWrongAttestationKind,
		Reference: ref,
		Message:   fmt.Sprintf("incorrect attestation description: %q", description),
	}
}

// IsRetryable reports whether a later run could plausibly succeed.
func IsRetryable(err error) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}

// KindOf returns the kind of an evidence error, or KindFetch for anything else.
func KindOf(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindFetch
}

// ReasonOf maps an evidence error to the outcome reason it settles with.
func ReasonOf(err error) models.Reason {
	switch KindOf(err) {
	case KindMalformed:
		return models.ReasonMalformedEvidence
	case KindWrongAttestationKind:
		return models.ReasonWrongAttestationKind
	default:
		return models.ReasonFetchError
	}
}
