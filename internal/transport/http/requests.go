package httptransport

import (
	"fmt"

	"github.com/drewstone/edgeware-watcher/internal/attestation/models"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
	dErrors "github.com/drewstone/edgeware-watcher/pkg/domain-errors"
)

const maxEventsPerRequest = 1000

// IdentityEventsRequest is the body of POST /v1/identity-events.
type IdentityEventsRequest struct {
	Events []IdentityEventRequest `json:"events"`

	parsed []models.IdentityEvent
}

type IdentityEventRequest struct {
	IdentityHash string `json:"identityHash"`
	Sender       string `json:"sender"`
	Attestation  string `json:"attestation"`
}

// Validate parses every event. The evidence reference is passed through
// unchecked; an unusable one is denied by the pipeline rather than rejected here.
func (r *IdentityEventsRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Events) > maxEventsPerRequest {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("at most %d events per request", maxEventsPerRequest))
	}

	r.parsed = make([]models.IdentityEvent, 0, len(r.Events))
	for i, e := range r.Events {
		hash, err := id.ParseHash(e.IdentityHash)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("events[%d].identityHash is invalid", i))
		}
		sender, err := id.ParseAccountID(e.Sender)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("events[%d].sender is invalid", i))
		}
		r.parsed = append(r.parsed, models.IdentityEvent{
			IdentityHash: hash,
			Sender:       sender,
			Attestation:  id.EvidenceReference(e.Attestation),
		})
	}
	return nil
}

// ParsedEvents returns the validated events.
func (r *IdentityEventsRequest) ParsedEvents() []models.IdentityEvent {
	return r.parsed
}
