// Package evidence retrieves and shape-checks externally hosted attestation documents.
//
// Retrieval is split from interpretation: a RawSource returns response bodies (the
// gist API client, optionally behind a cache), and Fetcher turns a body into an
// EvidenceDocument and applies the acceptance rules.
package evidence

import (
	"context"

	"github.com/drewstone/edgeware-watcher/internal/attestation/models"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

//go:generate mockgen -source=source.go -destination=mocks/source_mock.go -package=mocks

// Source returns an acceptable evidence document for a reference, or an *Error.
type Source interface {
	Fetch(ctx context.Context, ref id.EvidenceReference) (*models.EvidenceDocument, error)
}

// RawSource returns the raw document body for a reference.
type RawSource interface {
	Get(ctx context.Context, ref id.EvidenceReference) ([]byte, error)
}
