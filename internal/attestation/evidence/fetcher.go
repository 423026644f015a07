package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/drewstone/edgeware-watcher/internal/attestation/models"
	"github.com/drewstone/edgeware-watcher/internal/platform/metrics"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

// DefaultAttestationDescription is the description claimants must give their gist.
const DefaultAttestationDescription = "Edgeware Identity Attestation"

const defaultFetchTimeout = 10 * time.Second

// Fetcher implements Source on top of a RawSource.
type Fetcher struct {
	raw                 RawSource
	expectedDescription string
	timeout             time.Duration
	logger              *slog.Logger
	metrics             *metrics.Metrics
}

type Option func(*Fetcher)

// WithTimeout bounds a single retrieval, including any cache lookup.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithExpectedDescription overrides DefaultAttestationDescription.
func WithExpectedDescription(description string) Option {
	return func(f *Fetcher) {
		f.expectedDescription = description
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

func NewFetcher(raw RawSource, opts ...Option) (*Fetcher, error) {
	if raw == nil {
		return nil, fmt.Errorf("raw evidence source is required")
	}
	f := &Fetcher{
		raw:                 raw,
		expectedDescription: DefaultAttestationDescription,
		timeout:             defaultFetchTimeout,
		logger:              slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.expectedDescription == "" {
		return nil, fmt.Errorf("expected attestation description is required")
	}
	return f, nil
}

// Fetch retrieves, parses and validates the document for ref.
func (f *Fetcher) Fetch(ctx context.Context, ref id.EvidenceReference) (*models.EvidenceDocument, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	raw, err := f.raw.Get(fetchCtx, ref)
	if err != nil {
		f.metrics.ObserveFetch("error", time.Since(start))
		return nil, normalizeFetchError(fetchCtx, ref, err)
	}
	f.metrics.ObserveFetch("ok", time.Since(start))

	doc, err := ParseDocument(ref, raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateDocument(ref, doc, f.expectedDescription); err != nil {
		f.logger.DebugContext(ctx, "evidence document rejected",
			"attestation", ref.String(),
			"error", err,
		)
		return nil, err
	}
	return doc, nil
}

func normalizeFetchError(ctx context.Context, ref id.EvidenceReference, err error) error {
	var ee *Error
	if errors.As(err, &ee) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewFetchError(CategoryTimeout, ref, "evidence retrieval timed out", err)
	}
	return NewFetchError(CategoryOutage, ref, "evidence retrieval failed", err)
}
